// Package unwrap defines the pluggable single-block phase unwrapping
// capability and its backends.
//
// Every backend maps a wrapped-phase block, and optionally a per-sample
// quality block of the same shape, to an unwrapped block in which each
// sample differs from its input by an integer number of wrap periods.
package unwrap

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
)

// Result is the output of a single unwrap call.
type Result struct {
	// Phase is the unwrapped block, same shape as the input.
	Phase *mat.Dense

	// Labels holds a connected-component id per sample in row-major order.
	// Zero marks samples that were left wrapped. Nil when the backend does
	// not label components.
	Labels []int32
}

// Unwrapper unwraps one block of wrapped phase.
type Unwrapper interface {
	// Name identifies the backend in errors and logs.
	Name() string

	// Unwrap returns the unwrapped block. quality may be nil.
	Unwrap(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error)
}

// Func adapts a plain function to the Unwrapper interface.
type Func struct {
	ID string
	F  func(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Unwrap(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error) {
	return f.F(ctx, wrapped, quality)
}

// New builds the backend called name from the unwrap options. The wrap
// period applies to every backend.
func New(name string, cfg config.Unwrap, period float64) (Unwrapper, error) {
	if period <= 0 {
		return nil, errs.Configf("processing.wrapPeriod", "must be positive, got %g", period)
	}
	switch name {
	case "path":
		return &Path{Period: period}, nil
	case "quality":
		return &Quality{Period: period, MinQuality: cfg.MinQuality}, nil
	case "exec":
		if len(cfg.Command) == 0 {
			return nil, errs.Configf("unwrap.command", "exec backend needs a command")
		}
		return &Exec{Command: cfg.Command, Timeout: cfg.Timeout, Period: period}, nil
	}
	return nil, errs.Configf("unwrap.algorithm", "unknown algorithm %q (want path, quality or exec)", name)
}

// Wrap maps x into [-period/2, period/2].
func Wrap(x, period float64) float64 {
	return x - period*math.Round(x/period)
}

// Congruent snaps every sample of unwrapped onto the nearest value that
// differs from the wrapped input by a whole number of periods.
func Congruent(wrapped, unwrapped *mat.Dense, period float64) {
	r, c := wrapped.Dims()
	for i := 0; i < r; i++ {
		w := wrapped.RawRowView(i)
		u := unwrapped.RawRowView(i)
		for j := 0; j < c; j++ {
			u[j] = w[j] + period*math.Round((u[j]-w[j])/period)
		}
	}
}

// checkInput rejects blocks a backend cannot handle.
func checkInput(algo string, wrapped, quality *mat.Dense) error {
	r, c := wrapped.Dims()
	if quality != nil {
		qr, qc := quality.Dims()
		if qr != r || qc != c {
			return &errs.UnwrapError{
				Algorithm: algo,
				Reason:    fmt.Sprintf("quality shape %dx%d does not match block %dx%d", qr, qc, r, c),
			}
		}
	}
	for i := 0; i < r; i++ {
		for j, v := range wrapped.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &errs.UnwrapError{
					Algorithm: algo,
					Reason:    fmt.Sprintf("non-finite sample at (%d,%d)", i, j),
				}
			}
		}
	}
	return nil
}
