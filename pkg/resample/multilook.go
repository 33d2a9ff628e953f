// Package resample moves raster blocks between resolutions: block averaging
// (multilook), anti-alias filter design and spectral or nearest-neighbour
// upsampling.
package resample

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"phasetiler/internal/monitoring"
	"phasetiler/pkg/errs"
)

// AveragingMode selects how complex samples are combined by MultilookComplex.
type AveragingMode int

const (
	// AverageComplex averages real and imaginary parts directly.
	AverageComplex AveragingMode = iota
	// AverageMagnitudePhase averages magnitudes and unit phasors separately.
	AverageMagnitudePhase
)

func (a AveragingMode) String() string {
	switch a {
	case AverageComplex:
		return "complex"
	case AverageMagnitudePhase:
		return "magnitude-phase"
	}
	return fmt.Sprintf("AveragingMode(%d)", int(a))
}

// checkLooks validates a rows × cols look count against a block shape.
func checkLooks(op string, r, c, rows, cols int) error {
	got := [2]int{r, c}
	if rows < 1 || cols < 1 {
		return &errs.ShapeError{Op: op, Got: got, Want: fmt.Sprintf("looks ≥ 1, got %dx%d", rows, cols)}
	}
	if rows > r || cols > c {
		return &errs.ShapeError{Op: op, Got: got, Want: fmt.Sprintf("at least %dx%d samples", rows, cols)}
	}
	if r%rows != 0 || c%cols != 0 {
		return &errs.ShapeError{Op: op, Got: got, Want: fmt.Sprintf("multiple of %dx%d", rows, cols)}
	}
	if (rows > 1 && rows%2 == 0) || (cols > 1 && cols%2 == 0) {
		if _, seen := warnedLooks.LoadOrStore([2]int{rows, cols}, true); !seen {
			monitoring.Logf("%s: even looks %dx%d shift the output by half a sample", op, rows, cols)
		}
	}
	return nil
}

// warnedLooks remembers look counts already warned about, so that strip-wise
// callers log once per run rather than once per strip.
var warnedLooks sync.Map

// Multilook averages non-overlapping rows × cols blocks of m into one sample
// each. Both dimensions of m must be exact multiples of the look counts.
func Multilook(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	r, c := m.Dims()
	if err := checkLooks("multilook", r, c, rows, cols); err != nil {
		return nil, err
	}

	or, oc := r/rows, c/cols
	out := mat.NewDense(or, oc, nil)
	n := float64(rows * cols)
	for i := 0; i < or; i++ {
		dst := out.RawRowView(i)
		for k := 0; k < rows; k++ {
			src := m.RawRowView(i*rows + k)
			for j := range dst {
				dst[j] += floats.Sum(src[j*cols : (j+1)*cols])
			}
		}
		floats.Scale(1/n, dst)
	}
	return out, nil
}

// MultilookComplex averages non-overlapping rows × cols blocks of complex
// samples. With AverageComplex the samples are summed as complex numbers,
// which keeps interferometric phase statistics consistent; the magnitude
// and phase mode is an explicit opt-in.
func MultilookComplex(m *mat.CDense, rows, cols int, mode AveragingMode) (*mat.CDense, error) {
	r, c := m.Dims()
	if err := checkLooks("multilook_complex", r, c, rows, cols); err != nil {
		return nil, err
	}

	or, oc := r/rows, c/cols
	out := mat.NewCDense(or, oc, nil)
	n := float64(rows * cols)
	for i := 0; i < or; i++ {
		for j := 0; j < oc; j++ {
			var sum, dir complex128
			var mag float64
			for k := i * rows; k < (i+1)*rows; k++ {
				for l := j * cols; l < (j+1)*cols; l++ {
					v := m.At(k, l)
					sum += v
					if a := cmplx.Abs(v); a > 0 {
						mag += a
						dir += v / complex(a, 0)
					}
				}
			}
			switch mode {
			case AverageMagnitudePhase:
				out.Set(i, j, cmplx.Rect(mag/n, cmplx.Phase(dir)))
			default:
				out.Set(i, j, sum/complex(n, 0))
			}
		}
	}
	return out, nil
}

// MultilookFiltered applies the separable anti-alias filter before
// complex multilooking. Nil taps skip filtering along that axis.
func MultilookFiltered(m *mat.CDense, rows, cols int, mode AveragingMode, rowTaps, colTaps []complex128) (*mat.CDense, error) {
	return MultilookComplex(FilterComplex(m, rowTaps, colTaps), rows, cols, mode)
}

// FilterComplex convolves m with rowTaps along each column (across rows)
// and colTaps along each row. The output has the same shape as m; samples
// beyond the edges are replicated from the nearest edge sample.
func FilterComplex(m *mat.CDense, rowTaps, colTaps []complex128) *mat.CDense {
	r, c := m.Dims()
	cur := mat.NewCDense(r, c, nil)
	cur.Copy(m)

	if len(colTaps) > 1 {
		next := mat.NewCDense(r, c, nil)
		half := (len(colTaps) - 1) / 2
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				var acc complex128
				for k, h := range colTaps {
					acc += h * cur.At(i, clamp(j-(k-half), c))
				}
				next.Set(i, j, acc)
			}
		}
		cur = next
	}
	if len(rowTaps) > 1 {
		next := mat.NewCDense(r, c, nil)
		half := (len(rowTaps) - 1) / 2
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				var acc complex128
				for k, h := range rowTaps {
					acc += h * cur.At(clamp(i-(k-half), r), j)
				}
				next.Set(i, j, acc)
			}
		}
		cur = next
	}
	return cur
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Phasors converts wrapped phase with the given wrap period to unit
// phasors scaled by weight. One period maps to one turn. A nil weight
// gives unit magnitude everywhere.
func Phasors(phase, weight *mat.Dense, period float64) *mat.CDense {
	r, c := phase.Dims()
	scale := 2 * math.Pi / period
	out := mat.NewCDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j, p := range phase.RawRowView(i) {
			w := 1.0
			if weight != nil {
				w = weight.At(i, j)
			}
			out.Set(i, j, cmplx.Rect(w, p*scale))
		}
	}
	return out
}

// Angle returns the argument of every sample of m in phase units of the
// given period, in (-period/2, period/2].
func Angle(m *mat.CDense, period float64) *mat.Dense {
	r, c := m.Dims()
	scale := period / (2 * math.Pi)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := range row {
			v := m.At(i, j)
			if v == 0 {
				row[j] = 0
				continue
			}
			row[j] = math.Atan2(imag(v), real(v)) * scale
		}
	}
	return out
}
