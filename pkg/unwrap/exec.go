package unwrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/errs"
	"phasetiler/pkg/raster"
)

// Exec delegates unwrapping to an external program. The block is written as
// a little-endian float64 flat binary file, the command is run, and the
// result is read back from the output file the command produced.
//
// Command arguments may contain the placeholders {in}, {out}, {quality},
// {rows} and {cols}. When the command references {quality} but no quality
// block is given, a file of ones is supplied.
type Exec struct {
	Command []string
	Timeout time.Duration
	Period  float64
}

func (e *Exec) Name() string { return "exec" }

func (e *Exec) Unwrap(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error) {
	if err := checkInput(e.Name(), wrapped, quality); err != nil {
		return nil, err
	}
	r, c := wrapped.Dims()

	dir, err := os.MkdirTemp("", "phasetiler-unwrap-")
	if err != nil {
		return nil, e.fail("creating work directory", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "wrapped.f8")
	outPath := filepath.Join(dir, "unwrapped.f8")
	qualPath := filepath.Join(dir, "quality.f8")

	if err := raster.WriteFile(inPath, wrapped, raster.Float64); err != nil {
		return nil, e.fail("writing input", err)
	}
	if e.uses("{quality}") {
		q := quality
		if q == nil {
			q = mat.NewDense(r, c, nil)
			q.Apply(func(_, _ int, _ float64) float64 { return 1 }, q)
		}
		if err := raster.WriteFile(qualPath, q, raster.Float64); err != nil {
			return nil, e.fail("writing quality", err)
		}
	}

	repl := strings.NewReplacer(
		"{in}", inPath,
		"{out}", outPath,
		"{quality}", qualPath,
		"{rows}", strconv.Itoa(r),
		"{cols}", strconv.Itoa(c),
	)
	args := make([]string, len(e.Command))
	for i, a := range e.Command {
		args[i] = repl.Replace(a)
	}

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		// Cancellation by the caller is not an unwrapping failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, e.fail(fmt.Sprintf("%s timed out after %s", args[0], e.Timeout), err)
		}
		return nil, e.fail(fmt.Sprintf("%s failed: %s", args[0], tail(output, 512)), err)
	}

	res, err := raster.OpenBinary(outPath, r, c, raster.Float64, false)
	if err != nil {
		return nil, e.fail("reading output", err)
	}
	defer res.Close()
	out, err := raster.ReadAll(res)
	if err != nil {
		return nil, e.fail("reading output", err)
	}

	Congruent(wrapped, out, e.Period)
	return &Result{Phase: out}, nil
}

func (e *Exec) uses(placeholder string) bool {
	for _, a := range e.Command {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

func (e *Exec) fail(reason string, err error) error {
	return &errs.UnwrapError{Algorithm: e.Name(), Reason: reason, Err: err}
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
