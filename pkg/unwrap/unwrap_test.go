package unwrap

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
)

const twoPi = 2 * math.Pi

// plane returns the true and wrapped phase of a tilted plane.
func plane(rows, cols int, a, b, period float64) (*mat.Dense, *mat.Dense) {
	truth := mat.NewDense(rows, cols, nil)
	wrapped := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := a*float64(i) + b*float64(j)
			truth.Set(i, j, v)
			wrapped.Set(i, j, Wrap(v, period))
		}
	}
	return truth, wrapped
}

// checkUnwrapped verifies that got equals truth up to one constant multiple
// of the period and that every sample is congruent to the wrapped input.
func checkUnwrapped(t *testing.T, truth, wrapped, got *mat.Dense, period float64) {
	t.Helper()
	r, c := truth.Dims()
	shift := got.At(0, 0) - truth.At(0, 0)
	if math.Abs(math.Remainder(shift, period)) > 1e-9 {
		t.Errorf("Expected a whole-period shift, got %f", shift)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if d := got.At(i, j) - truth.At(i, j) - shift; math.Abs(d) > 1e-9 {
				t.Fatalf("Expected sample (%d,%d) to match the plane, off by %g", i, j, d)
			}
			k := (got.At(i, j) - wrapped.At(i, j)) / period
			if math.Abs(k-math.Round(k)) > 1e-9 {
				t.Fatalf("Expected sample (%d,%d) congruent to input, got %g periods", i, j, k)
			}
		}
	}
}

// TestWrap checks wrapping into half a period either side of zero
func TestWrap(t *testing.T) {
	if got := Wrap(0.5+3*twoPi, twoPi); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Expected 0.5, got %f", got)
	}
	if got := Wrap(-1-twoPi, twoPi); math.Abs(got+1) > 1e-12 {
		t.Errorf("Expected -1, got %f", got)
	}
	if got := Wrap(7, twoPi); math.Abs(got) > math.Pi {
		t.Errorf("Expected |Wrap(7)| <= π, got %f", got)
	}
	if got := Wrap(1.25, 1); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("Expected 0.25 for period 1, got %f", got)
	}
}

// TestPathRecoversPlane unwraps a steep plane by path integration
func TestPathRecoversPlane(t *testing.T) {
	truth, wrapped := plane(40, 50, 0.4, -0.7, twoPi)
	u, err := New("path", config.Unwrap{}, twoPi)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := u.Unwrap(context.Background(), wrapped, nil)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	checkUnwrapped(t, truth, wrapped, res.Phase, twoPi)
	if res.Labels != nil {
		t.Errorf("Expected no labels from path backend")
	}
}

// TestBackendsHonourWrapPeriod unwraps a plane wrapped to period 1
func TestBackendsHonourWrapPeriod(t *testing.T) {
	truth, wrapped := plane(20, 25, 0.07, -0.11, 1)
	for _, name := range []string{"path", "quality"} {
		u, err := New(name, config.Unwrap{}, 1)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		res, err := u.Unwrap(context.Background(), wrapped, nil)
		if err != nil {
			t.Fatalf("%s: Unwrap failed: %v", name, err)
		}
		checkUnwrapped(t, truth, wrapped, res.Phase, 1)
	}
}

// TestQualityRecoversPlane unwraps a plane by quality-guided flood fill
func TestQualityRecoversPlane(t *testing.T) {
	truth, wrapped := plane(30, 30, 0.9, 0.5, twoPi)
	u, err := New("quality", config.Unwrap{}, twoPi)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := u.Unwrap(context.Background(), wrapped, nil)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	checkUnwrapped(t, truth, wrapped, res.Phase, twoPi)

	// A connected field is a single component
	for k, l := range res.Labels {
		if l != 1 {
			t.Fatalf("Expected label 1 at %d, got %d", k, l)
		}
	}
}

// TestQualityMasksLowQualitySamples splits a block with a low-quality column
func TestQualityMasksLowQualitySamples(t *testing.T) {
	truth, wrapped := plane(10, 12, 0.3, 0.3, twoPi)
	quality := mat.NewDense(10, 12, nil)
	for i := 0; i < 10; i++ {
		for j := 0; j < 12; j++ {
			quality.Set(i, j, 1)
		}
	}
	// A full low-quality column splits the block into two components
	for i := 0; i < 10; i++ {
		quality.Set(i, 5, 0.1)
	}

	u := &Quality{Period: twoPi, MinQuality: 0.5}
	res, err := u.Unwrap(context.Background(), wrapped, quality)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}

	// Masked samples stay wrapped and unlabelled
	if l := res.Labels[3*12+5]; l != 0 {
		t.Errorf("Expected label 0 on the masked column, got %d", l)
	}
	if res.Phase.At(3, 5) != wrapped.At(3, 5) {
		t.Errorf("Expected masked sample to stay wrapped, got %f", res.Phase.At(3, 5))
	}

	// Each side of the column is its own component
	left, right := res.Labels[0], res.Labels[11]
	if left == 0 || right == 0 || left == right {
		t.Errorf("Expected two distinct components, got %d and %d", left, right)
	}

	// Within one component the field is recovered
	shift := res.Phase.At(0, 0) - truth.At(0, 0)
	if d := res.Phase.At(9, 4) - truth.At(9, 4) - shift; math.Abs(d) > 1e-9 {
		t.Errorf("Expected (9,4) to follow the plane, off by %g", d)
	}
}

// TestQualityFailsWithoutUsableSamples expects an unwrap error when no
// sample reaches the minimum quality
func TestQualityFailsWithoutUsableSamples(t *testing.T) {
	_, wrapped := plane(4, 4, 0.1, 0.1, twoPi)
	u := &Quality{Period: twoPi, MinQuality: 2}
	_, err := u.Unwrap(context.Background(), wrapped, nil)
	var unwrapErr *errs.UnwrapError
	if !errors.As(err, &unwrapErr) {
		t.Errorf("Expected UnwrapError, got %v", err)
	}
}

// TestInvalidInput rejects non-finite samples and mismatched quality
func TestInvalidInput(t *testing.T) {
	_, wrapped := plane(4, 4, 0.1, 0.1, twoPi)
	bad := mat.DenseCopyOf(wrapped)
	bad.Set(2, 2, math.NaN())

	for _, u := range []Unwrapper{&Path{Period: twoPi}, &Quality{Period: twoPi}} {
		var unwrapErr *errs.UnwrapError
		if _, err := u.Unwrap(context.Background(), bad, nil); !errors.As(err, &unwrapErr) {
			t.Errorf("%s: Expected UnwrapError for non-finite input, got %v", u.Name(), err)
		}
		if _, err := u.Unwrap(context.Background(), wrapped, mat.NewDense(3, 4, nil)); !errors.As(err, &unwrapErr) {
			t.Errorf("%s: Expected UnwrapError for quality shape, got %v", u.Name(), err)
		}
	}
}

// TestNew checks the backend registry
func TestNew(t *testing.T) {
	var cfgErr *errs.ConfigurationError
	if _, err := New("branch-cut", config.Unwrap{}, twoPi); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for unknown backend, got %v", err)
	}
	if _, err := New("exec", config.Unwrap{}, twoPi); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for exec without command, got %v", err)
	}
	if _, err := New("path", config.Unwrap{}, 0); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for zero period, got %v", err)
	}

	u, err := New("exec", config.Unwrap{Command: []string{"cp", "{in}", "{out}"}}, twoPi)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if u.Name() != "exec" {
		t.Errorf("Expected name exec, got %s", u.Name())
	}
}

// TestCongruent snaps approximate values onto the wrapped lattice
func TestCongruent(t *testing.T) {
	wrapped := mat.NewDense(1, 3, []float64{0.1, -3, 3})
	approx := mat.NewDense(1, 3, []float64{0.1 + twoPi + 0.2, -3 - 0.1, 3 - 2*twoPi + 0.4})
	Congruent(wrapped, approx, twoPi)

	want := []float64{0.1 + twoPi, -3, 3 - 2*twoPi}
	for j, w := range want {
		if math.Abs(approx.At(0, j)-w) > 1e-12 {
			t.Errorf("Expected %f at %d, got %f", w, j, approx.At(0, j))
		}
	}
}

// TestExecCopiesThroughExternalCommand uses cp as a trivial external tool
func TestExecCopiesThroughExternalCommand(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	_, wrapped := plane(6, 7, 0.2, 0.1, twoPi)
	u := &Exec{Command: []string{"cp", "{in}", "{out}"}, Timeout: 10 * time.Second, Period: twoPi}

	res, err := u.Unwrap(context.Background(), wrapped, nil)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !mat.EqualApprox(wrapped, res.Phase, 1e-12) {
		t.Errorf("Expected the copied block to equal the input")
	}
}

// TestExecReportsCommandFailure expects unwrap errors from failing tools
func TestExecReportsCommandFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	_, wrapped := plane(3, 3, 0.2, 0.1, twoPi)

	u := &Exec{Command: []string{"false"}, Period: twoPi}
	_, err := u.Unwrap(context.Background(), wrapped, nil)
	var unwrapErr *errs.UnwrapError
	if !errors.As(err, &unwrapErr) {
		t.Fatalf("Expected UnwrapError, got %v", err)
	}
	if unwrapErr.Algorithm != "exec" {
		t.Errorf("Expected algorithm exec, got %s", unwrapErr.Algorithm)
	}

	// A command that succeeds without producing the output is a failure too
	u = &Exec{Command: []string{"true", "{quality}"}, Period: twoPi}
	if _, err = u.Unwrap(context.Background(), wrapped, nil); !errors.As(err, &unwrapErr) {
		t.Errorf("Expected UnwrapError for missing output, got %v", err)
	}
}

// TestExecCancellationIsNotAnUnwrapFailure checks that a caller cancel
// surfaces as the context error, so the degrade policy does not apply
func TestExecCancellationIsNotAnUnwrapFailure(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	_, wrapped := plane(3, 3, 0.2, 0.1, twoPi)
	u := &Exec{Command: []string{"sleep", "5"}, Timeout: time.Minute, Period: twoPi}

	// Cancelled before the tool starts
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.Unwrap(ctx, wrapped, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errs.IsRecoverable(err) {
		t.Errorf("Expected cancellation not to be recoverable, got %v", err)
	}

	// Cancelled while the tool runs
	ctx, cancel = context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err = u.Unwrap(ctx, wrapped, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errs.IsRecoverable(err) {
		t.Errorf("Expected cancellation not to be recoverable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Expected the tool to be killed on cancel, took %s", elapsed)
	}

	// A timeout is still an unwrapping failure
	u.Timeout = 100 * time.Millisecond
	_, err = u.Unwrap(context.Background(), wrapped, nil)
	if !errs.IsRecoverable(err) {
		t.Errorf("Expected timeout to be an UnwrapError, got %v", err)
	}
}

// TestFuncAdapter wraps a plain function as a backend
func TestFuncAdapter(t *testing.T) {
	calls := 0
	f := Func{ID: "stub", F: func(_ context.Context, w, _ *mat.Dense) (*Result, error) {
		calls++
		return &Result{Phase: w}, nil
	}}
	var u Unwrapper = f
	if _, err := u.Unwrap(context.Background(), mat.NewDense(1, 1, nil), nil); err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if u.Name() != "stub" {
		t.Errorf("Expected name stub, got %s", u.Name())
	}
}
