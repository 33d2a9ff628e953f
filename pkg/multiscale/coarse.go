package multiscale

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/errs"
	"phasetiler/pkg/raster"
	"phasetiler/pkg/resample"
	"phasetiler/pkg/tiling"
	"phasetiler/pkg/unwrap"
)

// CoarseReference is a globally unwrapped, reduced-resolution view of the
// whole raster. It is built once per run and never modified afterwards, so
// tile workers may read it concurrently.
type CoarseReference struct {
	phase  *mat.Dense
	factor tiling.Size
	rows   int
	cols   int
}

// CoarseOptions controls CoarseUnwrap.
type CoarseOptions struct {
	// Unwrapper solves the reduced raster in a single call.
	Unwrapper unwrap.Unwrapper

	// Averaging selects how phasors are multilooked.
	Averaging resample.AveragingMode

	// RowTaps and ColTaps are optional anti-alias filters applied before
	// multilooking.
	RowTaps, ColTaps []complex128

	// Period is the wrap period of the input. Zero means 2π.
	Period float64
}

// NewCoarseReference wraps an already unwrapped coarse raster covering a
// rows × cols raster at the given decimation factor.
func NewCoarseReference(phase *mat.Dense, factor tiling.Size, rows, cols int) (*CoarseReference, error) {
	cr, cc := phase.Dims()
	wantR, wantC := ceilDiv(rows, factor.Rows), ceilDiv(cols, factor.Cols)
	if cr != wantR || cc != wantC {
		return nil, &errs.ShapeError{
			Op:   "coarse reference",
			Got:  [2]int{cr, cc},
			Want: fmt.Sprintf("%dx%d for a %dx%d raster at factor %dx%d", wantR, wantC, rows, cols, factor.Rows, factor.Cols),
		}
	}
	return &CoarseReference{phase: phase, factor: factor, rows: rows, cols: cols}, nil
}

// Shape returns the full-resolution shape covered by the reference.
func (c *CoarseReference) Shape() (int, int) { return c.rows, c.cols }

// CoarseShape returns the shape of the reduced raster.
func (c *CoarseReference) CoarseShape() (int, int) { return c.phase.Dims() }

// Factor returns the decimation factor.
func (c *CoarseReference) Factor() tiling.Size { return c.factor }

// Phase returns a copy of the reduced unwrapped raster.
func (c *CoarseReference) Phase() *mat.Dense { return mat.DenseCopyOf(c.phase) }

// CoarseUnwrap reduces in by complex multilooking at factor and unwraps the
// result in one call. The input is read in strips of factor.Rows rows, so
// memory stays proportional to one strip plus the reduced raster.
//
// A partial last strip or column block is padded by repeating its edge
// samples, so the reduced raster is ceil(H/fr) × ceil(W/fc) and covers every
// input sample. quality, when given, weights the phasors and its multilooked
// magnitude is passed to the unwrapper as coarse quality.
func CoarseUnwrap(ctx context.Context, in, quality raster.Reader, factor tiling.Size, opts CoarseOptions) (*CoarseReference, error) {
	if factor.Rows < 1 || factor.Cols < 1 {
		return nil, errs.Configf("coarse.decimation", "must be positive, got %dx%d", factor.Rows, factor.Cols)
	}
	if opts.Unwrapper == nil {
		return nil, errs.Configf("coarse unwrapper", "must be set")
	}
	rows, cols := in.Shape()
	if quality != nil {
		if qr, qc := quality.Shape(); qr != rows || qc != cols {
			return nil, &errs.ShapeError{
				Op:   "coarse unwrap",
				Got:  [2]int{qr, qc},
				Want: fmt.Sprintf("quality shape %dx%d", rows, cols),
			}
		}
	}

	if factor.Rows > rows || factor.Cols > cols {
		return nil, errs.Configf("coarse.decimation", "%dx%d exceeds raster shape %dx%d",
			factor.Rows, factor.Cols, rows, cols)
	}
	period := opts.Period
	if period == 0 {
		period = 2 * math.Pi
	}

	cr, cc := ceilDiv(rows, factor.Rows), ceilDiv(cols, factor.Cols)
	halo := 0
	if len(opts.RowTaps) > 1 {
		halo = (len(opts.RowTaps) - 1) / 2
	}

	looked := mat.NewCDense(cr, cc, nil)
	full := raster.Range{Start: 0, Stop: cols}
	for s := 0; s < cr; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, stop := s*factor.Rows, min((s+1)*factor.Rows, rows)
		read := raster.Range{Start: max(0, start-halo), Stop: min(rows, stop+halo)}

		block, err := in.ReadBlock(read, full)
		if err != nil {
			return nil, fmt.Errorf("coarse unwrap: reading strip %d: %w", s, err)
		}
		var weight *mat.Dense
		if quality != nil {
			if weight, err = quality.ReadBlock(read, full); err != nil {
				return nil, fmt.Errorf("coarse unwrap: reading quality strip %d: %w", s, err)
			}
		}

		ph := resample.Phasors(block, weight, period)
		if len(opts.RowTaps) > 1 || len(opts.ColTaps) > 1 {
			ph = resample.FilterComplex(ph, opts.RowTaps, opts.ColTaps)
		}
		strip := padStrip(ph, start-read.Start, stop-read.Start, factor.Rows, cc*factor.Cols)

		row, err := resample.MultilookComplex(strip, factor.Rows, factor.Cols, opts.Averaging)
		if err != nil {
			return nil, err
		}
		for j := 0; j < cc; j++ {
			looked.Set(s, j, row.At(0, j))
		}
	}

	var coarseQuality *mat.Dense
	if quality != nil {
		coarseQuality = mat.NewDense(cr, cc, nil)
		for i := 0; i < cr; i++ {
			for j := 0; j < cc; j++ {
				coarseQuality.Set(i, j, cmplx.Abs(looked.At(i, j)))
			}
		}
	}

	res, err := opts.Unwrapper.Unwrap(ctx, resample.Angle(looked, period), coarseQuality)
	if err != nil {
		return nil, fmt.Errorf("coarse unwrap: %w", err)
	}
	return NewCoarseReference(res.Phase, factor, rows, cols)
}

// padStrip extracts rows [r0, r1) of m into a rows × cols block, repeating
// the last row and column to fill the remainder.
func padStrip(m *mat.CDense, r0, r1, rows, cols int) *mat.CDense {
	_, mc := m.Dims()
	out := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		si := min(r0+i, r1-1)
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(si, min(j, mc-1)))
		}
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
