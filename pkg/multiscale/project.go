package multiscale

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"phasetiler/internal/models"
	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
	"phasetiler/pkg/resample"
)

// projectMargin is the number of extra coarse samples upsampled around a
// tile, so that spectral interpolation has context beyond the tile edge.
const projectMargin = 2

// Project resamples the reference onto a full-resolution extent.
//
// Coarse sample (i, j) summarises the block of full-resolution samples
// starting at (i*fr, j*fc). With nearest upsampling every sample of that
// block takes its value. Spectral upsampling places the coarse sample at
// the block centre; a least-squares plane is removed before the transform
// and restored afterwards, so a linear phase ramp projects exactly.
func (c *CoarseReference) Project(e models.Extent, method config.UpsampleMethod) (*mat.Dense, error) {
	if e.Rows.Start < 0 || e.Cols.Start < 0 || e.Rows.Stop > c.rows || e.Cols.Stop > c.cols ||
		e.Rows.Len() <= 0 || e.Cols.Len() <= 0 {
		return nil, &errs.BoundsError{Op: "project reference", Extent: e, Rows: c.rows, Cols: c.cols}
	}
	up, err := resample.Upsampler(method)
	if err != nil {
		return nil, err
	}

	fr, fc := c.factor.Rows, c.factor.Cols
	cr, cc := c.phase.Dims()
	i0 := max(0, e.Rows.Start/fr-projectMargin)
	i1 := min(cr, ceilDiv(e.Rows.Stop, fr)+projectMargin)
	j0 := max(0, e.Cols.Start/fc-projectMargin)
	j1 := min(cc, ceilDiv(e.Cols.Stop, fc)+projectMargin)

	sub := mat.DenseCopyOf(c.phase.Slice(i0, i1, j0, j1))
	var trend [3]float64
	if method == config.UpsampleSpectral {
		trend = removePlane(sub)
	}

	ur, uc := (i1-i0)*fr, (j1-j0)*fc
	fine, err := up(sub, ur, uc)
	if err != nil {
		return nil, err
	}

	// Offset of the extent inside the upsampled block.
	rowOff, colOff := e.Rows.Start-i0*fr, e.Cols.Start-j0*fc
	if method == config.UpsampleSpectral {
		rowOff -= int(math.Round(float64(fr-1) / 2))
		colOff -= int(math.Round(float64(fc-1) / 2))
	}

	rows, cols := e.Shape()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		ui := clampIndex(rowOff+i, ur)
		dst := out.RawRowView(i)
		src := fine.RawRowView(ui)
		for j := range dst {
			uj := clampIndex(colOff+j, uc)
			v := src[uj]
			if method == config.UpsampleSpectral {
				v += trend[0] + trend[1]*float64(ui)/float64(fr) + trend[2]*float64(uj)/float64(fc)
			}
			dst[j] = v
		}
	}
	return out, nil
}

// removePlane fits z = a + b*i + c*j to m by least squares, subtracts it in
// place and returns (a, b, c). Blocks too small to fit are left untouched.
func removePlane(m *mat.Dense) [3]float64 {
	r, c := m.Dims()
	n := r * c
	if n < 3 {
		return [3]float64{}
	}
	a := mat.NewDense(n, 3, nil)
	z := mat.NewVecDense(n, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			k := i*c + j
			a.Set(k, 0, 1)
			a.Set(k, 1, float64(i))
			a.Set(k, 2, float64(j))
			z.SetVec(k, m.At(i, j))
		}
	}
	var x mat.VecDense
	if err := x.SolveVec(a, z); err != nil {
		// Rank deficient (a single row or column): fall back to the mean.
		var mean float64
		for k := 0; k < n; k++ {
			mean += z.AtVec(k)
		}
		mean /= float64(n)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, m.At(i, j)-mean)
			}
		}
		return [3]float64{mean, 0, 0}
	}

	p := [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)-p[0]-p[1]*float64(i)-p[2]*float64(j))
		}
	}
	return p
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
