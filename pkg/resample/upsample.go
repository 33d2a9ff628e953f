package resample

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
)

// UpsampleFunc expands a block to a target shape.
type UpsampleFunc func(m *mat.Dense, rows, cols int) (*mat.Dense, error)

// Upsampler returns the upsampling primitive selected by method.
func Upsampler(method config.UpsampleMethod) (UpsampleFunc, error) {
	switch method {
	case config.UpsampleSpectral:
		return UpsampleFFT, nil
	case config.UpsampleNearest:
		return UpsampleNearest, nil
	}
	return nil, errs.Configf("stitching.upsample", "unknown method %q", string(method))
}

func checkTarget(op string, m *mat.Dense, rows, cols int) (int, int, error) {
	r, c := m.Dims()
	if rows < r || cols < c {
		return r, c, &errs.ShapeError{
			Op:   op,
			Got:  [2]int{r, c},
			Want: fmt.Sprintf("input no larger than target %dx%d", rows, cols),
		}
	}
	return r, c, nil
}

// UpsampleFFT expands m to rows × cols by zero-padding its 2-D spectrum.
// Band-limited signals are reproduced exactly at the original sample
// positions, i.e. output sample (i*rows/r, j*cols/c) for integer factors.
func UpsampleFFT(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	r, c, err := checkTarget("upsample_fft", m, rows, cols)
	if err != nil {
		return nil, err
	}

	spec := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			spec[i*c+j] = complex(v, 0)
		}
	}
	fft2D(spec, r, c, false)

	padded := make([]complex128, rows*cols)
	for k := 0; k < r; k++ {
		ki, kw, kn := spectralBins(k, r, rows)
		for l := 0; l < c; l++ {
			li, lw, ln := spectralBins(l, c, cols)
			v := spec[k*c+l]
			for a := 0; a < kn; a++ {
				for b := 0; b < ln; b++ {
					padded[ki[a]*cols+li[b]] += v * complex(kw[a]*lw[b], 0)
				}
			}
		}
	}
	fft2D(padded, rows, cols, true)

	scale := 1 / float64(r*c)
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] = real(padded[i*cols+j]) * scale
		}
	}
	return out, nil
}

// UpsampleNearest expands m to rows × cols by sample replication. Output
// sample (i, j) takes input sample (i*r/rows, j*c/cols), so the output at
// NearestPosition of every input sample equals that input sample.
func UpsampleNearest(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	r, c, err := checkTarget("upsample_nearest", m, rows, cols)
	if err != nil {
		return nil, err
	}

	colSrc := make([]int, cols)
	for j := range colSrc {
		colSrc[j] = j * c / cols
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := m.RawRowView(i * r / rows)
		dst := out.RawRowView(i)
		for j, sj := range colSrc {
			dst[j] = src[sj]
		}
	}
	return out, nil
}

// NearestPosition returns the output index that UpsampleNearest fills from
// input index i when expanding n samples to m.
func NearestPosition(i, n, m int) int {
	return (i*m + n - 1) / n
}
