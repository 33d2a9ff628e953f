package raster

import (
	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/errs"
)

// MemRaster is an in-memory raster. Concurrent writes to disjoint blocks
// touch disjoint elements of the backing slice and need no locking.
type MemRaster struct {
	data *mat.Dense
}

// NewMemRaster allocates a zero-filled raster of the given shape.
func NewMemRaster(rows, cols int) (*MemRaster, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errs.Configf("raster", "non-positive shape %dx%d", rows, cols)
	}
	return &MemRaster{data: mat.NewDense(rows, cols, nil)}, nil
}

// FromDense wraps m without copying it. The caller must not resize m.
func FromDense(m *mat.Dense) *MemRaster {
	return &MemRaster{data: m}
}

// FromFunc builds a raster whose sample (i, j) is f(i, j).
func FromFunc(rows, cols int, f func(i, j int) float64) *MemRaster {
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = f(i, j)
		}
	}
	return &MemRaster{data: mat.NewDense(rows, cols, data)}
}

// Shape returns the raster dimensions.
func (m *MemRaster) Shape() (int, int) {
	return m.data.Dims()
}

// Dense exposes the backing matrix.
func (m *MemRaster) Dense() *mat.Dense {
	return m.data
}

// ReadBlock returns a copy of the requested block.
func (m *MemRaster) ReadBlock(rows, cols Range) (*mat.Dense, error) {
	r, c := m.data.Dims()
	if err := CheckBounds("read block", r, c, rows, cols); err != nil {
		return nil, err
	}
	out := mat.DenseCopyOf(m.data.Slice(rows.Start, rows.Stop, cols.Start, cols.Stop))
	return out, nil
}

// WriteBlock copies b into the requested block.
func (m *MemRaster) WriteBlock(rows, cols Range, b mat.Matrix) error {
	r, c := m.data.Dims()
	if err := checkBlock("write block", r, c, rows, cols, b); err != nil {
		return err
	}
	dst := m.data.Slice(rows.Start, rows.Stop, cols.Start, cols.Stop).(*mat.Dense)
	dst.Copy(b)
	return nil
}
