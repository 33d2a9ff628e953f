// Package raster provides block-oriented random access to two-dimensional
// rasters of real samples.
//
// The orchestrator is written entirely against the Reader and Writer
// interfaces; concrete stores (memory, flat binary files) are variants of the
// same capability. Blocks are exchanged as gonum dense matrices.
package raster

import (
	"gonum.org/v1/gonum/mat"

	"phasetiler/internal/models"
	"phasetiler/pkg/errs"
)

// Range is a half-open sample interval along one axis.
type Range = models.Range

// Extent is a rectangle in global sample coordinates.
type Extent = models.Extent

// Reader reads rectangular blocks of a raster with an immutable shape.
type Reader interface {
	// Shape returns the raster dimensions.
	Shape() (rows, cols int)

	// ReadBlock returns a copy of the samples in rows × cols.
	ReadBlock(rows, cols Range) (*mat.Dense, error)
}

// Writer writes rectangular blocks. Implementations must tolerate concurrent
// WriteBlock calls on disjoint regions.
type Writer interface {
	Shape() (rows, cols int)

	// WriteBlock stores m at rows × cols. m must have exactly that shape.
	WriteBlock(rows, cols Range, m mat.Matrix) error
}

// ReadWriter combines Reader and Writer.
type ReadWriter interface {
	Reader
	WriteBlock(rows, cols Range, m mat.Matrix) error
}

// Full returns the extent covering a whole raster of the given shape.
func Full(rows, cols int) Extent {
	return Extent{Rows: Range{Start: 0, Stop: rows}, Cols: Range{Start: 0, Stop: cols}}
}

// CheckBounds validates a block request against a raster shape.
// Empty ranges are rejected: a block always holds at least one sample.
func CheckBounds(op string, shapeRows, shapeCols int, rows, cols Range) error {
	e := Extent{Rows: rows, Cols: cols}
	if rows.Start < 0 || cols.Start < 0 || rows.Stop > shapeRows || cols.Stop > shapeCols {
		return &errs.BoundsError{Op: op, Extent: e, Rows: shapeRows, Cols: shapeCols}
	}
	if rows.Len() <= 0 || cols.Len() <= 0 {
		return &errs.BoundsError{Op: op, Extent: e, Rows: shapeRows, Cols: shapeCols, Detail: "empty range"}
	}
	return nil
}

// checkBlock validates the shape of a block handed to WriteBlock.
func checkBlock(op string, shapeRows, shapeCols int, rows, cols Range, m mat.Matrix) error {
	if err := CheckBounds(op, shapeRows, shapeCols, rows, cols); err != nil {
		return err
	}
	r, c := m.Dims()
	if r != rows.Len() || c != cols.Len() {
		return &errs.BoundsError{
			Op:     op,
			Extent: Extent{Rows: rows, Cols: cols},
			Rows:   shapeRows,
			Cols:   shapeCols,
			Detail: "block shape does not match range",
		}
	}
	return nil
}

// ReadExtent is a convenience wrapper for ReadBlock over an Extent.
func ReadExtent(r Reader, e Extent) (*mat.Dense, error) {
	return r.ReadBlock(e.Rows, e.Cols)
}

// ReadAll reads the whole raster into memory. Intended for small rasters,
// previews and tests.
func ReadAll(r Reader) (*mat.Dense, error) {
	rows, cols := r.Shape()
	return r.ReadBlock(Range{Start: 0, Stop: rows}, Range{Start: 0, Stop: cols})
}
