package models

import "fmt"

// Range is a half-open interval [Start, Stop) of sample indices along one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of samples in the range.
func (r Range) Len() int {
	return r.Stop - r.Start
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return o.Start >= r.Start && o.Stop <= r.Stop
}

// Shift returns the range translated by delta samples.
func (r Range) Shift(delta int) Range {
	return Range{Start: r.Start + delta, Stop: r.Stop + delta}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d:%d)", r.Start, r.Stop)
}

// Extent is a rectangular region of a raster in global sample coordinates.
type Extent struct {
	Rows Range
	Cols Range
}

// Shape returns the number of rows and columns covered by the extent.
func (e Extent) Shape() (int, int) {
	return e.Rows.Len(), e.Cols.Len()
}

// Size returns the number of samples covered by the extent.
func (e Extent) Size() int {
	return e.Rows.Len() * e.Cols.Len()
}

// Contains reports whether o lies entirely inside e.
func (e Extent) Contains(o Extent) bool {
	return e.Rows.Contains(o.Rows) && e.Cols.Contains(o.Cols)
}

func (e Extent) String() string {
	return fmt.Sprintf("rows %s cols %s", e.Rows, e.Cols)
}
