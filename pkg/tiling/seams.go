package tiling

import "phasetiler/internal/models"

// Seam is the boundary between the cores of two adjacent tiles.
type Seam struct {
	// A is the tile above (horizontal seam) or to the left (vertical seam).
	A int
	// B is the tile below or to the right.
	B int

	// Horizontal is true when A and B are stacked vertically, so the seam
	// runs along a row boundary.
	Horizontal bool

	// Across is the two-sample-wide strip straddling the seam: the last
	// core row (or column) of A and the first of B.
	Across models.Extent
}

// Seams lists every core boundary between adjacent tiles in row-major order
// of A, horizontal seams first.
func (p *Partition) Seams() []Seam {
	nr, nc := p.Grid()
	var out []Seam
	for _, t := range p.tiles {
		if t.Row < nr-1 {
			b := t.Index + nc
			edge := t.Core.Rows.Stop
			out = append(out, Seam{
				A:          t.Index,
				B:          b,
				Horizontal: true,
				Across: models.Extent{
					Rows: models.Range{Start: edge - 1, Stop: edge + 1},
					Cols: t.Core.Cols,
				},
			})
		}
	}
	for _, t := range p.tiles {
		if t.Col < nc-1 {
			edge := t.Core.Cols.Stop
			out = append(out, Seam{
				A:          t.Index,
				B:          t.Index + 1,
				Horizontal: false,
				Across: models.Extent{
					Rows: t.Core.Rows,
					Cols: models.Range{Start: edge - 1, Stop: edge + 1},
				},
			})
		}
	}
	return out
}
