// Package tiling splits a raster extent into overlapping rectangular tiles.
//
// Every tile has a core region and a stored extent. The cores of all tiles
// partition the raster exactly once; the stored extent adds up to the
// configured overlap on each interior side so that neighbouring tiles share
// context. Overlap is never added on the outer edges of the raster, and it
// never reaches past the core of the immediate neighbour.
//
// Tiles along one dimension are spread evenly rather than packed from the
// origin, so the last tile is never a thin sliver: with an extent of 100 and
// a tile size of 40 the cores are 33, 34 and 33 samples long.
package tiling

import (
	"phasetiler/internal/models"
	"phasetiler/pkg/errs"
)

// Size is a pair of row and column lengths.
type Size struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// Tile is one rectangle of a partition.
type Tile struct {
	// Index is the position of the tile in row-major order.
	Index int

	// Row and Col locate the tile in the tile grid.
	Row int
	Col int

	// Core is the region this tile owns in the output.
	Core models.Extent

	// Extent is the core plus overlap, clipped at the raster edges.
	Extent models.Extent
}

// CoreLocal returns the core region in tile-local coordinates, i.e. relative
// to the origin of Extent.
func (t Tile) CoreLocal() models.Extent {
	return models.Extent{
		Rows: t.Core.Rows.Shift(-t.Extent.Rows.Start),
		Cols: t.Core.Cols.Shift(-t.Extent.Cols.Start),
	}
}

// Partition is an immutable row-major covering of a raster by tiles.
type Partition struct {
	rows, cols int
	tileSize   Size
	overlap    Size

	rowSpans []span
	colSpans []span
	tiles    []Tile
}

// span is the core and stored range of a tile along one axis.
type span struct {
	core   models.Range
	extent models.Range
}

// ValidateParams checks tile size and overlap without building a partition.
func ValidateParams(tileSize, overlap Size) error {
	if tileSize.Rows <= 0 || tileSize.Cols <= 0 {
		return errs.Configf("tile size", "must be positive, got %dx%d", tileSize.Rows, tileSize.Cols)
	}
	if overlap.Rows <= 0 || overlap.Cols <= 0 {
		return errs.Configf("overlap", "must be positive, got %dx%d", overlap.Rows, overlap.Cols)
	}
	if overlap.Rows >= tileSize.Rows || overlap.Cols >= tileSize.Cols {
		return errs.Configf("overlap", "%dx%d must be smaller than tile size %dx%d",
			overlap.Rows, overlap.Cols, tileSize.Rows, tileSize.Cols)
	}
	return nil
}

// NewPartition covers a rows × cols raster with tiles of at most tileSize
// samples (core) and the given overlap margin.
func NewPartition(rows, cols int, tileSize, overlap Size) (*Partition, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errs.Configf("extent", "must be positive, got %dx%d", rows, cols)
	}
	if err := ValidateParams(tileSize, overlap); err != nil {
		return nil, err
	}

	p := &Partition{
		rows:     rows,
		cols:     cols,
		tileSize: tileSize,
		overlap:  overlap,
		rowSpans: splitAxis(rows, tileSize.Rows, overlap.Rows),
		colSpans: splitAxis(cols, tileSize.Cols, overlap.Cols),
	}

	p.tiles = make([]Tile, 0, len(p.rowSpans)*len(p.colSpans))
	for i, rs := range p.rowSpans {
		for j, cs := range p.colSpans {
			p.tiles = append(p.tiles, Tile{
				Index:  len(p.tiles),
				Row:    i,
				Col:    j,
				Core:   models.Extent{Rows: rs.core, Cols: cs.core},
				Extent: models.Extent{Rows: rs.extent, Cols: cs.extent},
			})
		}
	}
	return p, nil
}

// splitAxis divides n samples into evenly spaced cores of at most size
// samples and widens each by overlap on its interior sides.
func splitAxis(n, size, overlap int) []span {
	if size >= n {
		r := models.Range{Start: 0, Stop: n}
		return []span{{core: r, extent: r}}
	}

	count := (n + size - 1) / size
	bounds := make([]int, count+1)
	for k := 0; k <= count; k++ {
		// Integer form of round(k*n/count).
		bounds[k] = (2*k*n + count) / (2 * count)
	}

	spans := make([]span, count)
	for k := 0; k < count; k++ {
		core := models.Range{Start: bounds[k], Stop: bounds[k+1]}
		ext := core
		if k > 0 {
			ext.Start = max(core.Start-overlap, bounds[k-1])
		}
		if k < count-1 {
			ext.Stop = min(core.Stop+overlap, bounds[k+2])
		}
		spans[k] = span{core: core, extent: ext}
	}
	return spans
}

// Shape returns the dimensions of the partitioned raster.
func (p *Partition) Shape() (int, int) {
	return p.rows, p.cols
}

// TileSize returns the requested maximum core size.
func (p *Partition) TileSize() Size {
	return p.tileSize
}

// Overlap returns the requested overlap margin.
func (p *Partition) Overlap() Size {
	return p.overlap
}

// Len returns the number of tiles.
func (p *Partition) Len() int {
	return len(p.tiles)
}

// Grid returns the number of tile rows and tile columns.
func (p *Partition) Grid() (int, int) {
	return len(p.rowSpans), len(p.colSpans)
}

// Tile returns the i-th tile in row-major order.
func (p *Partition) Tile(i int) Tile {
	return p.tiles[i]
}

// Tiles returns a copy of all tiles in row-major order.
func (p *Partition) Tiles() []Tile {
	out := make([]Tile, len(p.tiles))
	copy(out, p.tiles)
	return out
}

// ToGlobal converts tile-local coordinates of tile i to raster coordinates.
func (p *Partition) ToGlobal(i, row, col int) (int, int) {
	t := p.tiles[i]
	return t.Extent.Rows.Start + row, t.Extent.Cols.Start + col
}

// ToLocal converts raster coordinates into the local frame of tile i. The
// boolean is false when the sample lies outside the tile's stored extent.
func (p *Partition) ToLocal(i, row, col int) (int, int, bool) {
	t := p.tiles[i]
	lr, lc := row-t.Extent.Rows.Start, col-t.Extent.Cols.Start
	ok := lr >= 0 && lc >= 0 && lr < t.Extent.Rows.Len() && lc < t.Extent.Cols.Len()
	return lr, lc, ok
}

// TileAt returns the index of the tile whose core contains the sample, or -1
// when the sample lies outside the raster.
func (p *Partition) TileAt(row, col int) int {
	if row < 0 || col < 0 || row >= p.rows || col >= p.cols {
		return -1
	}
	ti := findSpan(p.rowSpans, row)
	tj := findSpan(p.colSpans, col)
	return ti*len(p.colSpans) + tj
}

func findSpan(spans []span, x int) int {
	lo, hi := 0, len(spans)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if x >= spans[mid].core.Stop {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Neighbours returns the indices of the tiles sharing a core edge with tile i.
func (p *Partition) Neighbours(i int) []int {
	t := p.tiles[i]
	nr, nc := p.Grid()
	var out []int
	if t.Row > 0 {
		out = append(out, i-nc)
	}
	if t.Col > 0 {
		out = append(out, i-1)
	}
	if t.Col < nc-1 {
		out = append(out, i+1)
	}
	if t.Row < nr-1 {
		out = append(out, i+nc)
	}
	return out
}
