package tiling

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasetiler/internal/models"
	"phasetiler/pkg/errs"
)

func rng(a, b int) models.Range {
	return models.Range{Start: a, Stop: b}
}

// TestCoreCoverage sums a core indicator over the raster for many parameter
// combinations and checks every sample is covered exactly once.
func TestCoreCoverage(t *testing.T) {
	extents := []Size{{100, 100}, {1, 1}, {37, 91}, {128, 64}, {7, 300}}
	tiles := []Size{{40, 40}, {16, 9}, {200, 200}, {3, 5}}
	overlaps := []Size{{8, 8}, {1, 1}, {2, 4}}

	for _, e := range extents {
		for _, ts := range tiles {
			for _, ov := range overlaps {
				if ov.Rows >= ts.Rows || ov.Cols >= ts.Cols {
					continue
				}
				name := fmt.Sprintf("%dx%d/%dx%d/%dx%d", e.Rows, e.Cols, ts.Rows, ts.Cols, ov.Rows, ov.Cols)
				t.Run(name, func(t *testing.T) {
					p, err := NewPartition(e.Rows, e.Cols, ts, ov)
					require.NoError(t, err)

					count := make([]int, e.Rows*e.Cols)
					for _, tile := range p.Tiles() {
						for i := tile.Core.Rows.Start; i < tile.Core.Rows.Stop; i++ {
							for j := tile.Core.Cols.Start; j < tile.Core.Cols.Stop; j++ {
								count[i*e.Cols+j]++
							}
						}
						assert.True(t, tile.Extent.Contains(tile.Core))
						assert.LessOrEqual(t, tile.Core.Rows.Len(), ts.Rows)
						assert.LessOrEqual(t, tile.Core.Cols.Len(), ts.Cols)
					}
					for idx, c := range count {
						if c != 1 {
							t.Fatalf("sample (%d,%d) covered %d times", idx/e.Cols, idx%e.Cols, c)
						}
					}
				})
			}
		}
	}
}

func TestPartitionLayout(t *testing.T) {
	p, err := NewPartition(10, 4, Size{4, 10}, Size{1, 1})
	require.NoError(t, err)

	want := []Tile{
		{Index: 0, Row: 0, Col: 0,
			Core:   models.Extent{Rows: rng(0, 3), Cols: rng(0, 4)},
			Extent: models.Extent{Rows: rng(0, 4), Cols: rng(0, 4)}},
		{Index: 1, Row: 1, Col: 0,
			Core:   models.Extent{Rows: rng(3, 7), Cols: rng(0, 4)},
			Extent: models.Extent{Rows: rng(2, 8), Cols: rng(0, 4)}},
		{Index: 2, Row: 2, Col: 0,
			Core:   models.Extent{Rows: rng(7, 10), Cols: rng(0, 4)},
			Extent: models.Extent{Rows: rng(6, 10), Cols: rng(0, 4)}},
	}
	if diff := cmp.Diff(want, p.Tiles()); diff != "" {
		t.Errorf("tiles mismatch (-want +got):\n%s", diff)
	}
}

func TestRowMajorOrderAndOverlapReach(t *testing.T) {
	p, err := NewPartition(100, 100, Size{40, 40}, Size{8, 8})
	require.NoError(t, err)

	nr, nc := p.Grid()
	require.Equal(t, 3, nr)
	require.Equal(t, 3, nc)

	prev := -1
	for _, tile := range p.Tiles() {
		assert.Equal(t, tile.Row*nc+tile.Col, tile.Index)
		assert.Greater(t, tile.Index, prev)
		prev = tile.Index

		// Outer edges carry no overlap.
		if tile.Row == 0 {
			assert.Equal(t, 0, tile.Extent.Rows.Start)
		}
		if tile.Col == nc-1 {
			assert.Equal(t, 100, tile.Extent.Cols.Stop)
		}
		// Interior edges carry exactly the requested overlap here.
		if tile.Row > 0 {
			assert.Equal(t, 8, tile.Core.Rows.Start-tile.Extent.Rows.Start)
		}
	}
}

func TestOverlapNeverPassesNeighbourCore(t *testing.T) {
	// Cores are 7 or 8 samples long, so an overlap of 9 must be clipped.
	p, err := NewPartition(23, 23, Size{10, 10}, Size{9, 9})
	require.NoError(t, err)
	for _, tile := range p.Tiles() {
		for _, n := range p.Neighbours(tile.Index) {
			nb := p.Tile(n)
			if nb.Row < tile.Row {
				assert.GreaterOrEqual(t, tile.Extent.Rows.Start, nb.Core.Rows.Start)
			}
			if nb.Col > tile.Col {
				assert.LessOrEqual(t, tile.Extent.Cols.Stop, nb.Core.Cols.Stop)
			}
		}
	}
}

func TestDegenerateSingleTile(t *testing.T) {
	p, err := NewPartition(30, 50, Size{30, 64}, Size{4, 4})
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	tile := p.Tile(0)
	assert.Equal(t, tile.Core, tile.Extent)
	assert.Equal(t, models.Extent{Rows: rng(0, 30), Cols: rng(0, 50)}, tile.Core)
}

func TestInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		tile    Size
		overlap Size
	}{
		{"zero tile", Size{0, 10}, Size{1, 1}},
		{"negative tile", Size{10, -1}, Size{1, 1}},
		{"zero overlap", Size{10, 10}, Size{0, 1}},
		{"overlap equals tile", Size{10, 10}, Size{10, 2}},
		{"overlap exceeds tile", Size{10, 10}, Size{2, 11}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPartition(100, 100, tc.tile, tc.overlap)
			var cfgErr *errs.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestCoordinateMapping(t *testing.T) {
	p, err := NewPartition(100, 100, Size{40, 40}, Size{8, 8})
	require.NoError(t, err)

	for _, tile := range p.Tiles() {
		gr, gc := p.ToGlobal(tile.Index, 0, 0)
		assert.Equal(t, tile.Extent.Rows.Start, gr)
		assert.Equal(t, tile.Extent.Cols.Start, gc)

		lr, lc, ok := p.ToLocal(tile.Index, tile.Core.Rows.Start, tile.Core.Cols.Start)
		require.True(t, ok)
		local := tile.CoreLocal()
		assert.Equal(t, local.Rows.Start, lr)
		assert.Equal(t, local.Cols.Start, lc)

		assert.Equal(t, tile.Index, p.TileAt(tile.Core.Rows.Start, tile.Core.Cols.Stop-1))
	}

	_, _, ok := p.ToLocal(0, 99, 99)
	assert.False(t, ok)
	assert.Equal(t, -1, p.TileAt(100, 0))
}

func TestSeams(t *testing.T) {
	p, err := NewPartition(100, 100, Size{40, 40}, Size{8, 8})
	require.NoError(t, err)

	seams := p.Seams()
	// 3x3 grid: 6 horizontal and 6 vertical seams.
	require.Len(t, seams, 12)
	for _, s := range seams {
		a, b := p.Tile(s.A), p.Tile(s.B)
		if s.Horizontal {
			assert.Equal(t, a.Core.Rows.Stop, b.Core.Rows.Start)
			assert.Equal(t, 2, s.Across.Rows.Len())
		} else {
			assert.Equal(t, a.Core.Cols.Stop, b.Core.Cols.Start)
			assert.Equal(t, 2, s.Across.Cols.Len())
		}
	}
	assert.ElementsMatch(t, []int{1, 3, 5, 7}, p.Neighbours(4))
}
