package models

import (
	"fmt"
	"strings"
	"time"
)

// TileStatus records how a tile ended up in the output.
type TileStatus string

const (
	// TileUnwrapped means the tile was unwrapped and shifted by its offset.
	TileUnwrapped TileStatus = "unwrapped"

	// TileDegraded means unwrapping failed and the projected coarse
	// reference was written for the tile core instead.
	TileDegraded TileStatus = "degraded"

	// TileFailed means the tile aborted the run.
	TileFailed TileStatus = "failed"
)

// TileOutcome describes the processing of one tile.
type TileOutcome struct {
	// Index is the tile position in row-major order
	Index int

	// Core is the region written to the output
	Core Extent

	// Extent is the region read, core plus overlap
	Extent Extent

	// Offset is the resolved ambiguity in whole wrap periods
	Offset int

	// Samples is the number of samples that voted for Offset
	Samples int

	Status   TileStatus
	Err      string
	Duration time.Duration
}

// SeamViolation reports a tile boundary where the stitched output jumps by
// more than the configured tolerance.
type SeamViolation struct {
	// A and B are the adjacent tiles
	A, B int

	// Horizontal is true for a boundary between vertically stacked tiles
	Horizontal bool

	// MaxJump is the largest absolute phase difference across the seam
	MaxJump float64

	// Count is the number of sample pairs above tolerance
	Count int
}

// Report summarises a multiscale unwrapping run.
type Report struct {
	RunID string
	State string

	// Rows and Cols are the full-resolution raster shape
	Rows, Cols int

	// CoarseRows and CoarseCols are the coarse reference shape
	CoarseRows, CoarseCols int

	Tiles []TileOutcome
	Seams []SeamViolation

	Started        time.Time
	CoarseDuration time.Duration
	TilingDuration time.Duration
	Total          time.Duration
}

// Degraded returns the indices of tiles that fell back to the reference.
func (r *Report) Degraded() []int {
	var out []int
	for _, t := range r.Tiles {
		if t.Status == TileDegraded {
			out = append(out, t.Index)
		}
	}
	return out
}

// Summary renders a short human-readable account of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s\n", r.RunID, r.State)
	fmt.Fprintf(&b, "  raster %dx%d, coarse reference %dx%d\n", r.Rows, r.Cols, r.CoarseRows, r.CoarseCols)
	fmt.Fprintf(&b, "  tiles: %d processed, %d degraded\n", len(r.Tiles), len(r.Degraded()))
	fmt.Fprintf(&b, "  seams above tolerance: %d\n", len(r.Seams))
	fmt.Fprintf(&b, "  timing: coarse %s, tiling %s, total %s\n",
		r.CoarseDuration.Round(time.Millisecond), r.TilingDuration.Round(time.Millisecond), r.Total.Round(time.Millisecond))
	return b.String()
}
