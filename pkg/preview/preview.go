// Package preview renders quick-look heat maps of phase rasters as PNG, SVG
// or PDF images, chosen by the output file extension.
package preview

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"phasetiler/pkg/raster"
)

// grid adapts a matrix to plotter.GridXYZ. Row 0 is drawn at the top.
type grid struct {
	m    mat.Matrix
	rows int
	cols int
	step float64
}

func (g grid) Dims() (c, r int)   { return g.cols, g.rows }
func (g grid) Z(c, r int) float64 { return g.m.At(g.rows-1-r, c) }
func (g grid) X(c int) float64    { return float64(c) * g.step }
func (g grid) Y(r int) float64    { return float64(g.rows-1-r) * g.step }

// SaveHeatmap draws m as a heat map with the given title.
func SaveHeatmap(m mat.Matrix, title, path string) error {
	return saveGrid(m, 1, title, path)
}

func saveGrid(m mat.Matrix, step float64, title, path string) error {
	r, c := m.Dims()
	if r < 2 || c < 2 {
		return fmt.Errorf("heat map needs at least 2x2 samples, got %dx%d", r, c)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"
	// Rows grow downwards, as in an image.
	p.Y.Tick.Marker = flippedTicks{rows: float64(r-1) * step}

	hm := plotter.NewHeatMap(grid{m: m, rows: r, cols: c, step: step}, palette.Heat(64, 1))
	p.Add(hm)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create preview directory: %w", err)
		}
	}

	width := 6 * vg.Inch
	height := width * vg.Length(float64(r)/float64(c))
	if height < 2*vg.Inch {
		height = 2 * vg.Inch
	}
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}

// flippedTicks labels the y axis with row numbers counted from the top.
type flippedTicks struct {
	rows float64
}

func (f flippedTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = fmt.Sprintf("%g", f.rows-ticks[i].Value)
		}
	}
	return ticks
}

// SaveRasterPreview draws a decimated view of r whose longer side has at most
// maxSide samples. Only every n-th row is read, so large rasters stay out of
// memory.
func SaveRasterPreview(r raster.Reader, maxSide int, title, path string) error {
	rows, cols := r.Shape()
	step := 1
	if maxSide > 0 {
		if longest := max(rows, cols); longest > maxSide {
			step = (longest + maxSide - 1) / maxSide
		}
	}

	pr, pc := (rows+step-1)/step, (cols+step-1)/step
	view := mat.NewDense(pr, pc, nil)
	for i := 0; i < pr; i++ {
		row, err := r.ReadBlock(raster.Range{Start: i * step, Stop: i*step + 1}, raster.Range{Start: 0, Stop: cols})
		if err != nil {
			return err
		}
		dst := view.RawRowView(i)
		src := row.RawRowView(0)
		for j := range dst {
			dst[j] = src[j*step]
		}
	}
	return saveGrid(view, float64(step), title, path)
}
