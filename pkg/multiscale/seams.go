package multiscale

import (
	"math"

	"phasetiler/internal/models"
	"phasetiler/pkg/raster"
	"phasetiler/pkg/tiling"
)

// CheckSeams compares the samples on either side of every core boundary of
// p in the stitched output and reports the boundaries where some adjacent
// pair differs by more than tolerance.
func CheckSeams(out raster.Reader, p *tiling.Partition, tolerance float64) ([]models.SeamViolation, error) {
	var violations []models.SeamViolation
	for _, s := range p.Seams() {
		block, err := raster.ReadExtent(out, s.Across)
		if err != nil {
			return nil, err
		}

		v := models.SeamViolation{A: s.A, B: s.B, Horizontal: s.Horizontal}
		r, c := block.Dims()
		if s.Horizontal {
			for j := 0; j < c; j++ {
				observeJump(&v, block.At(1, j)-block.At(0, j), tolerance)
			}
		} else {
			for i := 0; i < r; i++ {
				observeJump(&v, block.At(i, 1)-block.At(i, 0), tolerance)
			}
		}
		if v.Count > 0 {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

func observeJump(v *models.SeamViolation, d, tolerance float64) {
	d = math.Abs(d)
	if d > v.MaxJump {
		v.MaxJump = d
	}
	if d > tolerance {
		v.Count++
	}
}
