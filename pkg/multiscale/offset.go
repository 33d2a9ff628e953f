package multiscale

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"phasetiler/pkg/config"
	"phasetiler/pkg/errs"
)

// OffsetParams controls cycle-offset estimation.
type OffsetParams struct {
	Period    float64
	Statistic config.Statistic

	// Threshold excludes samples whose quality is below it. Ignored when no
	// quality block is given.
	Threshold float64
}

// EstimateOffset returns the whole number of periods that best aligns raw
// with ref, and the number of samples that took part.
//
// Only samples with quality ≥ Threshold and a non-zero component label
// vote; quality doubles as the sample weight. The mean statistic rounds the
// weighted mean of (ref-raw)/period; the mode statistic rounds every sample
// first and takes the weighted most frequent value, which tolerates local
// unwrapping errors.
func EstimateOffset(raw, ref, quality *mat.Dense, labels []int32, p OffsetParams) (int, int, error) {
	r, c := raw.Dims()
	if rr, rc := ref.Dims(); rr != r || rc != c {
		return 0, 0, &errs.ShapeError{Op: "estimate offset", Got: [2]int{rr, rc}, Want: fmt.Sprintf("%dx%d", r, c)}
	}

	diff := make([]float64, 0, r*c)
	var weights []float64
	if quality != nil {
		weights = make([]float64, 0, r*c)
	}
	for i := 0; i < r; i++ {
		rawRow, refRow := raw.RawRowView(i), ref.RawRowView(i)
		for j := 0; j < c; j++ {
			if labels != nil && labels[i*c+j] == 0 {
				continue
			}
			var w float64
			if quality != nil {
				w = quality.At(i, j)
				if w < p.Threshold || w <= 0 || math.IsNaN(w) {
					continue
				}
			}
			d := (refRow[j] - rawRow[j]) / p.Period
			if math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			if p.Statistic == config.StatisticMode {
				d = math.Round(d)
			}
			diff = append(diff, d)
			if weights != nil {
				weights = append(weights, w)
			}
		}
	}
	if len(diff) == 0 {
		return 0, 0, &errs.UnwrapError{Algorithm: "offset", Reason: "no sample of acceptable quality to estimate the cycle offset"}
	}

	var v float64
	switch p.Statistic {
	case config.StatisticMode:
		v, _ = stat.Mode(diff, weights)
	default:
		v = stat.Mean(diff, weights)
	}
	return int(math.Round(v)), len(diff), nil
}
