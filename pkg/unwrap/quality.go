package unwrap

import (
	"container/heap"
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/errs"
)

// Quality is a quality-guided flood fill. Samples are unwrapped in order of
// decreasing quality, each relative to the already unwrapped neighbour it
// was reached from. Without a quality block the reliability of a sample is
// derived from the wrapped gradients around it.
//
// Samples with quality below MinQuality are left wrapped and labelled 0.
// Every separately seeded region receives its own label.
type Quality struct {
	Period     float64
	MinQuality float64
}

func (q *Quality) Name() string { return "quality" }

func (q *Quality) Unwrap(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error) {
	if err := checkInput(q.Name(), wrapped, quality); err != nil {
		return nil, err
	}
	r, c := wrapped.Dims()
	if quality == nil {
		quality = q.reliability(wrapped)
	}

	out := mat.DenseCopyOf(wrapped)
	labels := make([]int32, r*c)
	done := make([]bool, r*c)

	// Seeds are tried from the best sample downwards.
	order := make(sampleHeap, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := quality.At(i, j); v >= q.MinQuality && !math.IsNaN(v) {
				order = append(order, sample{idx: i*c + j, q: v, from: -1})
			}
		}
	}
	heap.Init(&order)

	var label int32
	front := &sampleHeap{}
	for order.Len() > 0 {
		seed := heap.Pop(&order).(sample)
		if done[seed.idx] {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		label++
		heap.Push(front, seed)

		for front.Len() > 0 {
			s := heap.Pop(front).(sample)
			if done[s.idx] {
				continue
			}
			i, j := s.idx/c, s.idx%c
			if s.from >= 0 {
				fi, fj := s.from/c, s.from%c
				base := out.At(fi, fj)
				out.Set(i, j, base+Wrap(wrapped.At(i, j)-wrapped.At(fi, fj), q.Period))
			}
			done[s.idx] = true
			labels[s.idx] = label

			for _, n := range [4][2]int{{i - 1, j}, {i + 1, j}, {i, j - 1}, {i, j + 1}} {
				ni, nj := n[0], n[1]
				if ni < 0 || nj < 0 || ni >= r || nj >= c || done[ni*c+nj] {
					continue
				}
				v := quality.At(ni, nj)
				if v < q.MinQuality || math.IsNaN(v) {
					continue
				}
				heap.Push(front, sample{idx: ni*c + nj, q: v, from: s.idx})
			}
		}
	}

	if label == 0 {
		return nil, &errs.UnwrapError{Algorithm: q.Name(), Reason: "no sample reaches the minimum quality"}
	}

	Congruent(wrapped, out, q.Period)
	return &Result{Phase: out, Labels: labels}, nil
}

// reliability scores each sample by the smoothness of its wrapped
// neighbourhood: 1 for a constant field, approaching 0 as gradients grow.
func (q *Quality) reliability(wrapped *mat.Dense) *mat.Dense {
	r, c := wrapped.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			var sum float64
			var n int
			w := wrapped.At(i, j)
			for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				ni, nj := i+d[0], j+d[1]
				if ni < 0 || nj < 0 || ni >= r || nj >= c {
					continue
				}
				sum += math.Abs(Wrap(wrapped.At(ni, nj)-w, q.Period))
				n++
			}
			if n > 0 {
				sum /= float64(n)
			}
			out.Set(i, j, 1/(1+sum))
		}
	}
	return out
}

type sample struct {
	idx  int
	q    float64
	from int
}

// sampleHeap is a max-heap on quality.
type sampleHeap []sample

func (h sampleHeap) Len() int           { return len(h) }
func (h sampleHeap) Less(i, j int) bool { return h[i].q > h[j].q }
func (h sampleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *sampleHeap) Push(x interface{}) { *h = append(*h, x.(sample)) }

func (h *sampleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
