package unwrap

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Path integrates wrapped differences down the first column and then along
// every row. It is exact for noise-free inputs whose true neighbour
// differences stay below half a period, and ignores quality.
type Path struct {
	Period float64
}

func (p *Path) Name() string { return "path" }

func (p *Path) Unwrap(ctx context.Context, wrapped, quality *mat.Dense) (*Result, error) {
	if err := checkInput(p.Name(), wrapped, quality); err != nil {
		return nil, err
	}
	r, c := wrapped.Dims()
	out := mat.NewDense(r, c, nil)

	out.Set(0, 0, wrapped.At(0, 0))
	for i := 1; i < r; i++ {
		out.Set(i, 0, out.At(i-1, 0)+Wrap(wrapped.At(i, 0)-wrapped.At(i-1, 0), p.Period))
	}
	for i := 0; i < r; i++ {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w := wrapped.RawRowView(i)
		u := out.RawRowView(i)
		for j := 1; j < c; j++ {
			u[j] = u[j-1] + Wrap(w[j]-w[j-1], p.Period)
		}
	}

	Congruent(wrapped, out, p.Period)
	return &Result{Phase: out}, nil
}
