package resample

import (
	"math"
	"math/cmplx"

	"phasetiler/pkg/errs"
)

// FilterSpec describes a linear-phase equiripple band-pass filter. All
// frequencies are in cycles per sample.
type FilterSpec struct {
	// Bandwidth is the two-sided passband width, centred on Shift.
	Bandwidth float64
	// Shift moves the passband centre away from zero frequency.
	Shift float64
	// PassRipple is the largest linear deviation from unity in the passband.
	PassRipple float64
	// StopAttenuation is the smallest stopband attenuation in dB.
	StopAttenuation float64
	// TransitionWidth separates the passband edge from the stopband edge.
	TransitionWidth float64
}

const (
	remezGridDensity = 16
	remezMaxIter     = 40
	remezTolerance   = 1e-4
	maxFilterTaps    = 1025
)

// BandpassEquirippleFilter designs an odd-length linear-phase FIR filter with
// the Parks-McClellan exchange algorithm. The low-pass prototype with passband
// edge Bandwidth/2 is modulated to Shift, so the taps are complex unless
// Shift is zero.
func BandpassEquirippleFilter(spec FilterSpec) ([]complex128, error) {
	passEdge := spec.Bandwidth / 2
	stopEdge := passEdge + spec.TransitionWidth
	switch {
	case spec.Bandwidth <= 0 || spec.Bandwidth >= 1:
		return nil, errs.Configf("filter.bandwidth", "must be in (0, 1), got %g", spec.Bandwidth)
	case spec.PassRipple <= 0 || spec.PassRipple >= 1:
		return nil, errs.Configf("filter.passRipple", "must be in (0, 1), got %g", spec.PassRipple)
	case spec.StopAttenuation <= 0:
		return nil, errs.Configf("filter.stopAttenuation", "must be positive, got %g", spec.StopAttenuation)
	case spec.TransitionWidth <= 0 || stopEdge >= 0.5:
		return nil, errs.Configf("filter.transitionWidth", "stop edge %g must lie in (passband edge, 0.5)", stopEdge)
	}

	stopRipple := math.Pow(10, -spec.StopAttenuation/20)
	n := estimateOrder(spec.PassRipple, stopRipple, spec.TransitionWidth)
	proto := remezLowpass(n, passEdge, stopEdge, stopRipple/spec.PassRipple)

	half := (n - 1) / 2
	taps := make([]complex128, n)
	for k, h := range proto {
		taps[k] = complex(h, 0) * cmplx.Rect(1, 2*math.Pi*spec.Shift*float64(k-half))
	}
	return taps, nil
}

// DecimationFilter designs the anti-alias low-pass filter used ahead of
// decimation by factor. The stopband starts at the output Nyquist frequency
// and the transition occupies the given fraction of the band below it. A
// factor of 1 needs no filter and yields nil.
func DecimationFilter(factor int, passRipple, stopAttenuation, transitionFraction float64) ([]complex128, error) {
	if factor < 1 {
		return nil, errs.Configf("coarse.decimation", "must be positive, got %d", factor)
	}
	if factor == 1 {
		return nil, nil
	}
	stopEdge := 0.5 / float64(factor)
	passEdge := stopEdge * (1 - transitionFraction)
	return BandpassEquirippleFilter(FilterSpec{
		Bandwidth:       2 * passEdge,
		PassRipple:      passRipple,
		StopAttenuation: stopAttenuation,
		TransitionWidth: stopEdge - passEdge,
	})
}

// estimateOrder returns an odd tap count from the Kaiser estimate.
func estimateOrder(dp, ds, width float64) int {
	n := int(math.Ceil((-20*math.Log10(math.Sqrt(dp*ds))-13)/(14.6*width))) + 1
	if n < 3 {
		n = 3
	}
	if n > maxFilterTaps {
		n = maxFilterTaps
	}
	if n%2 == 0 {
		n++
	}
	return n
}

// remezLowpass returns the n symmetric taps of the minimax low-pass filter
// with the given band edges; stopWeight weights stopband error relative to
// the passband.
func remezLowpass(n int, passEdge, stopEdge, stopWeight float64) []float64 {
	r := (n-1)/2 + 1

	// Dense frequency grid over both bands.
	delta := 0.5 / float64(remezGridDensity*r)
	var grid, des, wt []float64
	for f := 0.0; f < passEdge-delta/2; f += delta {
		grid, des, wt = append(grid, f), append(des, 1), append(wt, 1)
	}
	grid, des, wt = append(grid, passEdge), append(des, 1), append(wt, 1)
	for f := stopEdge; f < 0.5-delta/2; f += delta {
		grid, des, wt = append(grid, f), append(des, 0), append(wt, stopWeight)
	}
	grid, des, wt = append(grid, 0.5), append(des, 0), append(wt, stopWeight)
	ng := len(grid)

	x := make([]float64, ng)
	for i, f := range grid {
		x[i] = math.Cos(2 * math.Pi * f)
	}

	ext := make([]int, r+1)
	for i := range ext {
		ext[i] = i * (ng - 1) / r
	}

	var ip *interp
	errv := make([]float64, ng)
	for iter := 0; iter < remezMaxIter; iter++ {
		ip = newInterp(x, des, wt, ext)
		for i := range grid {
			errv[i] = wt[i] * (des[i] - ip.eval(x[i]))
		}

		next, ok := findExtrema(errv, r+1)
		if !ok {
			break
		}
		ext = next

		lo, hi := math.Inf(1), 0.0
		for _, k := range ext {
			a := math.Abs(errv[k])
			lo, hi = math.Min(lo, a), math.Max(hi, a)
		}
		if hi == 0 || (hi-lo)/hi < remezTolerance {
			break
		}
	}
	ip = newInterp(x, des, wt, ext)

	// Frequency sampling of the amplitude response gives the taps.
	half := r - 1
	amp := make([]float64, r)
	for k := range amp {
		amp[k] = ip.eval(math.Cos(2 * math.Pi * float64(k) / float64(n)))
	}
	h := make([]float64, n)
	for i := range h {
		v := amp[0]
		for k := 1; k < r; k++ {
			v += 2 * amp[k] * math.Cos(2*math.Pi*float64(k*(i-half))/float64(n))
		}
		h[i] = v / float64(n)
	}
	return h
}

// interp is the barycentric form of the trial amplitude response through
// the current extremal set.
type interp struct {
	x, y, ad []float64
}

func newInterp(x, des, wt []float64, ext []int) *interp {
	m := len(ext)
	xs := make([]float64, m)
	for i, k := range ext {
		xs[i] = x[k]
	}

	ad := make([]float64, m)
	for i := range ad {
		d := 1.0
		for j := range xs {
			if j != i {
				d *= 2 * (xs[i] - xs[j])
			}
		}
		if math.Abs(d) < 1e-300 {
			d = math.Copysign(1e-300, d)
		}
		ad[i] = 1 / d
	}

	// Alternating deviation through the reference set.
	var num, den float64
	sign := 1.0
	for i, k := range ext {
		num += ad[i] * des[k]
		den += sign * ad[i] / wt[k]
		sign = -sign
	}
	dev := num / den

	y := make([]float64, m)
	sign = 1.0
	for i, k := range ext {
		y[i] = des[k] - sign*dev/wt[k]
		sign = -sign
	}
	return &interp{x: xs, y: y, ad: ad}
}

func (p *interp) eval(x float64) float64 {
	var num, den float64
	for i, xi := range p.x {
		d := x - xi
		if math.Abs(d) < 1e-12 {
			return p.y[i]
		}
		c := p.ad[i] / d
		num += c * p.y[i]
		den += c
	}
	return num / den
}

// findExtrema picks want alternating local extrema of e. Runs of same-sign
// extrema keep their largest member; surplus extrema are dropped from the
// end with the smaller magnitude.
func findExtrema(e []float64, want int) ([]int, bool) {
	n := len(e)
	var cand []int
	for k := 0; k < n; k++ {
		v := e[k]
		if v == 0 {
			continue
		}
		left := k == 0 || (v > 0 && v >= e[k-1]) || (v < 0 && v <= e[k-1])
		right := k == n-1 || (v > 0 && v >= e[k+1]) || (v < 0 && v <= e[k+1])
		if left && right {
			cand = append(cand, k)
		}
	}

	var alt []int
	for _, k := range cand {
		if len(alt) > 0 {
			last := alt[len(alt)-1]
			if (e[last] > 0) == (e[k] > 0) {
				if math.Abs(e[k]) > math.Abs(e[last]) {
					alt[len(alt)-1] = k
				}
				continue
			}
		}
		alt = append(alt, k)
	}

	for len(alt) > want {
		if math.Abs(e[alt[0]]) < math.Abs(e[alt[len(alt)-1]]) {
			alt = alt[1:]
		} else {
			alt = alt[:len(alt)-1]
		}
	}
	if len(alt) < want {
		return nil, false
	}
	return alt, true
}

// FrequencyResponse evaluates the transfer function of taps at frequency f
// in cycles per sample, relative to the centre tap.
func FrequencyResponse(taps []complex128, f float64) complex128 {
	half := (len(taps) - 1) / 2
	var acc complex128
	for k, h := range taps {
		acc += h * cmplx.Rect(1, -2*math.Pi*f*float64(k-half))
	}
	return acc
}
