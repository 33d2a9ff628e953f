package resample

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D performs a 2D Fast Fourier Transform in place on a rows × cols block
// stored in row-major order. Rows are transformed first, then columns.
//
// The transform is unnormalized in both directions: a forward transform
// followed by an inverse one scales the block by rows*cols.
func fft2D(data []complex128, rows, cols int, inverse bool) {
	// Row-wise pass
	rowFFT := fourier.NewCmplxFFT(cols)
	buf := make([]complex128, cols)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		if inverse {
			rowFFT.Sequence(buf, row)
		} else {
			rowFFT.Coefficients(buf, row)
		}
		copy(row, buf)
	}

	// Column-wise pass
	colFFT := fourier.NewCmplxFFT(rows)
	colIn := make([]complex128, rows)
	colOut := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			colIn[i] = data[i*cols+j]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for i := 0; i < rows; i++ {
			data[i*cols+j] = colOut[i]
		}
	}
}

// spectralBins maps bin k of an n-point spectrum onto an m-point spectrum
// (m ≥ n) with zero padding between the positive and negative frequencies.
// For even n the Nyquist bin is split in half between both sides so that a
// real input stays real.
func spectralBins(k, n, m int) ([2]int, [2]float64, int) {
	if m == n {
		return [2]int{k}, [2]float64{1}, 1
	}
	half := n / 2
	switch {
	case n%2 == 0 && k == half:
		return [2]int{half, m - half}, [2]float64{0.5, 0.5}, 2
	case k <= half:
		return [2]int{k}, [2]float64{1}, 1
	default:
		return [2]int{m - (n - k)}, [2]float64{1}, 1
	}
}
