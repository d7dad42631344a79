// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp

import (
	"math"
	"math/bits"

	"github.com/speechgraph/sgraph/internal/graph"
)

// NextPowerOfTwo returns the smallest power of two ≥ n (n ≥ 1).
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// SRFFT computes the split-radix real FFT of frame, zero-padding to the
// next power of two ≥ len(frame). The result is the full N-point complex
// spectrum, returned as an N×2 matrix of (real, imag) pairs — row k holds
// bin k, including the redundant conjugate-symmetric upper half, which
// PowerSpectrum folds away.
func SRFFT(frame []float32) graph.Matrix {
	n := NextPowerOfTwo(len(frame))
	re := make([]float64, n)
	im := make([]float64, n)
	copy(re, float64Slice(frame))

	fftRadix2(re, im)

	out := graph.NewMatrix(n, 2)
	for i := 0; i < n; i++ {
		out.Set(i, 0, float32(re[i]))
		out.Set(i, 1, float32(im[i]))
	}
	return out
}

func float64Slice(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// fftRadix2 is an in-place iterative Cooley-Tukey FFT (decimation in
// time). n must be a power of two. This computes the same N-point DFT a
// split-radix decomposition would, in the more legible radix-2 form —
// only the recursion strategy differs, not the result.
func fftRadix2(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wlRe, wlIm := math.Cos(ang), math.Sin(ang)
		for i := 0; i < n; i += length {
			wRe, wIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				uRe, uIm := re[i+k], im[i+k]
				vRe := re[i+k+half]*wRe - im[i+k+half]*wIm
				vIm := re[i+k+half]*wIm + im[i+k+half]*wRe

				re[i+k] = uRe + vRe
				im[i+k] = uIm + vIm
				re[i+k+half] = uRe - vRe
				im[i+k+half] = uIm - vIm

				nextWRe := wRe*wlRe - wIm*wlIm
				nextWIm := wRe*wlIm + wIm*wlRe
				wRe, wIm = nextWRe, nextWIm
			}
		}
	}
}

// PowerSpectrum folds SRFFT's packed full-spectrum output into an
// (fftLen/2+1)-length magnitude-squared vector, one value per
// non-redundant bin from DC to Nyquist inclusive.
func PowerSpectrum(fft graph.Matrix) []float32 {
	n := fft.Rows
	half := n/2 + 1
	out := make([]float32, half)
	for k := 0; k < half; k++ {
		re := fft.At(k, 0)
		im := fft.At(k, 1)
		out[k] = re*re + im*im
	}
	return out
}
