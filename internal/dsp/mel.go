// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp

import (
	"math"

	"github.com/speechgraph/sgraph/internal/graph"
)

func hzToMel(f float64) float64 { return 1127 * math.Log(1+f/700) }

// MelBank builds numBins triangular filters spanning [lowFreq, highFreq]
// (highFreq ≤ 0 means Nyquist+highFreq, i.e. "highFreq below Nyquist") over
// an fftLen-point power spectrum, returned as a (numBins, fftLen/2+1)
// matrix of filter weights.
func MelBank(numBins, fftLen int, sampleRate, lowFreq, highFreq float64) graph.Matrix {
	nyquist := sampleRate / 2
	if highFreq <= 0 {
		highFreq = nyquist + highFreq
	}
	half := fftLen/2 + 1
	melLow := hzToMel(lowFreq)
	melHigh := hzToMel(highFreq)
	step := (melHigh - melLow) / float64(numBins+1)

	out := graph.NewMatrix(numBins, half)
	for bin := 0; bin < numBins; bin++ {
		left := melLow + float64(bin)*step
		center := melLow + float64(bin+1)*step
		right := melLow + float64(bin+2)*step
		for k := 0; k < half; k++ {
			freq := float64(k) * sampleRate / float64(fftLen)
			m := hzToMel(freq)
			var w float64
			switch {
			case m <= left || m >= right:
				w = 0
			case m <= center:
				w = (m - left) / (center - left)
			default:
				w = (right - m) / (right - center)
			}
			out.Set(bin, k, float32(w))
		}
	}
	return out
}

// ApplyFilterbank projects a power-spectrum vector through a mel filter
// matrix (numBins, half), returning numBins energies.
func ApplyFilterbank(power []float32, bank graph.Matrix) []float32 {
	out := make([]float32, bank.Rows)
	for bin := 0; bin < bank.Rows; bin++ {
		var sum float32
		row := bank.Row(bin)
		for k, w := range row {
			sum += w * power[k]
		}
		out[bin] = sum
	}
	return out
}

// DCTMatrix builds the orthonormal Type-II DCT transform of shape
// (numBins, numCeps): column 0 is the constant √(1/numBins) term, and
// column c≥1 is √(2/numBins)·cos(π/numBins·(m+0.5)·c) for mel-bin row m.
func DCTMatrix(numBins, numCeps int) graph.Matrix {
	out := graph.NewMatrix(numBins, numCeps)
	c0 := float32(math.Sqrt(1 / float64(numBins)))
	c1 := math.Sqrt(2 / float64(numBins))
	for m := 0; m < numBins; m++ {
		if numCeps > 0 {
			out.Set(m, 0, c0)
		}
		for c := 1; c < numCeps; c++ {
			v := c1 * math.Cos(math.Pi/float64(numBins)*(float64(m)+0.5)*float64(c))
			out.Set(m, c, float32(v))
		}
	}
	return out
}

// Lifter returns the cepstral-liftering coefficients 1+0.5·L·sin(π·i/L)
// for i in [0, numCeps).
func Lifter(numCeps int, l float64) []float32 {
	out := make([]float32, numCeps)
	for i := 0; i < numCeps; i++ {
		out[i] = float32(1 + 0.5*l*math.Sin(math.Pi*float64(i)/l))
	}
	return out
}

// ApplyLifter multiplies cepstra element-wise by the lifter coefficients.
func ApplyLifter(cepstra, lifter []float32) []float32 {
	out := make([]float32, len(cepstra))
	for i := range cepstra {
		out[i] = cepstra[i] * lifter[i]
	}
	return out
}

// Matmul computes a (Din,Dout) projection: a·b, where a is (T, Din) and b
// is (Din, Dout). Used both for the dense LDA/MLLT transform and for the
// MFCC DCT projection of log mel energies; the mel filterbank itself is
// applied by ApplyFilterbank.
func Matmul(a, b graph.Matrix) graph.Matrix {
	out := graph.NewMatrix(a.Rows, b.Cols)
	for t := 0; t < a.Rows; t++ {
		arow := a.Row(t)
		orow := out.Row(t)
		for k, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.Row(k)
			for c, bv := range brow {
				orow[c] += av * bv
			}
		}
	}
	return out
}
