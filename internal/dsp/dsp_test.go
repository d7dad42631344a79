// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp_test

import (
	"math"
	"testing"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreEmphasisBoundary(t *testing.T) {
	t.Parallel()
	x := []float32{10, 2, 3, 4}
	const alpha = float32(0.97)
	y := dsp.PreEmphasis1D(x, alpha)
	assert.InDelta(t, float64(x[0]*(1-alpha)), float64(y[0]), 1e-6)
}

func TestDCTOrthonormalColumns(t *testing.T) {
	t.Parallel()
	const numBins, numCeps = 23, 13
	m := dsp.DCTMatrix(numBins, numCeps)

	for c1 := 0; c1 < numCeps; c1++ {
		for c2 := c1; c2 < numCeps; c2++ {
			var dot float64
			for r := 0; r < numBins; r++ {
				dot += float64(m.At(r, c1)) * float64(m.At(r, c2))
			}
			if c1 == c2 {
				assert.InDelta(t, 1.0, dot, 1e-4)
			} else {
				assert.InDelta(t, 0.0, dot, 1e-4)
			}
		}
	}
}

func TestMelBankPartitionOfUnity(t *testing.T) {
	t.Parallel()
	const fftLen = 512
	const sampleRate = 16000.0
	bank := dsp.MelBank(23, fftLen, sampleRate, 20, 0)

	for bin := 0; bin < bank.Rows-1; bin++ {
		for k := 0; k < bank.Cols; k++ {
			a := bank.At(bin, k)
			b := bank.At(bin+1, k)
			if a > 0.05 && a < 0.95 && b > 0.05 && b < 0.95 {
				assert.InDelta(t, 1.0, float64(a+b), 1e-3)
			}
		}
	}
}

func TestSRFFTPowerPeakAtBinK(t *testing.T) {
	t.Parallel()
	const n = 256
	const k = 10
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * float64(k) * float64(i) / float64(n)))
	}

	fft := dsp.SRFFT(frame)
	power := dsp.PowerSpectrum(fft)

	peak := 0
	for i, v := range power {
		if v > power[peak] {
			peak = i
		}
	}
	assert.Equal(t, k, peak)
}

func TestSpliceReplicatesBoundaries(t *testing.T) {
	t.Parallel()
	feats := graph.NewMatrix(3, 1)
	feats.Set(0, 0, 1)
	feats.Set(1, 0, 2)
	feats.Set(2, 0, 3)

	spliced := dsp.Splice(feats, 1, 1)
	require.Equal(t, 3, spliced.Cols)
	// row 0: [t-1 clamped to row0, row0, row1] = [1,1,2]
	assert.Equal(t, []float32{1, 1, 2}, spliced.Row(0))
	// row 2: [row1, row2, t+1 clamped to row2] = [2,3,3]
	assert.Equal(t, []float32{2, 3, 3}, spliced.Row(2))
}

func TestLDADimMismatch(t *testing.T) {
	t.Parallel()
	feats := graph.NewMatrix(2, 3)
	transform := graph.NewMatrix(4, 2)
	_, err := dsp.LDA(feats, transform)
	assert.ErrorIs(t, err, dsp.ErrDimMismatch)
}

func TestLogEnergyFloor(t *testing.T) {
	t.Parallel()
	e := dsp.LogEnergy1D([]float32{0, 0, 0}, 1.19e-7)
	assert.InDelta(t, math.Log(1.19e-7), float64(e), 1e-6)
}
