// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"math/rand/v2"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
)

// pipeline holds everything an extractor precomputes once at construction:
// the analysis window, FFT length, and (for fBank/MFCC) the mel filterbank,
// DCT, and lifter matrices/vectors. None of this is recomputed per frame.
type pipeline struct {
	opts     Options
	frameLen int
	fftLen   int
	window   []float32
	rng      *rand.Rand

	melBank graph.Matrix // (numBins, fftLen/2+1), built lazily by fBank/MFCC
	dct     graph.Matrix // (numBins, numCeps), built lazily by MFCC
	lifter  []float32
}

func newPipeline(opts Options, frameLen int) *pipeline {
	fftLen := dsp.NextPowerOfTwo(frameLen)
	return &pipeline{
		opts:     opts,
		frameLen: frameLen,
		fftLen:   fftLen,
		window:   dsp.Window(opts.WindowType, frameLen, opts.BlackmanCoeff),
		rng:      opts.seededRNG(),
	}
}

func (p *pipeline) withMelBank() *pipeline {
	p.melBank = dsp.MelBank(p.opts.NumBins, p.fftLen, p.opts.SampleRate, p.opts.LowFreq, p.opts.HighFreq)
	return p
}

func (p *pipeline) withDCT() *pipeline {
	p.dct = dsp.DCTMatrix(p.opts.NumBins, p.opts.NumCeps)
	if p.opts.LifterCoeff > 0 {
		p.lifter = dsp.Lifter(p.opts.NumCeps, p.opts.LifterCoeff)
	}
	return p
}

// prepareFrame runs the shared dither→DC-remove→energy→pre-emphasis→window
// stage common to every extractor, returning the windowed frame and the raw
// log-energy computed before pre-emphasis/windowing (Kaldi convention: the
// energy coefficient reflects the frame's true amplitude, not the
// high-pass-filtered, windowed version used for the spectrum).
func (p *pipeline) prepareFrame(raw []float32) (windowed []float32, logEnergy float32) {
	x := raw
	if p.opts.DitherFactor != 0 {
		x = dsp.Dither1D(x, p.opts.DitherFactor, p.rng)
	}
	if p.opts.RemoveDCOffset {
		x = dsp.RemoveDCOffset1D(x)
	}
	logEnergy = dsp.LogEnergy1D(x, p.opts.EnergyFloor)
	x = dsp.PreEmphasis1D(x, p.opts.PreemphCoeff)
	windowed = dsp.ApplyWindow(x, p.window)
	return windowed, logEnergy
}

// powerSpectrum runs SRFFT+PowerSpectrum (optionally amplitude instead of
// power) over an already-windowed frame.
func (p *pipeline) powerSpectrum(windowed []float32) []float32 {
	fft := dsp.SRFFT(windowed)
	power := dsp.PowerSpectrum(fft)
	if !p.opts.UsePower {
		power = dsp.Sqrt(power)
	}
	return power
}
