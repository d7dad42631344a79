// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feature implements the C6 extractors (Spectrogram, fBank, MFCC,
// Mixture): a shared batch-accumulating driver dispatching to a pure
// extract function built from internal/dsp kernels, with 2-way
// intra-batch parallelism above a configurable threshold.
package feature

import (
	"fmt"
	"math/rand/v2"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/speechgraph/sgraph/internal/dsp"
)

// Options configures every extractor. Validate checks the window type,
// sample rate, bin and cepstrum counts, low frequency, pre-emphasis
// coefficient, batch sizes and energy floor; BlackmanCoeff, DitherFactor,
// HighFreq and LifterCoeff are not checked.
type Options struct {
	SampleRate float64

	WindowType    dsp.WindowType
	BlackmanCoeff float64

	DitherFactor   float32
	RemoveDCOffset bool
	PreemphCoeff   float32

	UsePower bool // power (x²) spectrum vs amplitude (|x|)
	UseLog   bool
	UseEnergy bool
	EnergyFloor float64

	NumBins     int
	NumCeps     int
	LowFreq     float64
	HighFreq    float64 // ≤0 means Nyquist+HighFreq
	LifterCoeff float64

	BatchSize       int
	MinParallelSize int

	// RNG seeds the dither generator deterministically; nil means "derive
	// one deterministically from the option hash", matching the spec's
	// "seeded deterministically by caller config".
	RNG *rand.Rand
}

// Validate checks every knob the reference validates at construction
// time.
func (o Options) Validate() error {
	switch o.WindowType {
	case dsp.WindowHanning, dsp.WindowSine, dsp.WindowHamming, dsp.WindowPovey, dsp.WindowRectangular, dsp.WindowBlackman:
	default:
		return fmt.Errorf("feature: unknown window type %q", o.WindowType)
	}
	if o.SampleRate <= 0 {
		return fmt.Errorf("feature: sampleRate must be positive, got %v", o.SampleRate)
	}
	if o.NumBins <= 0 {
		return fmt.Errorf("feature: numBins must be positive, got %d", o.NumBins)
	}
	if o.NumCeps < 0 || o.NumCeps > o.NumBins {
		return fmt.Errorf("feature: numCeps must be in [0, numBins], got %d", o.NumCeps)
	}
	if o.LowFreq < 0 {
		return fmt.Errorf("feature: lowFreq must be non-negative, got %v", o.LowFreq)
	}
	if o.PreemphCoeff < 0 || o.PreemphCoeff >= 1 {
		return fmt.Errorf("feature: preemphCoeff must be in [0,1), got %v", o.PreemphCoeff)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("feature: batchSize must be positive, got %d", o.BatchSize)
	}
	if o.MinParallelSize <= 0 {
		return fmt.Errorf("feature: minParallelSize must be positive, got %d", o.MinParallelSize)
	}
	if o.EnergyFloor <= 0 {
		return fmt.Errorf("feature: energyFloor must be positive, got %v", o.EnergyFloor)
	}
	return nil
}

// seededRNG derives a deterministic *rand.Rand from the option set's hash
// when the caller didn't supply one explicitly, so dither is reproducible
// run-to-run for a given configuration without the caller threading a
// generator through construction by hand.
func (o Options) seededRNG() *rand.Rand {
	if o.RNG != nil {
		return o.RNG
	}
	h, err := hashstructure.Hash(o, hashstructure.FormatV2, nil)
	if err != nil {
		h = 0x5eed
	}
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}
