// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"time"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
)

// NewFBankStage builds a Stage computing mel filterbank energies: the
// spectrogram pipeline through the power spectrum, then projected through
// the mel filterbank, optionally log-compressed, with the frame's own
// log-energy optionally prepended as an extra leading column.
func NewFBankStage(name string, in, out *graph.Queue, opts Options, frameLen int, timescale time.Duration, m *metrics.Metrics) (*graph.Stage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p := newPipeline(opts, frameLen).withMelBank()

	dim := opts.NumBins
	if opts.UseEnergy {
		dim++
	}

	fn := func(batch graph.Matrix) (graph.Matrix, error) {
		out := graph.NewMatrix(batch.Rows, dim)
		for r := 0; r < batch.Rows; r++ {
			windowed, energy := p.prepareFrame(batch.Row(r))
			power := p.powerSpectrum(windowed)
			bins := dsp.ApplyFilterbank(power, p.melBank)
			if opts.UseLog {
				bins = dsp.Log(bins, opts.EnergyFloor)
			}
			orow := out.Row(r)
			offset := 0
			if opts.UseEnergy {
				orow[0] = energy
				offset = 1
			}
			copy(orow[offset:], bins)
		}
		return out, nil
	}

	d := NewDriver(opts, frameLen, fn, graph.MainKey)
	return graph.NewStage(name, in, out, d, timescale, m), nil
}
