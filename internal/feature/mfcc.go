// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"time"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
)

// NewMFCCStage builds a Stage computing MFCCs: power spectrum → mel
// filterbank → floor+log → DCT → cepstral liftering, with the first
// cepstral coefficient optionally replaced by the frame's own log-energy.
func NewMFCCStage(name string, in, out *graph.Queue, opts Options, frameLen int, timescale time.Duration, m *metrics.Metrics) (*graph.Stage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p := newPipeline(opts, frameLen).withMelBank().withDCT()

	fn := func(batch graph.Matrix) (graph.Matrix, error) {
		out := graph.NewMatrix(batch.Rows, opts.NumCeps)
		for r := 0; r < batch.Rows; r++ {
			windowed, energy := p.prepareFrame(batch.Row(r))
			power := p.powerSpectrum(windowed)
			bins := dsp.ApplyFilterbank(power, p.melBank)
			bins = dsp.Log(bins, opts.EnergyFloor)

			melRow := graph.NewMatrix(1, opts.NumBins)
			copy(melRow.Row(0), bins)
			cepstra := dsp.Matmul(melRow, p.dct).Row(0)
			if p.lifter != nil {
				cepstra = dsp.ApplyLifter(cepstra, p.lifter)
			}
			copy(out.Row(r), cepstra)
			if opts.UseEnergy {
				out.Set(r, 0, energy)
			}
		}
		return out, nil
	}

	d := NewDriver(opts, frameLen, fn, graph.MainKey)
	return graph.NewStage(name, in, out, d, timescale, m), nil
}
