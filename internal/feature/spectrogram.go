// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"time"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
)

// NewSpectrogramStage builds a Stage computing log power (or amplitude)
// spectra: dither → DC-remove → energy → pre-emphasis → window → SRFFT →
// power → floor → log, with the first coefficient optionally replaced by
// the frame's own log-energy.
func NewSpectrogramStage(name string, in, out *graph.Queue, opts Options, frameLen int, timescale time.Duration, m *metrics.Metrics) (*graph.Stage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p := newPipeline(opts, frameLen)

	fn := func(batch graph.Matrix) (graph.Matrix, error) {
		half := p.fftLen/2 + 1
		out := graph.NewMatrix(batch.Rows, half)
		for r := 0; r < batch.Rows; r++ {
			windowed, energy := p.prepareFrame(batch.Row(r))
			power := p.powerSpectrum(windowed)
			logPower := dsp.Log(power, opts.EnergyFloor)
			copy(out.Row(r), logPower)
			if opts.UseEnergy {
				out.Set(r, 0, energy)
			}
		}
		return out, nil
	}

	d := NewDriver(opts, frameLen, fn, graph.MainKey)
	return graph.NewStage(name, in, out, d, timescale, m), nil
}
