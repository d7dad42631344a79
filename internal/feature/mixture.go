// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"context"
	"time"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Keys Mixture stamps its three outputs under.
const (
	KeySpectrogram = "spectrogram"
	KeyFBank       = "fbank"
	KeyMFCC        = "mfcc"
)

// mixtureResult is one batch's worth of all three representations.
type mixtureResult struct {
	spectrogram graph.Matrix
	fbank       graph.Matrix
	mfcc        graph.Matrix
}

// mixtureDriver is Driver's sibling for the one extractor that needs more
// than a single named output per batch: it computes the power spectrum
// once per frame and derives the spectrogram, fBank, and MFCC views from
// that shared computation instead of recomputing the FFT three times.
type mixtureDriver struct {
	opts Options
	p    *pipeline

	pending   [][]float32
	frameLen  int
	lastChunk int64
	id        uint64
}

// NewMixtureStage builds a Stage that emits, per batch, a single Matrix
// packet carrying the spectrogram, fBank, and MFCC representations under
// the KeySpectrogram/KeyFBank/KeyMFCC keys — each derived from one shared
// per-frame power-spectrum computation.
func NewMixtureStage(name string, in, out *graph.Queue, opts Options, frameLen int, timescale time.Duration, m *metrics.Metrics) (*graph.Stage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d := &mixtureDriver{
		opts:     opts,
		p:        newPipeline(opts, frameLen).withMelBank().withDCT(),
		frameLen: frameLen,
		id:       graph.NextProducerID(),
	}
	return graph.NewStage(name, in, out, d, timescale, m), nil
}

func (d *mixtureDriver) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if err := d.flush(ctx, out); err != nil {
			return err
		}
		return out.Put(ctx, in.WithIDs(in.ChunkID, d.id))
	}
	if in.IsNull() {
		return nil
	}
	vec := in.MainVector()
	if len(vec) != d.frameLen {
		return errShapeMismatch("feature.mixture", d.frameLen, len(vec))
	}
	frame := make([]float32, len(vec))
	copy(frame, vec)
	d.pending = append(d.pending, frame)
	d.lastChunk = in.ChunkID
	if len(d.pending) >= d.opts.BatchSize {
		return d.flush(ctx, out)
	}
	return nil
}

func (d *mixtureDriver) Finalize(ctx context.Context, out *graph.Queue) error {
	return d.flush(ctx, out)
}

func (d *mixtureDriver) Reset() {
	d.pending = nil
	d.lastChunk = 0
}

func (d *mixtureDriver) flush(ctx context.Context, out *graph.Queue) error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := graph.NewMatrix(len(d.pending), d.frameLen)
	for r, frame := range d.pending {
		copy(batch.Row(r), frame)
	}
	d.pending = nil

	result, err := d.dispatch(ctx, batch)
	if err != nil {
		return err
	}

	p := graph.NewMatrixPacket(d.lastChunk, d.id, result.spectrogram)
	p = p.With(KeySpectrogram, result.spectrogram)
	p = p.With(KeyFBank, result.fbank)
	p = p.With(KeyMFCC, result.mfcc)
	return out.Put(ctx, p)
}

func (d *mixtureDriver) dispatch(ctx context.Context, batch graph.Matrix) (mixtureResult, error) {
	if batch.Rows < d.opts.MinParallelSize || batch.Rows < 2 {
		return d.compute(batch), nil
	}
	mid := batch.Rows / 2
	lo := sliceRows(batch, 0, mid)
	hi := sliceRows(batch, mid, batch.Rows)

	var loRes, hiRes mixtureResult
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { loRes = d.compute(lo); return nil })
	g.Go(func() error { hiRes = d.compute(hi); return nil })
	if err := g.Wait(); err != nil {
		return mixtureResult{}, err
	}
	return mixtureResult{
		spectrogram: concatRows(loRes.spectrogram, hiRes.spectrogram),
		fbank:       concatRows(loRes.fbank, hiRes.fbank),
		mfcc:        concatRows(loRes.mfcc, hiRes.mfcc),
	}, nil
}

func (d *mixtureDriver) compute(batch graph.Matrix) mixtureResult {
	opts := d.opts
	half := d.p.fftLen/2 + 1
	fbankDim := opts.NumBins
	if opts.UseEnergy {
		fbankDim++
	}

	spec := graph.NewMatrix(batch.Rows, half)
	fbank := graph.NewMatrix(batch.Rows, fbankDim)
	mfcc := graph.NewMatrix(batch.Rows, opts.NumCeps)

	for r := 0; r < batch.Rows; r++ {
		windowed, energy := d.p.prepareFrame(batch.Row(r))
		power := d.p.powerSpectrum(windowed)

		copy(spec.Row(r), dsp.Log(power, opts.EnergyFloor))
		if opts.UseEnergy {
			spec.Set(r, 0, energy)
		}

		bins := dsp.ApplyFilterbank(power, d.p.melBank)
		fbankBins := bins
		if opts.UseLog {
			fbankBins = dsp.Log(bins, opts.EnergyFloor)
		}

		frow := fbank.Row(r)
		offset := 0
		if opts.UseEnergy {
			frow[0] = energy
			offset = 1
		}
		copy(frow[offset:], fbankBins)

		melRow := graph.NewMatrix(1, opts.NumBins)
		copy(melRow.Row(0), dsp.Log(bins, opts.EnergyFloor))
		cepstra := dsp.Matmul(melRow, d.p.dct).Row(0)
		if d.p.lifter != nil {
			cepstra = dsp.ApplyLifter(cepstra, d.p.lifter)
		}
		copy(mfcc.Row(r), cepstra)
		if opts.UseEnergy {
			mfcc.Set(r, 0, energy)
		}
	}
	return mixtureResult{spectrogram: spec, fbank: fbank, mfcc: mfcc}
}
