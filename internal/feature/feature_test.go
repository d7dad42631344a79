// SPDX-License-Identifier: AGPL-3.0-or-later
package feature_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/feature"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOpts() feature.Options {
	return feature.Options{
		SampleRate:      16000,
		WindowType:      dsp.WindowPovey,
		DitherFactor:    0,
		RemoveDCOffset:  true,
		PreemphCoeff:    0.97,
		UsePower:        true,
		UseLog:          true,
		UseEnergy:       true,
		EnergyFloor:     1.19e-7,
		NumBins:         23,
		NumCeps:         13,
		LowFreq:         20,
		HighFreq:        0,
		LifterCoeff:     22,
		BatchSize:       8,
		MinParallelSize: 4,
	}
}

func sineFrame(n, freqBin int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * float64(freqBin) * float64(i) / float64(n)))
	}
	return frame
}

func drainMatrix(t *testing.T, q *graph.Queue) []graph.Packet {
	t.Helper()
	var out []graph.Packet
	for {
		p, err := q.Get(context.Background())
		if err != nil {
			return out
		}
		out = append(out, p)
	}
}

func TestOptionsValidateRejectsBadWindow(t *testing.T) {
	t.Parallel()
	o := baseOpts()
	o.WindowType = "nonsense"
	assert.Error(t, o.Validate())
}

func TestOptionsValidateRejectsBadCeps(t *testing.T) {
	t.Parallel()
	o := baseOpts()
	o.NumCeps = o.NumBins + 1
	assert.Error(t, o.Validate())
}

func TestMFCCStageProducesBatchOfExpectedShape(t *testing.T) {
	t.Parallel()
	const frameLen = 400
	opts := baseOpts()
	opts.BatchSize = 4
	opts.MinParallelSize = 100 // force the non-parallel path

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage, err := feature.NewMFCCStage("mfcc", in, out, opts, frameLen, time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))

	for i := 0; i < 4; i++ {
		require.NoError(t, in.Put(ctx, graph.NewVector(int64(i+1), 1, sineFrame(frameLen, 10))))
	}
	in.Stop()

	packets := drainMatrix(t, out)
	require.Len(t, packets, 1)
	m := packets[0].MainMatrix()
	assert.Equal(t, 4, m.Rows)
	assert.Equal(t, opts.NumCeps, m.Cols)
}

func TestMFCCStageSplitsParallelBatch(t *testing.T) {
	t.Parallel()
	const frameLen = 400
	opts := baseOpts()
	opts.BatchSize = 6
	opts.MinParallelSize = 2 // force the split path

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage, err := feature.NewMFCCStage("mfcc", in, out, opts, frameLen, time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	for i := 0; i < 6; i++ {
		require.NoError(t, in.Put(ctx, graph.NewVector(int64(i+1), 1, sineFrame(frameLen, 10))))
	}
	in.Stop()

	packets := drainMatrix(t, out)
	require.Len(t, packets, 1)
	assert.Equal(t, 6, packets[0].MainMatrix().Rows)
}

func TestDriverFlushesPartialBatchOnEndpoint(t *testing.T) {
	t.Parallel()
	const frameLen = 400
	opts := baseOpts()
	opts.BatchSize = 10

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage, err := feature.NewSpectrogramStage("spec", in, out, opts, frameLen, time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, sineFrame(frameLen, 5))))
	require.NoError(t, in.Put(ctx, graph.NewVector(2, 1, sineFrame(frameLen, 5))))
	require.NoError(t, in.Put(ctx, graph.NewEndpoint(2, 1)))
	in.Stop()

	packets := drainMatrix(t, out)
	require.Len(t, packets, 2)
	assert.Equal(t, 2, packets[0].MainMatrix().Rows)
	assert.True(t, packets[1].IsEndpoint())
}

func TestMixtureStageSharesKeys(t *testing.T) {
	t.Parallel()
	const frameLen = 400
	opts := baseOpts()
	opts.BatchSize = 2
	opts.MinParallelSize = 100

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage, err := feature.NewMixtureStage("mix", in, out, opts, frameLen, time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, sineFrame(frameLen, 5))))
	require.NoError(t, in.Put(ctx, graph.NewVector(2, 1, sineFrame(frameLen, 5))))
	in.Stop()

	packets := drainMatrix(t, out)
	require.Len(t, packets, 1)
	p := packets[0]

	specV, ok := p.Get(feature.KeySpectrogram)
	require.True(t, ok)
	assert.Equal(t, 2, specV.(graph.Matrix).Rows)

	fbankV, ok := p.Get(feature.KeyFBank)
	require.True(t, ok)
	assert.Equal(t, opts.NumBins+1, fbankV.(graph.Matrix).Cols)

	mfccV, ok := p.Get(feature.KeyMFCC)
	require.True(t, ok)
	assert.Equal(t, opts.NumCeps, mfccV.(graph.Matrix).Cols)
}

func TestSpectrogramRejectsWrongFrameLength(t *testing.T) {
	t.Parallel()
	const frameLen = 400
	opts := baseOpts()
	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage, err := feature.NewSpectrogramStage("spec", in, out, opts, frameLen, time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, make([]float32, frameLen-1))))
	in.Stop()

	err = stage.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrShapeMismatch)
	assert.Equal(t, graph.StateWrong, out.State())
}
