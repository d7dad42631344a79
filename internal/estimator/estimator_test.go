// SPDX-License-Identifier: AGPL-3.0-or-later
package estimator_test

import (
	"context"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/estimator"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, q *graph.Queue) []graph.Packet {
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

func matrixOfOnes(rows, cols int) graph.Matrix {
	m := graph.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = 1
	}
	return m
}

func TestContextManagerPrimesThenSteadyState(t *testing.T) {
	t.Parallel()
	// left=2, right=1 -> threshold = 4 frames before the first emission.
	identity := func(m graph.Matrix) (graph.Matrix, error) { return m, nil }
	e := estimator.New(estimator.Options{LeftContext: 2, RightContext: 1, OutKey: "posteriors"}, identity)

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage := graph.NewStage("est", in, out, e, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))

	// First chunk: 3 frames, below threshold (4) -> priming, no output.
	require.NoError(t, in.Put(ctx, graph.NewMatrixPacket(1, 1, matrixOfOnes(3, 2))))
	// Second chunk: 2 more frames -> total buffered 5 >= 4, emits.
	require.NoError(t, in.Put(ctx, graph.NewMatrixPacket(2, 1, matrixOfOnes(2, 2))))
	in.Stop()

	packets := drain(t, out)
	require.Len(t, packets, 1)
	_, ok := packets[0].Get("posteriors")
	assert.True(t, ok)
}

func TestEstimatorAppliesSoftmaxLogAndPriors(t *testing.T) {
	t.Parallel()
	fn := func(m graph.Matrix) (graph.Matrix, error) { return m, nil }
	e := estimator.New(estimator.Options{
		Softmax: true,
		Log:     true,
		Priors:  []float32{0, 0},
		OutKey:  "posteriors",
	}, fn)

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage := graph.NewStage("est", in, out, e, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	require.NoError(t, in.Put(ctx, graph.NewMatrixPacket(1, 1, matrixOfOnes(2, 2))))
	in.Stop()

	packets := drain(t, out)
	require.Len(t, packets, 1)
	val, ok := packets[0].Get("posteriors")
	require.True(t, ok)
	probs := val.(graph.Matrix)
	// softmax over two equal logits -> 0.5 each -> log(0.5) on both.
	assert.InDelta(t, -0.6931, probs.At(0, 0), 1e-3)
}
