// SPDX-License-Identifier: AGPL-3.0-or-later
package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/processor"
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

func TestProcessorEmitsCenterFramesInSteadyState(t *testing.T) {
	t.Parallel()
	opts := processor.Options{Left: 1, Center: 2, Right: 1, Dim: 1}
	p := processor.New(opts)

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage := graph.NewStage("proc", in, out, p, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	for i := 1; i <= 8; i++ {
		require.NoError(t, in.Put(ctx, graph.NewVector(int64(i), 1, []float32{float32(i)})))
	}
	in.Stop()

	packets := drain(t, out)
	require.NotEmpty(t, packets)
	for _, p := range packets {
		assert.False(t, p.IsEndpoint())
	}
}

func TestProcessorFlushesTailOnEndpointWithoutRightPadding(t *testing.T) {
	t.Parallel()
	opts := processor.Options{Left: 1, Center: 3, Right: 1, Dim: 1}
	p := processor.New(opts)

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage := graph.NewStage("proc", in, out, p, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	// Fewer than Center frames before the Endpoint: exercises the
	// terminating short-tail path.
	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, []float32{1})))
	require.NoError(t, in.Put(ctx, graph.NewVector(2, 1, []float32{2})))
	require.NoError(t, in.Put(ctx, graph.NewEndpoint(2, 1)))
	in.Stop()

	packets := drain(t, out)
	require.NotEmpty(t, packets)
	assert.True(t, packets[len(packets)-1].IsEndpoint())
}

func TestProcessorAppliesDeltaSpliceLDA(t *testing.T) {
	t.Parallel()
	opts := processor.Options{
		Left: 2, Center: 2, Right: 2, Dim: 1,
		ProcessFunc: processor.DefaultProcessFunc(1, 1, 0, 0, nil),
	}
	p := processor.New(opts)

	in := graph.NewQueue("in", 16, time.Second)
	out := graph.NewQueue("out", 16, time.Second)
	stage := graph.NewStage("proc", in, out, p, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))
	for i := 1; i <= 10; i++ {
		require.NoError(t, in.Put(ctx, graph.NewVector(int64(i), 1, []float32{float32(i)})))
	}
	in.Stop()

	packets := drain(t, out)
	require.NotEmpty(t, packets)
	// delta order 1 doubles the column count: [static|delta].
	assert.Equal(t, 2, len(packets[0].MainVector()))
}
