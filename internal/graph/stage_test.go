// SPDX-License-Identifier: AGPL-3.0-or-later
package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sourceWorker emits n vectors of value [i] then terminates its own output
// queue, the way a wave reader stops once the file is exhausted.
type sourceWorker struct {
	n       int
	emitted int
	id      uint64
}

func (w *sourceWorker) Process(ctx context.Context, _ graph.Packet, out *graph.Queue) error {
	if w.emitted >= w.n {
		out.Stop()
		return nil
	}
	p := graph.NewVector(int64(w.emitted+1), w.id, []float32{float32(w.emitted)})
	w.emitted++
	if w.emitted == w.n {
		if err := out.Put(ctx, p); err != nil {
			return err
		}
		out.Stop()
		return nil
	}
	return out.Put(ctx, p)
}

// doublingWorker passes Endpoint through untouched and doubles every
// vector's elements otherwise.
type doublingWorker struct{ id uint64 }

func (w doublingWorker) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() || in.IsNull() {
		return out.Put(ctx, in)
	}
	v := in.MainVector()
	doubled := make([]float32, len(v))
	for i, x := range v {
		doubled[i] = x * 2
	}
	return out.Put(ctx, graph.NewVector(in.ChunkID, w.id, doubled))
}

var errBoom = errors.New("boom")

type failingWorker struct{ failOn int }

func (w *failingWorker) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if int(in.ChunkID) == w.failOn {
		return errBoom
	}
	return out.Put(ctx, in)
}

func TestStageGracefulShutdownPropagatesThroughChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q1 := graph.NewQueue("source.out", 8, time.Second)
	q2 := graph.NewQueue("doubler.out", 8, time.Second)

	src := graph.NewStage("source", nil, q1, &sourceWorker{n: 3, id: graph.NextProducerID()}, 5*time.Millisecond, nil)
	dbl := graph.NewStage("doubler", q1, q2, doublingWorker{id: graph.NextProducerID()}, 5*time.Millisecond, nil)

	c := graph.NewChain()
	c.Add(src)
	c.Add(dbl)
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Wait())

	assert.Equal(t, graph.StateTerminated, q2.State())

	var got []float32
	for {
		p, err := q2.Get(ctx)
		if errors.Is(err, graph.ErrNoMoreData) {
			break
		}
		require.NoError(t, err)
		got = append(got, p.MainVector()[0])
	}
	assert.Equal(t, []float32{0, 2, 4}, got)
}

func TestStageErrorKillsBothQueues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := graph.NewQueue("in", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)
	st := graph.NewStage("failer", in, out, &failingWorker{failOn: 2}, 5*time.Millisecond, nil)

	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, nil)))
	require.NoError(t, in.Put(ctx, graph.NewVector(2, 1, nil)))
	in.Stop()

	require.NoError(t, st.Start(ctx))
	err := st.Wait()
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, graph.StateWrong, out.State())
}

func TestStageRetryLaterOnStrandedOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := graph.NewQueue("in", 8, time.Second)
	out := graph.NewQueue("out", 1, time.Second)
	require.NoError(t, out.Put(ctx, graph.NewVector(0, 1, nil)))
	out.Block()

	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, nil)))
	st := graph.NewStage("stalled", in, out, doublingWorker{id: 9}, 5*time.Millisecond, nil)
	require.NoError(t, st.Start(ctx))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, in.Size(), "stage must not consume input while output is stranded")

	out.Unblock()
	_, _ = out.Get(ctx)
	in.Stop()
	require.NoError(t, st.Wait())
}
