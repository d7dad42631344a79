// SPDX-License-Identifier: AGPL-3.0-or-later
package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetSnapshot exposes the fields of a Packet that are comparable across
// a joint without reaching into its unexported payload map, so assertions
// can diff a whole packet at once instead of field by field.
type packetSnapshot struct {
	Kind       graph.Kind
	ChunkID    int64
	ProducerID uint64
	Main       []float32
}

func snapshot(p graph.Packet) packetSnapshot {
	return packetSnapshot{Kind: p.Kind, ChunkID: p.ChunkID, ProducerID: p.ProducerID, Main: p.MainVector()}
}

func drainAll(t *testing.T, ctx context.Context, q *graph.Queue) []graph.Packet {
	t.Helper()
	var out []graph.Packet
	for {
		p, err := q.Get(ctx)
		if errors.Is(err, graph.ErrNoMoreData) {
			return out
		}
		require.NoError(t, err)
		out = append(out, p)
	}
}

func feedAndStop(t *testing.T, ctx context.Context, q *graph.Queue, pkts ...graph.Packet) {
	t.Helper()
	for _, p := range pkts {
		require.NoError(t, q.Put(ctx, p))
	}
	q.Stop()
}

func TestMapperPreservesChunkAndProducerID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in := graph.NewQueue("in", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)

	feedAndStop(t, ctx, in, graph.NewVector(5, 42, []float32{1, 2}))

	m := graph.NewMapper("mapper", in, out, func(p graph.Packet) graph.Packet {
		v := p.MainVector()
		scaled := make([]float32, len(v))
		for i, x := range v {
			scaled[i] = x * 10
		}
		return p.With(graph.MainKey, scaled)
	}, 5*time.Millisecond, nil)

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Wait())

	got := drainAll(t, ctx, out)
	require.Len(t, got, 1)
	want := packetSnapshot{Kind: graph.KindVector, ChunkID: 5, ProducerID: 42, Main: []float32{10, 20}}
	if diff := cmp.Diff(want, snapshot(got[0])); diff != "" {
		t.Errorf("mapped packet mismatch (-want +got):\n%s", diff)
	}
}

func TestReplicatorPreservesChunkIDAcrossAllBranches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in := graph.NewQueue("in", 8, time.Second)
	out1 := graph.NewQueue("out1", 8, time.Second)
	out2 := graph.NewQueue("out2", 8, time.Second)

	feedAndStop(t, ctx, in,
		graph.NewVector(1, 1, []float32{1}),
		graph.NewVector(2, 1, []float32{2}),
	)

	r := graph.NewReplicator("replicator", in, []*graph.Queue{out1, out2}, 5*time.Millisecond, nil)
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Wait())

	got1 := drainAll(t, ctx, out1)
	got2 := drainAll(t, ctx, out2)
	require.Len(t, got1, 2)
	require.Len(t, got2, 2)
	for i := range got1 {
		assert.Equal(t, got1[i].ChunkID, got2[i].ChunkID)
	}

	// mutating one branch's payload must not affect the other.
	got1[0].MainVector()[0] = 99
	assert.NotEqual(t, got1[0].MainVector()[0], got2[0].MainVector()[0])
}

func TestCombinerAlignsOutOfStepInputsAndDropsStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inA := graph.NewQueue("a", 8, time.Second)
	inB := graph.NewQueue("b", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)

	// B is two chunks ahead; A's chunk-1 packet is stale once both are
	// aligned at chunk 3 and must be dropped rather than emitted.
	feedAndStop(t, ctx, inA,
		graph.NewVector(1, 1, []float32{100}),
		graph.NewVector(3, 1, []float32{300}),
	)
	feedAndStop(t, ctx, inB,
		graph.NewVector(3, 2, []float32{30}),
	)

	comb := graph.NewCombiner("combiner", []*graph.Queue{inA, inB}, out, func(pkts []graph.Packet) (graph.Packet, error) {
		sum := pkts[0].MainVector()[0] + pkts[1].MainVector()[0]
		return graph.NewVector(0, 0, []float32{sum}), nil
	}, nil)
	require.NoError(t, comb.Start(ctx))
	require.NoError(t, comb.Wait())

	got := drainAll(t, ctx, out)
	require.Len(t, got, 1)
	// The Combiner restamps the combined packet with its own producer id
	// (never 0), replacing the 0 the combine func returned.
	assert.NotZero(t, got[0].ProducerID)
	want := packetSnapshot{Kind: graph.KindVector, ChunkID: 3, ProducerID: got[0].ProducerID, Main: []float32{330}}
	if diff := cmp.Diff(want, snapshot(got[0])); diff != "" {
		t.Errorf("combined packet mismatch (-want +got):\n%s", diff)
	}
}

func TestCombinerEmitsSingleEndpointWhenAllInputsAligned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inA := graph.NewQueue("a", 8, time.Second)
	inB := graph.NewQueue("b", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)

	// An Endpoint put into a queue that has never held a packet is dropped,
	// so every queue first passes one data packet through.
	for _, q := range []*graph.Queue{inA, inB, out} {
		require.NoError(t, q.Put(ctx, graph.NewVector(0, 1, nil)))
		_, err := q.Get(ctx)
		require.NoError(t, err)
	}

	feedAndStop(t, ctx, inA, graph.NewEndpoint(1, 1))
	feedAndStop(t, ctx, inB, graph.NewEndpoint(1, 2))

	comb := graph.NewCombiner("combiner", []*graph.Queue{inA, inB}, out, func(pkts []graph.Packet) (graph.Packet, error) {
		t.Fatal("combine func must not be called for an all-endpoint frontier")
		return graph.Packet{}, nil
	}, nil)
	require.NoError(t, comb.Start(ctx))
	require.NoError(t, comb.Wait())

	got := drainAll(t, ctx, out)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsEndpoint())
}

func TestMergerUnionsKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inA := graph.NewQueue("a", 8, time.Second)
	inB := graph.NewQueue("b", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)

	feedAndStop(t, ctx, inA, graph.NewVector(1, 1, []float32{1, 2}))
	feedAndStop(t, ctx, inB, graph.NewVector(1, 2, []float32{3, 4}))

	merger := graph.NewMerger("merger", []*graph.Queue{inA, inB}, out, []string{"mfcc", "pitch"}, nil)
	require.NoError(t, merger.Start(ctx))
	require.NoError(t, merger.Wait())

	got := drainAll(t, ctx, out)
	require.Len(t, got, 1)
	mfcc, ok := got[0].Get("mfcc")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, mfcc)
	pitch, ok := got[0].Get("pitch")
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, pitch)
}

func TestMergerKeyCollisionKillsQueues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inA := graph.NewQueue("a", 8, time.Second)
	inB := graph.NewQueue("b", 8, time.Second)
	out := graph.NewQueue("out", 8, time.Second)

	feedAndStop(t, ctx, inA, graph.NewVector(1, 1, []float32{1}))
	feedAndStop(t, ctx, inB, graph.NewVector(1, 2, []float32{2}))

	// same key for both inputs forces a collision.
	merger := graph.NewMerger("merger", []*graph.Queue{inA, inB}, out, []string{"same", "same"}, nil)
	require.NoError(t, merger.Start(ctx))
	err := merger.Wait()
	assert.ErrorIs(t, err, graph.ErrKeyCollision)
	assert.Equal(t, graph.StateWrong, out.State())
}
