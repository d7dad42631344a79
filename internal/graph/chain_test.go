// SPDX-License-Identifier: AGPL-3.0-or-later
package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainAutoWiresAdjacentStages(t *testing.T) {
	t.Parallel()
	q1 := graph.NewQueue("source.out", 8, time.Second)
	q2 := graph.NewQueue("doubler.out", 8, time.Second)

	src := graph.NewStage("source", nil, q1, &sourceWorker{n: 1, id: graph.NextProducerID()}, 5*time.Millisecond, nil)
	dbl := graph.NewStage("doubler", nil, q2, doublingWorker{id: graph.NextProducerID()}, 5*time.Millisecond, nil)

	c := graph.NewChain()
	c.Add(src)
	c.Add(dbl)

	assert.Same(t, q1, dbl.In, "Chain.Add must auto-wire a bare stage's input to the previous stage's output")
}

func TestDynamicRunCompletesChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q1 := graph.NewQueue("source.out", 8, time.Second)
	q2 := graph.NewQueue("doubler.out", 8, time.Second)

	src := graph.NewStage("source", nil, q1, &sourceWorker{n: 2, id: graph.NextProducerID()}, 5*time.Millisecond, nil)
	dbl := graph.NewStage("doubler", q1, q2, doublingWorker{id: graph.NextProducerID()}, 5*time.Millisecond, nil)

	c := graph.NewChain()
	c.Add(src)
	c.Add(dbl)

	require.NoError(t, graph.DynamicRun(ctx, c, nil))
	assert.Equal(t, graph.StateTerminated, q2.State())
}
