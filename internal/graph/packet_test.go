// SPDX-License-Identifier: AGPL-3.0-or-later
package graph_test

import (
	"testing"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIsEndpoint(t *testing.T) {
	t.Parallel()
	ep := graph.NewEndpoint(3, 1)
	assert.True(t, ep.IsEndpoint())

	vec := graph.NewVector(3, 1, []float32{1, 2, 3})
	assert.False(t, vec.IsEndpoint())
}

func TestPacketWithIsCopyOnWrite(t *testing.T) {
	t.Parallel()
	base := graph.NewVector(1, 1, []float32{1, 2})
	extended := base.With("aux", []float32{9})

	_, ok := base.Get("aux")
	assert.False(t, ok, "With must not mutate the receiver")

	v, ok := extended.Get("aux")
	require.True(t, ok)
	assert.Equal(t, []float32{9}, v)
}

func TestMatrixRowSharesBackingArray(t *testing.T) {
	t.Parallel()
	m := graph.NewMatrix(2, 3)
	row := m.Row(1)
	row[0] = 42
	assert.Equal(t, float32(42), m.At(1, 0))
}

func TestMatrixCloneIsIndependent(t *testing.T) {
	t.Parallel()
	m := graph.NewMatrix(1, 2)
	m.Set(0, 0, 1)
	clone := m.Clone()
	clone.Set(0, 0, 2)
	assert.Equal(t, float32(1), m.At(0, 0))
	assert.Equal(t, float32(2), clone.At(0, 0))
}

func TestNextProducerIDIsUniqueAndIncreasing(t *testing.T) {
	t.Parallel()
	a := graph.NextProducerID()
	b := graph.NextProducerID()
	assert.Less(t, a, b)
}
