// SPDX-License-Identifier: AGPL-3.0-or-later
package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVSetGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := kv.New(ctx, testConfig())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "peer:1", []byte("instance-a")))
	val, err := store.Get(ctx, "peer:1")
	require.NoError(t, err)
	assert.Equal(t, "instance-a", string(val))
}

func TestMemoryKVExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := kv.New(ctx, testConfig())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "peer:2", []byte("x")))
	require.NoError(t, store.Expire(ctx, "peer:2", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	has, err := store.Has(ctx, "peer:2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryKVScanPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := kv.New(ctx, testConfig())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "peer:1", []byte("a")))
	require.NoError(t, store.Set(ctx, "peer:2", []byte("b")))
	require.NoError(t, store.Set(ctx, "other:1", []byte("c")))

	keys, _, err := store.Scan(ctx, 0, "peer:*", 100)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
