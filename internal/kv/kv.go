// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the "global distributed state" referenced by §1 and
// the design notes' discussion of replacing global singletons with explicit,
// injected state: a small key/value interface. cmd/root.go opens one store
// at startup and closes it on shutdown; no other package reads or writes
// it, so the transport shim (internal/transport) does not record which host
// instance owns a peer connection and a stream migration is not detected.
//
// Grounded on the teacher's internal/kv package: same interface shape, a
// Redis-backed implementation for multi-instance deployments and an
// in-memory implementation (xsync-backed) for the common single-instance
// case.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/speechgraph/sgraph/internal/config"
)

// KV is the distributed-state interface every stage that needs cross-host
// coordination depends on.
type KV interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	Close() error
}

// New creates a KV backend according to cfg.KV. Redis when enabled,
// otherwise an in-memory map suitable for a single-instance deployment.
func New(ctx context.Context, cfg *config.Config) (KV, error) {
	if cfg.KV.Enabled {
		store, err := newRedisKV(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv: %w", err)
		}
		return store, nil
	}
	return newMemoryKV(), nil
}
