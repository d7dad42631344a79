// SPDX-License-Identifier: AGPL-3.0-or-later
package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e memEntry) expired() bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

type memoryKV struct {
	data *xsync.Map[string, memEntry]
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: xsync.NewMap[string, memEntry]()}
}

func (m *memoryKV) Has(_ context.Context, key string) (bool, error) {
	e, ok := m.data.Load(key)
	if !ok || e.expired() {
		return false, nil
	}
	return true, nil
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.data.Load(key)
	if !ok || e.expired() {
		return nil, fmt.Errorf("kv: key %q not found", key)
	}
	return e.value, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value []byte) error {
	m.data.Store(key, memEntry{value: value})
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *memoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	e, ok := m.data.Load(key)
	if !ok {
		return fmt.Errorf("kv: key %q not found", key)
	}
	if ttl <= 0 {
		m.data.Delete(key)
		return nil
	}
	e.expires = time.Now().Add(ttl)
	m.data.Store(key, e)
	return nil
}

// Scan ignores cursor (the in-memory backend has no partitioning) and
// returns every live key matching the glob-ish prefix/suffix pattern used
// elsewhere in this codebase (a bare "*" suffix match).
func (m *memoryKV) Scan(_ context.Context, _ uint64, match string, count int64) ([]string, uint64, error) {
	var keys []string
	prefix := strings.TrimSuffix(match, "*")
	m.data.Range(func(key string, e memEntry) bool {
		if e.expired() {
			m.data.Delete(key)
			return true
		}
		if match == "" || match == key || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return count <= 0 || int64(len(keys)) < count
	})
	return keys, 0, nil
}

func (m *memoryKV) Close() error {
	return nil
}
