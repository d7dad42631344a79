// SPDX-License-Identifier: AGPL-3.0-or-later

// Package globalstats implements the §6.5 global statistics file: a binary
// on-disk archive of per-utterance CMVN Stats, backed by a gorm/sqlite
// read-through cache (large payloads xz-compressed) so a sliding CMVN can
// look up or sum statistics without re-parsing the whole archive file on
// every decoder start.
package globalstats

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/speechgraph/sgraph/internal/cmvn"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/kaldiio"
	"github.com/ulikunitz/xz"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
)

// record is the gorm model backing the sqlite cache.
type record struct {
	UttID      string `gorm:"primaryKey"`
	Rows       int
	Cols       int
	Payload    []byte
	Compressed bool
}

// Cache is a read-through sqlite cache in front of the §6.5 archive file.
type Cache struct {
	db                 *gorm.DB
	compressAboveBytes int
}

// Open opens (creating if absent) the sqlite cache at dbPath and runs its
// migrations. When traceQueries is set (the process has an OTLP endpoint
// configured) every query against the cache is wrapped in a span via
// otelgorm, the way the teacher instruments its own gorm handle.
func Open(dbPath string, compressAboveBytes int, traceQueries bool) (*Cache, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("globalstats: opening cache %s: %w", dbPath, err)
	}
	if traceQueries {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("globalstats: instrumenting cache tracing: %w", err)
		}
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202601010000_create_stats_cache",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&record{})
			},
		},
	})
	if err := m.Migrate(); err != nil {
		return nil, fmt.Errorf("globalstats: migrating cache: %w", err)
	}

	return &Cache{db: db, compressAboveBytes: compressAboveBytes}, nil
}

// Close releases the underlying sqlite connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get reads one utterance's cached stats, the bool reporting whether an
// entry exists.
func (c *Cache) Get(uttID string) (cmvn.Stats, bool, error) {
	var rec record
	err := c.db.Where("utt_id = ?", uttID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return cmvn.Stats{}, false, nil
		}
		return cmvn.Stats{}, false, fmt.Errorf("globalstats: reading %s: %w", uttID, err)
	}
	m, err := rec.toMatrix()
	if err != nil {
		return cmvn.Stats{}, false, err
	}
	st, err := cmvn.FromMatrix(m)
	if err != nil {
		return cmvn.Stats{}, false, err
	}
	return st, true, nil
}

// Put upserts one utterance's stats into the cache.
func (c *Cache) Put(uttID string, st cmvn.Stats) error {
	rec, err := newRecord(uttID, st, c.compressAboveBytes)
	if err != nil {
		return err
	}
	return c.db.Save(rec).Error
}

// Sum returns the element-wise sum of every cached utterance's stats — the
// "summed across utterances" read mode §6.5 describes.
func (c *Cache) Sum() (cmvn.Stats, error) {
	var recs []record
	if err := c.db.Find(&recs).Error; err != nil {
		return cmvn.Stats{}, fmt.Errorf("globalstats: listing cache: %w", err)
	}
	if len(recs) == 0 {
		return cmvn.Stats{}, fmt.Errorf("globalstats: cache is empty")
	}
	m, err := recs[0].toMatrix()
	if err != nil {
		return cmvn.Stats{}, err
	}
	total, err := cmvn.FromMatrix(m)
	if err != nil {
		return cmvn.Stats{}, err
	}
	for _, rec := range recs[1:] {
		m, err := rec.toMatrix()
		if err != nil {
			return cmvn.Stats{}, err
		}
		st, err := cmvn.FromMatrix(m)
		if err != nil {
			return cmvn.Stats{}, err
		}
		total, err = total.Add(st)
		if err != nil {
			return cmvn.Stats{}, err
		}
	}
	return total, nil
}

// LoadArchive reads the §6.5 on-disk archive file and upserts every
// utterance's stats into the cache. Only callers run it; the scheduled
// maintenance job in cmd/root.go does not.
func (c *Cache) LoadArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("globalstats: opening archive %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		uttID, err := kaldiio.ReadToken(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("globalstats: reading utt id: %w", err)
		}
		m, err := kaldiio.ReadMatrix(r)
		if err != nil {
			return fmt.Errorf("globalstats: reading stats for %s: %w", uttID, err)
		}
		st, err := cmvn.FromMatrix(m)
		if err != nil {
			return err
		}
		if err := c.Put(uttID, st); err != nil {
			return err
		}
	}
}

func newRecord(uttID string, st cmvn.Stats, compressAbove int) (*record, error) {
	m := st.Matrix()
	var buf bytes.Buffer
	if err := kaldiio.WriteMatrix(&buf, m); err != nil {
		return nil, fmt.Errorf("globalstats: serializing %s: %w", uttID, err)
	}
	payload := buf.Bytes()
	compressed := false
	if compressAbove > 0 && len(payload) > compressAbove {
		var zbuf bytes.Buffer
		zw, err := xz.NewWriter(&zbuf)
		if err != nil {
			return nil, fmt.Errorf("globalstats: opening xz writer: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("globalstats: compressing %s: %w", uttID, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("globalstats: closing xz writer: %w", err)
		}
		payload = zbuf.Bytes()
		compressed = true
	}
	return &record{UttID: uttID, Rows: m.Rows, Cols: m.Cols, Payload: payload, Compressed: compressed}, nil
}

func (rec record) toMatrix() (graph.Matrix, error) {
	payload := rec.Payload
	if rec.Compressed {
		zr, err := xz.NewReader(bytes.NewReader(payload))
		if err != nil {
			return graph.Matrix{}, fmt.Errorf("globalstats: opening xz reader for %s: %w", rec.UttID, err)
		}
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return graph.Matrix{}, fmt.Errorf("globalstats: decompressing %s: %w", rec.UttID, err)
		}
		payload = decoded
	}
	mat, err := kaldiio.ReadMatrix(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("globalstats: parsing cached stats for %s: %w", rec.UttID, err)
	}
	return mat, nil
}
