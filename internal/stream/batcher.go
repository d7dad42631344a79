// SPDX-License-Identifier: AGPL-3.0-or-later
package stream

import (
	"context"

	"github.com/speechgraph/sgraph/internal/graph"
)

// VectorBatcher packs n consecutive Vector packets into a single n×D
// Matrix packet, the inverse of a feature Driver's per-frame emission —
// useful when a downstream component (the acoustic estimator) wants whole
// batches rather than a frame at a time.
type VectorBatcher struct {
	n       int
	pending []float32
	dim     int
	rows    int
	id      uint64
}

// NewVectorBatcher constructs a VectorBatcher grouping n vectors per
// output Matrix.
func NewVectorBatcher(n int) *VectorBatcher {
	return &VectorBatcher{n: n, id: graph.NextProducerID()}
}

// Process implements graph.Worker.
func (b *VectorBatcher) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if err := b.flush(ctx, out, in.ChunkID); err != nil {
			return err
		}
		return out.Put(ctx, in.WithIDs(in.ChunkID, b.id))
	}
	if in.IsNull() {
		return nil
	}

	vec := in.MainVector()
	if b.dim == 0 {
		b.dim = len(vec)
	}
	b.pending = append(b.pending, vec...)
	b.rows++

	if b.rows >= b.n {
		return b.flush(ctx, out, in.ChunkID)
	}
	return nil
}

// Finalize implements graph.Finalizer.
func (b *VectorBatcher) Finalize(ctx context.Context, out *graph.Queue) error {
	return b.flush(ctx, out, 0)
}

func (b *VectorBatcher) flush(ctx context.Context, out *graph.Queue, chunkID int64) error {
	if b.rows == 0 {
		return nil
	}
	m := graph.Matrix{Data: b.pending, Rows: b.rows, Cols: b.dim}
	b.pending = nil
	b.rows = 0
	return out.Put(ctx, graph.NewMatrixPacket(chunkID, b.id, m))
}

// Reset implements graph.Resettable.
func (b *VectorBatcher) Reset() {
	b.pending = nil
	b.rows = 0
}

// MatrixUnbatcher inverts VectorBatcher (and a feature Driver's own
// internal batching): one input Matrix packet becomes one Vector packet
// per row, the per-frame shape processor.Processor expects.
type MatrixUnbatcher struct {
	id uint64
}

// NewMatrixUnbatcher constructs a MatrixUnbatcher.
func NewMatrixUnbatcher() *MatrixUnbatcher {
	return &MatrixUnbatcher{id: graph.NextProducerID()}
}

// Process implements graph.Worker.
func (u *MatrixUnbatcher) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() || in.IsNull() {
		return out.Put(ctx, in.WithIDs(in.ChunkID, u.id))
	}
	m := in.MainMatrix()
	for r := 0; r < m.Rows; r++ {
		row := m.Row(r)
		v := make([]float32, len(row))
		copy(v, row)
		if err := out.Put(ctx, graph.NewVector(in.ChunkID, u.id, v)); err != nil {
			return err
		}
	}
	return nil
}

// MatrixSubsetter splits one N×D matrix packet into nChunk equal-sized
// matrix packets (the last absorbing any remainder rows), the inverse of
// VectorBatcher composed across a larger span — used to re-chunk a whole
// utterance's features into the estimator's preferred batch size.
type MatrixSubsetter struct {
	nChunk int
	id     uint64
}

// NewMatrixSubsetter constructs a MatrixSubsetter producing nChunk pieces
// per input matrix.
func NewMatrixSubsetter(nChunk int) *MatrixSubsetter {
	return &MatrixSubsetter{nChunk: nChunk, id: graph.NextProducerID()}
}

// Process implements graph.Worker.
func (s *MatrixSubsetter) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() || in.IsNull() {
		return out.Put(ctx, in.WithIDs(in.ChunkID, s.id))
	}

	m := in.MainMatrix()
	if s.nChunk <= 0 || m.Rows == 0 {
		return out.Put(ctx, graph.NewMatrixPacket(in.ChunkID, s.id, m))
	}

	base := m.Rows / s.nChunk
	if base == 0 {
		base = 1
	}
	row := 0
	for i := 0; i < s.nChunk && row < m.Rows; i++ {
		rows := base
		if i == s.nChunk-1 {
			rows = m.Rows - row
		}
		if rows <= 0 {
			break
		}
		piece := graph.NewMatrix(rows, m.Cols)
		copy(piece.Data, m.Data[row*m.Cols:(row+rows)*m.Cols])
		if err := out.Put(ctx, graph.NewMatrixPacket(in.ChunkID, s.id, piece)); err != nil {
			return err
		}
		row += rows
	}
	return nil
}
