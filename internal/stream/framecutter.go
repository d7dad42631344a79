// SPDX-License-Identifier: AGPL-3.0-or-later
package stream

import (
	"context"

	"github.com/speechgraph/sgraph/internal/graph"
)

// FrameCutter turns a stream of scalar Elements into overlapping frames of
// width samples, shift samples apart — the windowing step upstream of the
// DSP kernels. At Endpoint, a final short frame is zero-padded to width if
// any samples remain buffered, rather than discarded. When batchSize > 1,
// that many frames are accumulated into one Matrix packet instead of being
// emitted one Vector at a time.
type FrameCutter struct {
	width, shift, batchSize int
	ring                    []float32
	filled                  int
	batch                   []float32
	batchRows               int
	id                      uint64
}

// NewFrameCutter constructs a FrameCutter. shift must be in (0, width].
// batchSize of 0 or 1 emits one Vector per frame.
func NewFrameCutter(width, shift, batchSize int) *FrameCutter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &FrameCutter{
		width:     width,
		shift:     shift,
		batchSize: batchSize,
		ring:      make([]float32, 0, width),
		id:        graph.NextProducerID(),
	}
}

// Process implements graph.Worker.
func (c *FrameCutter) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if c.filled > 0 {
			frame := make([]float32, c.width)
			copy(frame, c.ring[:c.filled])
			if err := c.emit(ctx, out, in.ChunkID, frame); err != nil {
				return err
			}
			c.ring = c.ring[:0]
			c.filled = 0
		}
		if err := c.flushBatch(ctx, out, in.ChunkID); err != nil {
			return err
		}
		return out.Put(ctx, in.WithIDs(in.ChunkID, c.id))
	}
	if in.IsNull() {
		return nil
	}

	el := in.MainElement()
	var v float32
	if el.IsFloat {
		v = el.F
	} else {
		v = float32(el.I)
	}

	c.ring = append(c.ring, v)
	c.filled++
	if c.filled < c.width {
		return nil
	}

	frame := make([]float32, c.width)
	copy(frame, c.ring[len(c.ring)-c.width:])
	if err := c.emit(ctx, out, in.ChunkID, frame); err != nil {
		return err
	}

	if c.shift >= len(c.ring) {
		c.ring = c.ring[:0]
	} else {
		c.ring = c.ring[c.shift:]
	}
	c.filled = len(c.ring)
	return nil
}

// emit either forwards a single Vector packet or, under batching, folds the
// frame into the pending Matrix and flushes once batchSize rows accumulate.
func (c *FrameCutter) emit(ctx context.Context, out *graph.Queue, chunkID int64, frame []float32) error {
	if c.batchSize <= 1 {
		return out.Put(ctx, graph.NewVector(chunkID, c.id, frame))
	}
	c.batch = append(c.batch, frame...)
	c.batchRows++
	if c.batchRows < c.batchSize {
		return nil
	}
	return c.flushBatch(ctx, out, chunkID)
}

func (c *FrameCutter) flushBatch(ctx context.Context, out *graph.Queue, chunkID int64) error {
	if c.batchRows == 0 {
		return nil
	}
	m := graph.Matrix{Data: c.batch, Rows: c.batchRows, Cols: c.width}
	c.batch = nil
	c.batchRows = 0
	return out.Put(ctx, graph.NewMatrixPacket(chunkID, c.id, m))
}

// Reset implements graph.Resettable.
func (c *FrameCutter) Reset() {
	c.ring = c.ring[:0]
	c.filled = 0
	c.batch = nil
	c.batchRows = 0
}

// FrameDissolver inverts FrameCutter: it flattens incoming frames back to a
// scalar Element stream, emitting only the first shift samples of each
// frame (the non-overlapping portion), so a cut-then-dissolve round trip
// yields the samples in their original order. The final, zero-padded frame
// also contributes only its first shift values: with shift < width the last
// samples can be missing, and with a short tail zero padding can appear.
type FrameDissolver struct {
	shift int
	id    uint64
}

// NewFrameDissolver constructs a FrameDissolver for frames cut with the
// given shift.
func NewFrameDissolver(shift int) *FrameDissolver {
	return &FrameDissolver{shift: shift, id: graph.NextProducerID()}
}

// Process implements graph.Worker.
func (d *FrameDissolver) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		return out.Put(ctx, in.WithIDs(in.ChunkID, d.id))
	}
	if in.IsNull() {
		return nil
	}

	if in.Kind == graph.KindMatrix {
		m := in.MainMatrix()
		for r := 0; r < m.Rows; r++ {
			if err := d.emitRow(ctx, out, in.ChunkID, m.Row(r)); err != nil {
				return err
			}
		}
		return nil
	}
	return d.emitRow(ctx, out, in.ChunkID, in.MainVector())
}

func (d *FrameDissolver) emitRow(ctx context.Context, out *graph.Queue, chunkID int64, frame []float32) error {
	n := d.shift
	if n > len(frame) {
		n = len(frame)
	}
	for i := 0; i < n; i++ {
		el := graph.NewElement(chunkID, d.id, graph.Element{F: frame[i], IsFloat: true})
		if err := out.Put(ctx, el); err != nil {
			return err
		}
	}
	return nil
}
