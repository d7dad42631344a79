// SPDX-License-Identifier: AGPL-3.0-or-later

// Package processor implements the C8 feature processor: a context-overlap
// buffer sized for delta/splice's neighbor-frame needs, in-place CMVN
// application to newly arrived frames, and a configurable process function
// run over the whole window before slicing the time-aligned emit range back
// out. DefaultProcessFunc builds the delta → splice → LDA function; a
// Processor given no process function passes the window through unchanged.
package processor

import (
	"context"
	"fmt"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
)

// Normalizer is the subset of cmvn.ConstantCMVN/SlidingCMVN's interface the
// processor needs — kept local to avoid importing internal/cmvn's concrete
// types where only the behavior matters.
type Normalizer interface {
	Observe(frame []float32)
	Normalize(frame []float32) []float32
}

// ProcessFunc transforms a whole context window into an output matrix of
// the same row count (columns may differ, e.g. after delta/splice/LDA).
type ProcessFunc func(window graph.Matrix) (graph.Matrix, error)

// Options configures one Processor.
type Options struct {
	Left, Center, Right int
	Dim                 int // input frame width
	CMVNs               []Normalizer
	ProcessFunc         ProcessFunc
	EmitAsMatrix        bool // emit one Matrix per step instead of one Vector per frame
}

func (o Options) cover() int { return o.Left + o.Right }
func (o Options) width() int { return o.Left + o.Center + o.Right }

// DefaultProcessFunc builds the delta → splice → LDA pipeline described in
// §4.5/§4.8. transform is optional (nil skips the LDA projection).
func DefaultProcessFunc(deltaOrder, deltaWindow, spliceLeft, spliceRight int, transform *graph.Matrix) ProcessFunc {
	return func(window graph.Matrix) (graph.Matrix, error) {
		out := window
		if deltaOrder > 0 {
			out = dsp.Delta(out, deltaOrder, deltaWindow)
		}
		if spliceLeft > 0 || spliceRight > 0 {
			out = dsp.Splice(out, spliceLeft, spliceRight)
		}
		if transform != nil {
			var err error
			out, err = dsp.LDA(out, *transform)
			if err != nil {
				return graph.Matrix{}, err
			}
		}
		return out, nil
	}
}

// Processor is the C8 Worker.
type Processor struct {
	opts Options
	buf  graph.Matrix

	pending   [][]float32
	lastChunk int64
	firstStep bool
	id        uint64
}

// New constructs a Processor. opts.ProcessFunc defaults to an identity
// pass-through if nil (callers wanting delta/splice/LDA must supply
// DefaultProcessFunc explicitly).
func New(opts Options) *Processor {
	if opts.ProcessFunc == nil {
		opts.ProcessFunc = func(w graph.Matrix) (graph.Matrix, error) { return w, nil }
	}
	return &Processor{
		opts:      opts,
		buf:       graph.NewMatrix(opts.width(), opts.Dim),
		firstStep: true,
		id:        graph.NextProducerID(),
	}
}

// Process implements graph.Worker.
func (p *Processor) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if err := p.runStep(ctx, out, true); err != nil {
			return err
		}
		return out.Put(ctx, in.WithIDs(in.ChunkID, p.id))
	}
	if in.IsNull() {
		return nil
	}

	vec := in.MainVector()
	if len(vec) != p.opts.Dim {
		return fmt.Errorf("%w: processor: expected frame width %d, got %d", graph.ErrShapeMismatch, p.opts.Dim, len(vec))
	}
	frame := make([]float32, len(vec))
	copy(frame, vec)
	p.pending = append(p.pending, frame)
	p.lastChunk = in.ChunkID

	if len(p.pending) >= p.opts.Center {
		return p.runStep(ctx, out, false)
	}
	return nil
}

// Finalize implements graph.Finalizer: flush a trailing partial window if
// the upstream queue terminated without a final Endpoint.
func (p *Processor) Finalize(ctx context.Context, out *graph.Queue) error {
	return p.runStep(ctx, out, true)
}

// Reset implements graph.Resettable.
func (p *Processor) Reset() {
	p.buf = graph.NewMatrix(p.opts.width(), p.opts.Dim)
	p.pending = nil
	p.firstStep = true
}

// runStep rolls the window, fills in pending new frames, applies CMVN to
// them, runs process_function over the whole window, and emits the
// time-aligned slice. terminating relaxes the emit range to the genuinely
// filled tail instead of the nominal Center width.
func (p *Processor) runStep(ctx context.Context, out *graph.Queue, terminating bool) error {
	tail := len(p.pending)
	if tail == 0 && !terminating {
		return nil
	}
	cover := p.opts.cover()

	// Roll: the last `cover` rows of the previous window become the new
	// head.
	rolled := graph.NewMatrix(p.opts.width(), p.opts.Dim)
	if cover > 0 {
		prevWidth := p.buf.Rows
		copy(rolled.Data, p.buf.Data[(prevWidth-cover)*p.opts.Dim:])
	}
	for i, frame := range p.pending {
		row := rolled.Row(cover + i)
		copy(row, frame)
		for _, n := range p.opts.CMVNs {
			n.Observe(row)
			normalized := n.Normalize(row)
			copy(row, normalized)
		}
	}
	p.buf = rolled
	p.pending = nil

	transformed, err := p.opts.ProcessFunc(p.buf)
	if err != nil {
		return err
	}

	effectiveLeft := p.opts.Left
	if p.firstStep {
		effectiveLeft = 0
	}
	p.firstStep = false

	emitCount := p.opts.Center
	if terminating {
		emitCount = tail
	}
	if emitCount <= 0 {
		return nil
	}

	start := effectiveLeft
	if start+emitCount > transformed.Rows {
		emitCount = transformed.Rows - start
	}
	if emitCount <= 0 {
		return nil
	}

	if p.opts.EmitAsMatrix {
		slice := graph.NewMatrix(emitCount, transformed.Cols)
		copy(slice.Data, transformed.Data[start*transformed.Cols:(start+emitCount)*transformed.Cols])
		return out.Put(ctx, graph.NewMatrixPacket(p.lastChunk, p.id, slice))
	}

	baseChunk := p.lastChunk - int64(tail) + 1
	for i := 0; i < emitCount; i++ {
		row := transformed.Row(start + i)
		v := make([]float32, len(row))
		copy(v, row)
		chunkID := baseChunk + int64(i)
		if terminating && i >= tail {
			chunkID = p.lastChunk
		}
		if err := out.Put(ctx, graph.NewVector(chunkID, p.id, v)); err != nil {
			return err
		}
	}
	return nil
}
