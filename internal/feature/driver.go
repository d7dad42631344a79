// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"context"

	"github.com/speechgraph/sgraph/internal/graph"
	"golang.org/x/sync/errgroup"
)

// ExtractFunc computes a batch of output frames from a batch of raw input
// frames. Every row of batch is independent of every other row — this is
// what makes intra-batch splitting for parallel execution correct.
type ExtractFunc func(batch graph.Matrix) (graph.Matrix, error)

// Driver accumulates incoming Vector packets (one raw frame each) into
// batches of opts.BatchSize rows, dispatches each full batch to fn — split
// across two goroutines when the batch reaches opts.MinParallelSize rows —
// and emits the result as a single Matrix packet under outKey. An Endpoint
// flushes whatever partial batch is pending before passing through.
type Driver struct {
	opts   Options
	fn     ExtractFunc
	outKey string

	pending    [][]float32
	frameLen   int
	lastChunk  int64
	id         uint64
}

// NewDriver constructs a batch driver. frameLen is the expected input
// vector length (validated per-frame so a malformed upstream stage fails
// fast rather than corrupting the batch matrix).
func NewDriver(opts Options, frameLen int, fn ExtractFunc, outKey string) *Driver {
	return &Driver{
		opts:     opts,
		fn:       fn,
		outKey:   outKey,
		frameLen: frameLen,
		id:       graph.NextProducerID(),
	}
}

// Process implements graph.Worker.
func (d *Driver) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if err := d.flush(ctx, out); err != nil {
			return err
		}
		return out.Put(ctx, in.WithIDs(in.ChunkID, d.id))
	}
	if in.IsNull() {
		return nil
	}

	vec := in.MainVector()
	if len(vec) != d.frameLen {
		return errShapeMismatch("feature.driver", d.frameLen, len(vec))
	}
	frame := make([]float32, len(vec))
	copy(frame, vec)
	d.pending = append(d.pending, frame)
	d.lastChunk = in.ChunkID

	if len(d.pending) >= d.opts.BatchSize {
		return d.flush(ctx, out)
	}
	return nil
}

// Finalize implements graph.Finalizer: any trailing partial batch is
// emitted once the upstream queue terminates without a final Endpoint.
func (d *Driver) Finalize(ctx context.Context, out *graph.Queue) error {
	return d.flush(ctx, out)
}

// Reset implements graph.Resettable.
func (d *Driver) Reset() {
	d.pending = nil
	d.lastChunk = 0
}

func (d *Driver) flush(ctx context.Context, out *graph.Queue) error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := graph.NewMatrix(len(d.pending), d.frameLen)
	for r, frame := range d.pending {
		copy(batch.Row(r), frame)
	}
	d.pending = nil

	result, err := d.dispatch(ctx, batch)
	if err != nil {
		return err
	}

	p := graph.NewMatrixPacket(d.lastChunk, d.id, result)
	if d.outKey != graph.MainKey {
		p = p.With(d.outKey, result)
	}
	return out.Put(ctx, p)
}

// dispatch runs fn over the whole batch, or splits it into two row ranges
// computed concurrently when the batch is large enough to be worth the
// goroutine overhead.
func (d *Driver) dispatch(ctx context.Context, batch graph.Matrix) (graph.Matrix, error) {
	if batch.Rows < d.opts.MinParallelSize || batch.Rows < 2 {
		return d.fn(batch)
	}

	mid := batch.Rows / 2
	lo := sliceRows(batch, 0, mid)
	hi := sliceRows(batch, mid, batch.Rows)

	var loOut, hiOut graph.Matrix
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		loOut, err = d.fn(lo)
		return err
	})
	g.Go(func() error {
		var err error
		hiOut, err = d.fn(hi)
		return err
	})
	if err := g.Wait(); err != nil {
		return graph.Matrix{}, err
	}
	return concatRows(loOut, hiOut), nil
}

func sliceRows(m graph.Matrix, from, to int) graph.Matrix {
	out := graph.NewMatrix(to-from, m.Cols)
	copy(out.Data, m.Data[from*m.Cols:to*m.Cols])
	return out
}

func concatRows(a, b graph.Matrix) graph.Matrix {
	out := graph.NewMatrix(a.Rows+b.Rows, a.Cols)
	copy(out.Data, a.Data)
	copy(out.Data[len(a.Data):], b.Data)
	return out
}
