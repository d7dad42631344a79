// SPDX-License-Identifier: AGPL-3.0-or-later
package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/graph"
)

// Forward is the caller-supplied neural-network forward pass: T×D_feat in,
// T'×D_prob out. It is the one seam this package never implements itself —
// §6.1 leaves the acoustic model's own runtime (ONNX, libtorch, a remote
// inference service) out of scope.
type Forward func(features graph.Matrix) (graph.Matrix, error)

// Options configures one Estimator.
type Options struct {
	LeftContext, RightContext int
	Softmax                   bool
	Log                       bool
	LogFloor                  float64
	// Priors is the optional log-prior vector subtracted from the (log)
	// posteriors. Per design note (a), a configured non-nil Priors is
	// always applied regardless of its contents (no truthiness check on
	// whether every entry happens to be zero).
	Priors []float32
	OutKey string
}

// Estimator is the C10 Worker.
type Estimator struct {
	opts Options
	fn   Forward
	ctxM *ContextManager
	id   uint64

	warnOnce sync.Once
}

// New constructs an Estimator wrapping fn.
func New(opts Options, fn Forward) *Estimator {
	if opts.OutKey == "" {
		opts.OutKey = graph.MainKey
	}
	if opts.LogFloor == 0 {
		opts.LogFloor = 1.19e-7
	}
	return &Estimator{
		opts: opts,
		fn:   fn,
		ctxM: NewContextManager(opts.LeftContext, opts.RightContext),
		id:   graph.NextProducerID(),
	}
}

// Process implements graph.Worker.
func (e *Estimator) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() {
		if padded, ok := e.ctxM.flush(); ok {
			if err := e.runAndEmit(ctx, out, in, padded, 0); err != nil {
				return err
			}
		}
		e.ctxM.Reset()
		return out.Put(ctx, in.WithIDs(in.ChunkID, e.id))
	}
	if in.IsNull() {
		return nil
	}

	m := in.MainMatrix()
	expected := m.Rows
	padded, ok := e.ctxM.wrap(m)
	if !ok {
		return nil // priming: no output yet
	}
	return e.runAndEmit(ctx, out, in, padded, expected)
}

func (e *Estimator) runAndEmit(ctx context.Context, out *graph.Queue, in graph.Packet, padded graph.Matrix, expected int) error {
	probs, err := e.fn(padded)
	if err != nil {
		return fmt.Errorf("estimator: forward pass: %w", err)
	}
	if expected > 0 && probs.Rows != expected+e.opts.LeftContext+e.opts.RightContext {
		e.warnOnce.Do(func() {
			slog.Warn("estimator: forward pass row count did not match expected length",
				"expected", expected+e.opts.LeftContext+e.opts.RightContext, "got", probs.Rows)
		})
	}

	if e.opts.Softmax {
		probs = dsp.Softmax2D(probs)
	}
	if e.opts.Log {
		flat := dsp.Log(probs.Data, e.opts.LogFloor)
		probs = graph.Matrix{Data: flat, Rows: probs.Rows, Cols: probs.Cols}
	}
	if e.opts.Priors != nil {
		probs = subtractPriors(probs, e.opts.Priors)
	}

	p := in.WithIDs(in.ChunkID, e.id)
	p = p.With(e.opts.OutKey, probs)
	return out.Put(ctx, p)
}

func subtractPriors(m graph.Matrix, priors []float32) graph.Matrix {
	out := m.Clone()
	for r := 0; r < out.Rows; r++ {
		row := out.Row(r)
		for c := 0; c < out.Cols && c < len(priors); c++ {
			row[c] -= priors[c]
		}
	}
	return out
}

// Reset implements graph.Resettable.
func (e *Estimator) Reset() { e.ctxM.Reset() }
