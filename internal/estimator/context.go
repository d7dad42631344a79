// SPDX-License-Identifier: AGPL-3.0-or-later

// Package estimator implements the C10 acoustic estimator: a left/right
// context-padding wrapper around a caller-supplied neural-network forward
// function, plus the softmax/log/prior post-processing chain §4.10
// describes.
package estimator

import "github.com/speechgraph/sgraph/internal/graph"

// ContextManager buffers frames across successive input matrices so an NN
// expecting left/right context sees it without the caller stitching
// utterance boundaries together itself. Frames accumulate until
// left+right+1 of them have arrived (priming); from then on, every input
// matrix of length T yields an output matrix of length T+left+right, and
// the window's trailing left+right frames carry over to seed the next
// call's left edge.
type ContextManager struct {
	left, right int
	dim         int
	buf         graph.Matrix // unconsumed frames: carry (from a prior emission) plus newly arrived ones
	primed      bool
	lastT       int // row count of the most recently wrapped real input, for flush()
}

// NewContextManager constructs a ContextManager. left == right == 0 makes
// wrap a no-op passthrough with no priming delay.
func NewContextManager(left, right int) *ContextManager {
	return &ContextManager{left: left, right: right}
}

// wrap buffers in and returns the padded matrix ready for the NN, or
// (Matrix{}, false) while still priming (not enough history yet).
func (c *ContextManager) wrap(in graph.Matrix) (graph.Matrix, bool) {
	c.lastT = in.Rows
	if c.left == 0 && c.right == 0 {
		return in, true
	}
	if c.dim == 0 {
		c.dim = in.Cols
	}

	c.buf = appendRows(c.buf, in, c.dim)

	threshold := c.left + c.right + 1
	if !c.primed {
		if c.buf.Rows < threshold {
			return graph.Matrix{}, false
		}
		c.primed = true
	}

	out := c.buf
	cover := c.left + c.right
	c.buf = tail(c.buf, cover, c.dim)
	return out, true
}

// flush feeds a zero matrix shaped like the last seen real input so the
// right-context tail can still produce its final output at Endpoint.
func (c *ContextManager) flush() (graph.Matrix, bool) {
	if c.left == 0 && c.right == 0 {
		return graph.Matrix{}, false
	}
	if !c.primed {
		return graph.Matrix{}, false
	}
	zero := graph.NewMatrix(c.lastT, c.dim)
	return c.wrap(zero)
}

// Reset clears buffered history, e.g. across utterances.
func (c *ContextManager) Reset() {
	c.buf = graph.Matrix{}
	c.primed = false
}

func appendRows(a, b graph.Matrix, dim int) graph.Matrix {
	out := graph.NewMatrix(a.Rows+b.Rows, dim)
	copy(out.Data, a.Data)
	copy(out.Data[a.Rows*dim:], b.Data)
	return out
}

// tail returns the last n rows of m (zero-padded at the front if m has
// fewer than n rows).
func tail(m graph.Matrix, n, dim int) graph.Matrix {
	out := graph.NewMatrix(n, dim)
	if n == 0 {
		return out
	}
	if m.Rows >= n {
		copy(out.Data, m.Data[(m.Rows-n)*dim:])
		return out
	}
	copy(out.Data[(n-m.Rows)*dim:], m.Data)
	return out
}
