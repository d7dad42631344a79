// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cmvn implements the C7 cepstral mean (and variance) normalizers:
// a frozen ConstantCMVN and a ring-buffered SlidingCMVN that can fuse its
// running statistics with externally supplied global statistics (§6.5)
// while still priming.
package cmvn

import (
	"fmt"

	"github.com/speechgraph/sgraph/internal/graph"
)

// Stats is the (2, D+1) sum/sumsq/count matrix shared by ConstantCMVN, the
// sliding window's fused snapshot, and the global statistics file loader
// (§6.5): row 0 holds the per-dimension sum, row 1 the per-dimension
// sum-of-squares, and column D (the last one) holds the frame count,
// duplicated on both rows.
type Stats struct {
	m graph.Matrix
}

// NewStats allocates a zeroed (2, dim+1) stats matrix.
func NewStats(dim int) Stats {
	return Stats{m: graph.NewMatrix(2, dim+1)}
}

// FromMatrix wraps an already-loaded (2, D+1) matrix (as read from a
// global-statistics or CMVN-stats file) as Stats.
func FromMatrix(m graph.Matrix) (Stats, error) {
	if m.Rows != 2 || m.Cols < 1 {
		return Stats{}, fmt.Errorf("cmvn: stats matrix must be (2, D+1), got (%d, %d)", m.Rows, m.Cols)
	}
	return Stats{m: m}, nil
}

// Dim is the number of feature dimensions the stats cover.
func (s Stats) Dim() int { return s.m.Cols - 1 }

// Count is the (possibly fractional, once fused with global stats) frame
// count the stats were accumulated over.
func (s Stats) Count() float64 { return float64(s.m.At(0, s.m.Cols-1)) }

// Sum returns the accumulated sum for dimension d.
func (s Stats) Sum(d int) float32 { return s.m.At(0, d) }

// SumSq returns the accumulated sum-of-squares for dimension d.
func (s Stats) SumSq(d int) float32 { return s.m.At(1, d) }

// Mean returns Sum(d)/Count().
func (s Stats) Mean(d int) float64 {
	n := s.Count()
	if n == 0 {
		return 0
	}
	return float64(s.Sum(d)) / n
}

// Variance returns SumSq(d)/Count() - Mean(d)^2, floored at a small epsilon
// so a degenerate (zero-variance) stream never divides by zero downstream.
func (s Stats) Variance(d int) float64 {
	n := s.Count()
	if n == 0 {
		return 1
	}
	mean := s.Mean(d)
	v := float64(s.SumSq(d))/n - mean*mean
	if v < 1e-10 {
		v = 1e-10
	}
	return v
}

// Add returns the element-wise sum of s and other, used when combining
// global statistics accumulated across multiple utterances (§6.5: "summed
// across utterances").
func (s Stats) Add(other Stats) (Stats, error) {
	if s.Dim() != other.Dim() {
		return Stats{}, fmt.Errorf("cmvn: stats dimension mismatch: %d vs %d", s.Dim(), other.Dim())
	}
	out := NewStats(s.Dim())
	for i := range out.m.Data {
		out.m.Data[i] = s.m.Data[i] + other.m.Data[i]
	}
	return out, nil
}

// Matrix returns the underlying (2, D+1) matrix, e.g. for serialization.
func (s Stats) Matrix() graph.Matrix { return s.m }
