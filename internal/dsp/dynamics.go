// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp

import "github.com/speechgraph/sgraph/internal/graph"

func clampRow(r, t int) int {
	if r < 0 {
		return 0
	}
	if r >= t {
		return t - 1
	}
	return r
}

// regressionPass computes one order of linear-regression delta over
// feats' rows (time), edge-clamping at the first/last frame instead of
// wrapping, normalized by the standard regression denominator
// 2·Σ_{τ=1}^{window} τ².
func regressionPass(feats graph.Matrix, window int) graph.Matrix {
	t, d := feats.Rows, feats.Cols
	out := graph.NewMatrix(t, d)
	var normalizer float32
	for tau := 1; tau <= window; tau++ {
		normalizer += float32(2 * tau * tau)
	}
	if normalizer == 0 {
		return out
	}
	for r := 0; r < t; r++ {
		orow := out.Row(r)
		for tau := -window; tau <= window; tau++ {
			if tau == 0 {
				continue
			}
			src := feats.Row(clampRow(r+tau, t))
			w := float32(tau)
			for c, v := range src {
				orow[c] += w * v
			}
		}
		for c := range orow {
			orow[c] /= normalizer
		}
	}
	return out
}

// Delta appends `order` regression-delta blocks to feats' own columns:
// [static | Δ | ΔΔ | ...], each computed by regressing the previous block
// (so ΔΔ is the delta of the delta), the same recursive construction the
// reference's compute_delta_feat uses.
func Delta(feats graph.Matrix, order, window int) graph.Matrix {
	if order <= 0 {
		return feats.Clone()
	}
	blocks := make([]graph.Matrix, order+1)
	blocks[0] = feats
	for o := 1; o <= order; o++ {
		blocks[o] = regressionPass(blocks[o-1], window)
	}

	t := feats.Rows
	totalCols := 0
	for _, b := range blocks {
		totalCols += b.Cols
	}
	out := graph.NewMatrix(t, totalCols)
	for r := 0; r < t; r++ {
		orow := out.Row(r)
		offset := 0
		for _, b := range blocks {
			copy(orow[offset:offset+b.Cols], b.Row(r))
			offset += b.Cols
		}
	}
	return out
}

// Splice concatenates frames [t-left, ..., t+right] into one row per
// output frame, edge-clamping (replicating) the boundary frames rather
// than wrapping around.
func Splice(feats graph.Matrix, left, right int) graph.Matrix {
	t, d := feats.Rows, feats.Cols
	width := left + right + 1
	out := graph.NewMatrix(t, d*width)
	for r := 0; r < t; r++ {
		orow := out.Row(r)
		offset := 0
		for tau := -left; tau <= right; tau++ {
			src := feats.Row(clampRow(r+tau, t))
			copy(orow[offset:offset+d], src)
			offset += d
		}
	}
	return out
}

// LDA applies a dense (Din, Dout) transform loaded from the LDA/MLLT
// matrix file (§6.6) to every row of feats.
func LDA(feats graph.Matrix, transform graph.Matrix) (graph.Matrix, error) {
	if feats.Cols != transform.Rows {
		return graph.Matrix{}, ErrDimMismatch
	}
	return Matmul(feats, transform), nil
}
