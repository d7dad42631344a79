// SPDX-License-Identifier: AGPL-3.0-or-later

// Package decoder implements the C11 decoder driver: a feeder/reader pair
// of goroutines cooperating around the external WFST Viterbi engine,
// speaking the §6.2 line-oriented stdio protocol.
package decoder

// Reranker reorders a set of n-best hypotheses (each a sequence of word
// ids as the decoder emitted them) into the caller's intended ranking.
// Implementations must preserve every hypothesis, only the order.
type Reranker interface {
	Rerank(hyps [][]string) ([][]string, error)
}

// NullReranker passes hypotheses through unchanged — the default when no
// reranker is configured.
type NullReranker struct{}

// Rerank implements Reranker.
func (NullReranker) Rerank(hyps [][]string) ([][]string, error) { return hyps, nil }

// LengthPenaltyReranker favors hypotheses whose token count is closest to
// a target length, breaking ties by original rank — a simple, real
// reranking policy for systems without a language-model rescorer.
type LengthPenaltyReranker struct {
	TargetLength int
}

// Rerank implements Reranker.
func (r LengthPenaltyReranker) Rerank(hyps [][]string) ([][]string, error) {
	out := make([][]string, len(hyps))
	copy(out, hyps)

	score := func(h []string) int {
		d := len(h) - r.TargetLength
		if d < 0 {
			d = -d
		}
		return d
	}

	// Stable insertion sort: small n (typically single-digit n-bests), and
	// stability preserves the decoder's own tie-break order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && score(out[j]) < score(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}
