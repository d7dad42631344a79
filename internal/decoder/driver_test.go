// SPDX-License-Identifier: AGPL-3.0-or-later
package decoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/symtab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, q *graph.Queue) []graph.Packet {
	t.Helper()
	var out []graph.Packet
	for {
		p, err := q.Get(context.Background())
		if err != nil {
			return out
		}
		out = append(out, p)
	}
}

func TestSplitHypotheses(t *testing.T) {
	t.Parallel()
	got := splitHypotheses("5 7 9 -1 5 7 11")
	assert.Equal(t, [][]string{{"5", "7", "9"}, {"5", "7", "11"}}, got)
}

// TestDecoderPartialThenEndpointWithReranker mirrors §8 scenario 6: three
// partial hypotheses followed by an endpoint block whose top two
// hypotheses get swapped by a configured reranker.
func TestDecoderPartialThenEndpointWithReranker(t *testing.T) {
	t.Parallel()
	swap := rerankerFunc(func(hyps [][]string) ([][]string, error) {
		if len(hyps) < 2 {
			return hyps, nil
		}
		out := make([][]string, len(hyps))
		copy(out, hyps)
		out[0], out[1] = out[1], out[0]
		return out, nil
	})

	d := New(config.DecoderConfig{}, Options{Reranker: swap}, nil)
	out := graph.NewQueue("out", 16, time.Second)

	d.waiting = []waitingEntry{{chunkID: 1}, {chunkID: 2}, {chunkID: 3}}

	ctx := context.Background()
	require.NoError(t, d.handleLine(ctx, out, "-1 5 7"))
	require.NoError(t, d.handleLine(ctx, out, "-1 5 7 9"))
	require.NoError(t, d.handleLine(ctx, out, "-2 5 7 9 -1 5 7 11"))
	out.Stop()

	packets := drain(t, out)
	require.Len(t, packets, 4)
	assert.Equal(t, "5 7", packets[0].MainText())
	assert.Equal(t, "5 7 9", packets[1].MainText())
	assert.Equal(t, "5 7 11", packets[2].MainText())
	val, ok := packets[2].Get(d.opts.OutKey + "-2")
	require.True(t, ok)
	assert.Equal(t, "5 7 9", val)
	assert.True(t, packets[3].IsEndpoint())
}

func TestHandleLineRejectsUnknownPrefix(t *testing.T) {
	t.Parallel()
	d := New(config.DecoderConfig{}, Options{}, nil)
	out := graph.NewQueue("out", 16, time.Second)
	err := d.handleLine(context.Background(), out, "garbage")
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrProtocolMismatch)
}

func TestIdsToWordsUsesSymtab(t *testing.T) {
	t.Parallel()
	tbl, err := symtab.Load(writeSymtab(t))
	require.NoError(t, err)
	d := New(config.DecoderConfig{}, Options{Symtab: tbl}, nil)
	assert.Equal(t, "THE FOX", d.idsToWords([]string{"1", "2"}))
}

func TestLengthPenaltyRerankerOrdersByDistance(t *testing.T) {
	t.Parallel()
	r := LengthPenaltyReranker{TargetLength: 1}
	got, err := r.Rerank([][]string{{"a", "b", "c"}, {"a"}, {"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}}, got)
}

type rerankerFunc func(hyps [][]string) ([][]string, error)

func (f rerankerFunc) Rerank(hyps [][]string) ([][]string, error) { return f(hyps) }

func writeSymtab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("THE 1\nFOX 2\n"), 0o644))
	return path
}
