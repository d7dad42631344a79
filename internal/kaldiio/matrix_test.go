// SPDX-License-Identifier: AGPL-3.0-or-later
package kaldiio_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/kaldiio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixRoundTrip(t *testing.T) {
	t.Parallel()
	m := graph.NewMatrix(2, 3)
	for i := range m.Data {
		m.Data[i] = float32(i) + 0.5
	}

	var buf bytes.Buffer
	require.NoError(t, kaldiio.WriteMatrix(&buf, m))

	got, err := kaldiio.ReadMatrix(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, m.Rows, got.Rows)
	assert.Equal(t, m.Cols, got.Cols)
	assert.Equal(t, m.Data, got.Data)
}

func TestReadTokenStopsAtSpace(t *testing.T) {
	t.Parallel()
	r := bufio.NewReader(bytes.NewBufferString("utt-1 rest"))
	tok, err := kaldiio.ReadToken(r)
	require.NoError(t, err)
	assert.Equal(t, "utt-1", tok)
}

func TestReadMatrixRejectsBadMarker(t *testing.T) {
	t.Parallel()
	r := bufio.NewReader(bytes.NewBufferString("XXFM \x04\x00\x00\x00\x00"))
	_, err := kaldiio.ReadMatrix(r)
	assert.Error(t, err)
}

// TestReadMatrixRealFormat hand-builds the byte layout the reference engine
// actually produces — a 1-byte size-prefix ahead of each dimension field —
// rather than relying solely on this package's own round-trip.
func TestReadMatrixRealFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteString("\x00B")
	buf.WriteString("FM ")
	buf.Write([]byte{4, 1, 0, 0, 0}) // rows = 1
	buf.Write([]byte{4, 2, 0, 0, 0}) // cols = 2
	buf.Write([]byte{0x00, 0x00, 0x80, 0x3f}) // 1.0
	buf.Write([]byte{0x00, 0x00, 0x00, 0x40}) // 2.0

	got, err := kaldiio.ReadMatrix(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rows)
	assert.Equal(t, 2, got.Cols)
	assert.Equal(t, []float32{1.0, 2.0}, got.Data)
}
