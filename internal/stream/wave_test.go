// SPDX-License-Identifier: AGPL-3.0-or-later
package stream_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWaveFile writes a minimal 16kHz/16-bit/mono RIFF/WAVE file
// containing samples.
func writeWaveFile(t *testing.T, path string, samples []int16) {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		data.Write(b[:])
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+data.Len()))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1)     // PCM
	writeU16(&buf, 1)     // mono
	writeU32(&buf, 16000) // sample rate
	writeU32(&buf, 32000) // byte rate
	writeU16(&buf, 2)     // block align
	writeU16(&buf, 16)    // bits per sample

	buf.WriteString("data")
	writeU32(&buf, uint32(data.Len()))
	buf.Write(data.Bytes())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func TestWaveReaderEmitsElementsThenStops(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	samples := []int16{1, 2, 3, 4, 5}
	writeWaveFile(t, path, samples)

	r, err := stream.NewWaveReader(path, stream.ReaderOptions{ChunkSize: 2})
	require.NoError(t, err)
	defer r.Close()

	out := graph.NewQueue("out", 32, time.Second)
	stage := graph.NewStage("wave", nil, out, r, time.Millisecond, nil)
	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))

	packets := drain(t, out)
	var gotI []int64
	for _, p := range packets {
		assert.False(t, p.MainElement().IsFloat)
		gotI = append(gotI, p.MainElement().I)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, gotI)
}

func TestOpenWaveFileRejectsWrongFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.wav")

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeU32(&buf, 36)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1)
	writeU16(&buf, 2)     // stereo, not mono
	writeU32(&buf, 16000)
	writeU32(&buf, 64000)
	writeU16(&buf, 4)
	writeU16(&buf, 16)
	buf.WriteString("data")
	writeU32(&buf, 0)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := stream.NewWaveReader(path, stream.ReaderOptions{ChunkSize: 2})
	require.Error(t, err)
}

func TestWaveRecorderFromReader(t *testing.T) {
	t.Parallel()
	var raw bytes.Buffer
	for _, s := range []int16{10, 20, 30} {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		raw.Write(b[:])
	}

	rec := stream.NewWaveRecorder(&raw, stream.ReaderOptions{ChunkSize: 3})
	out := graph.NewQueue("out", 32, time.Second)
	stage := graph.NewStage("rec", nil, out, rec, time.Millisecond, nil)
	ctx := context.Background()
	require.NoError(t, stage.Start(ctx))

	packets := drain(t, out)
	require.Len(t, packets, 3)
	assert.Equal(t, int64(10), packets[0].MainElement().I)
}
