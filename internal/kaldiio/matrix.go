// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kaldiio implements the binary dense-matrix codec shared by the
// global statistics file (§6.5) and the LDA/MLLT transform file (§6.6):
// a "\0B" binary marker, a 3-byte format tag ("FM " single-precision or
// "DM " double-precision), a row count and a column count each written as
// a 1-byte size-prefix followed by a little-endian int32, and the
// row-major payload. This matches the reference engine's own on-disk
// layout (the size-prefix byte records sizeof(int32) ahead of each
// dimension field) so a file produced by either toolchain loads in the
// other.
package kaldiio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/speechgraph/sgraph/internal/graph"
)

var binaryMarker = [2]byte{0x00, 'B'}

// ReadToken reads one whitespace-delimited ASCII token (e.g. an utterance
// id) from r, stopping at (and consuming) the delimiting space.
func ReadToken(r *bufio.Reader) (string, error) {
	tok, err := r.ReadString(' ')
	if err != nil {
		return "", err
	}
	return tok[:len(tok)-1], nil
}

// ReadMatrix parses one "\0B"-tagged matrix from r, positioned immediately
// after any leading key token.
func ReadMatrix(r *bufio.Reader) (graph.Matrix, error) {
	var marker [2]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return graph.Matrix{}, fmt.Errorf("kaldiio: reading binary marker: %w", err)
	}
	if marker != binaryMarker {
		return graph.Matrix{}, fmt.Errorf("kaldiio: expected binary marker \\0B, got %v", marker)
	}

	var tag [3]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return graph.Matrix{}, fmt.Errorf("kaldiio: reading format tag: %w", err)
	}
	var elemSize int
	switch string(tag[:]) {
	case "FM ":
		elemSize = 4
	case "DM ":
		elemSize = 8
	default:
		return graph.Matrix{}, fmt.Errorf("kaldiio: unknown format tag %q", tag)
	}

	rows, err := readSizedInt32(r)
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("kaldiio: reading row count: %w", err)
	}
	cols, err := readSizedInt32(r)
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("kaldiio: reading col count: %w", err)
	}

	payload := make([]byte, rows*cols*elemSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return graph.Matrix{}, fmt.Errorf("kaldiio: reading payload: %w", err)
	}

	m := graph.NewMatrix(rows, cols)
	for i := 0; i < rows*cols; i++ {
		if elemSize == 4 {
			bits := binary.LittleEndian.Uint32(payload[i*4:])
			m.Data[i] = float32FromBits(bits)
		} else {
			bits := binary.LittleEndian.Uint64(payload[i*8:])
			m.Data[i] = float32(float64FromBits(bits))
		}
	}
	return m, nil
}

// WriteMatrix serializes m in "FM " (single-precision) form, matching the
// reference engine's own output format so round-tripped files load
// identically in either toolchain.
func WriteMatrix(w io.Writer, m graph.Matrix) error {
	if _, err := w.Write(binaryMarker[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte("FM ")); err != nil {
		return err
	}
	if err := writeSizedInt32(w, int32(m.Rows)); err != nil {
		return err
	}
	if err := writeSizedInt32(w, int32(m.Cols)); err != nil {
		return err
	}
	buf := make([]byte, len(m.Data)*4)
	for i, v := range m.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], float32Bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// readSizedInt32 reads a dimension field encoded as a 1-byte size prefix
// (always 4, the byte width of the int32 that follows) and the int32 itself.
func readSizedInt32(r io.Reader) (int, error) {
	var sizeByte [1]byte
	if _, err := io.ReadFull(r, sizeByte[:]); err != nil {
		return 0, err
	}
	if sizeByte[0] != 4 {
		return 0, fmt.Errorf("kaldiio: unexpected dimension size byte %d, want 4", sizeByte[0])
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(buf[:]))), nil
}

func writeSizedInt32(w io.Writer, v int32) error {
	if _, err := w.Write([]byte{4}); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf)
	return err
}
