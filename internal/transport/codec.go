// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/speechgraph/sgraph/internal/graph"
)

// Packet-tag payload layout:
//
//	[8]  chunk id, int64 LE
//	[1]  shape: 'S' scalar, 'V' vector, 'M' matrix, 'T' text
//	[1]  dtype: 'I' or 'F' (absent for text)
//	[1]  element size in bytes (absent for text)
//	[4]  row count (matrices only)
//	...  raw little-endian payload
//
// §4.12 only documents the dtype/element-size/row-count trio; the shape tag
// and chunk id are this shim's own addition, needed because one transport
// connection carries every packet kind the graph produces, not a single
// fixed shape the way a point-to-point codec could assume.
const (
	shapeScalar = 'S'
	shapeVector = 'V'
	shapeMatrix = 'M'
	shapeText   = 'T'

	dtypeInt   = 'I'
	dtypeFloat = 'F'
)

// EncodePacket renders p as a Packet-tagged wire payload. Null packets
// carry no cross-host meaning (they're local bookkeeping for joints that
// intentionally skip a branch) and are not sendable.
func EncodePacket(p graph.Packet) ([]byte, error) {
	var body []byte

	switch p.Kind {
	case graph.KindElement:
		e := p.MainElement()
		if e.IsFloat {
			body = append([]byte{shapeScalar, dtypeFloat, 4}, f32bytes(e.F)...)
		} else {
			body = append([]byte{shapeScalar, dtypeInt, 8}, i64bytes(e.I)...)
		}
	case graph.KindVector:
		v := p.MainVector()
		body = append([]byte{shapeVector, dtypeFloat, 4}, vecBytes(v)...)
	case graph.KindMatrix:
		m := p.MainMatrix()
		head := []byte{shapeMatrix, dtypeFloat, 4}
		var rows [4]byte
		binary.LittleEndian.PutUint32(rows[:], uint32(m.Rows))
		body = append(append(head, rows[:]...), vecBytes(m.Data)...)
	case graph.KindText:
		body = append([]byte{shapeText}, []byte(p.MainText())...)
	default:
		return nil, fmt.Errorf("transport: packet kind %s has no wire encoding", p.Kind)
	}

	out := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint64(out, uint64(p.ChunkID))
	return append(out, body...), nil
}

// DecodePacket is the inverse of EncodePacket. producerID is stamped onto
// the reconstructed packet (the receiving stage's own id, not the sender's,
// since producer ids are process-local).
func DecodePacket(payload []byte, producerID uint64) (graph.Packet, error) {
	if len(payload) < 9 {
		return graph.Packet{}, fmt.Errorf("%w: transport: packet payload too short", graph.ErrProtocolMismatch)
	}
	chunkID := int64(binary.LittleEndian.Uint64(payload[:8]))
	shape := payload[8]
	rest := payload[9:]

	switch shape {
	case shapeScalar:
		if len(rest) < 2 {
			return graph.Packet{}, fmt.Errorf("%w: transport: truncated scalar", graph.ErrProtocolMismatch)
		}
		dtype, elemSize, data := rest[0], rest[1], rest[2:]
		switch dtype {
		case dtypeFloat:
			if len(data) < 4 {
				return graph.Packet{}, fmt.Errorf("%w: transport: truncated float scalar", graph.ErrProtocolMismatch)
			}
			return graph.NewElement(chunkID, producerID, graph.Element{F: bytesF32(data), IsFloat: true}), nil
		case dtypeInt:
			if len(data) < 8 {
				return graph.Packet{}, fmt.Errorf("%w: transport: truncated int scalar", graph.ErrProtocolMismatch)
			}
			return graph.NewElement(chunkID, producerID, graph.Element{I: bytesI64(data)}), nil
		default:
			return graph.Packet{}, fmt.Errorf("%w: transport: unknown dtype %q (elemSize %d)", graph.ErrProtocolMismatch, dtype, elemSize)
		}

	case shapeVector:
		if len(rest) < 2 {
			return graph.Packet{}, fmt.Errorf("%w: transport: truncated vector header", graph.ErrProtocolMismatch)
		}
		data := rest[2:]
		return graph.NewVector(chunkID, producerID, bytesToVec(data)), nil

	case shapeMatrix:
		if len(rest) < 6 {
			return graph.Packet{}, fmt.Errorf("%w: transport: truncated matrix header", graph.ErrProtocolMismatch)
		}
		rows := int(binary.LittleEndian.Uint32(rest[2:6]))
		data := bytesToVec(rest[6:])
		cols := 0
		if rows > 0 {
			cols = len(data) / rows
		}
		return graph.NewMatrixPacket(chunkID, producerID, graph.Matrix{Data: data, Rows: rows, Cols: cols}), nil

	case shapeText:
		return graph.NewText(chunkID, producerID, string(rest)), nil

	default:
		return graph.Packet{}, fmt.Errorf("%w: transport: unknown shape tag %q", graph.ErrProtocolMismatch, shape)
	}
}

func f32bytes(v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

func bytesF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func i64bytes(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func bytesI64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func vecBytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToVec(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
