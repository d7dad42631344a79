// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the C12 transport shim: a pair of stages
// that let a graph span two hosts over a plain net.Conn, speaking the §4.12
// wire protocol (duplicate-size integrity check with retry, a tag byte that
// piggybacks peer state, and a compact packet serialization).
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
)

// Tag is the 1-byte kind that piggybacks state negotiation onto a frame.
type Tag byte

const (
	TagActive     Tag = '0'
	TagEndpoint   Tag = '1'
	TagTerminated Tag = '2'
	TagError      Tag = '3'
	TagStranded   Tag = '4'
	TagPacket     Tag = '5'
)

func (t Tag) String() string {
	switch t {
	case TagActive:
		return "active"
	case TagEndpoint:
		return "endpoint"
	case TagTerminated:
		return "terminated"
	case TagError:
		return "error"
	case TagStranded:
		return "stranded"
	case TagPacket:
		return "packet"
	default:
		return "unknown"
	}
}

const (
	ackOK    byte = '0'
	ackRetry byte = '1'
)

// Conn wraps a byte stream (normally a net.Conn) with the §4.12 framing:
// two independent 32-bit little-endian size fields, a tag byte, a payload,
// and a one-byte ack that either confirms receipt ("0", optionally followed
// by a length-prefixed feedback message) or requests retransmission ("1").
type Conn struct {
	rw    io.ReadWriter
	cfg   config.TransportConfig
	m     *metrics.Metrics
	rxBuf []byte
}

// NewConn wraps rw. cfg supplies SocketRetry (the per-send retry budget)
// and MaxSocketBufferSize (how much garbled input RecvFrame will discard
// before giving up on resync).
func NewConn(rw io.ReadWriter, cfg config.TransportConfig, m *metrics.Metrics) *Conn {
	if cfg.SocketRetry <= 0 {
		cfg.SocketRetry = 10
	}
	if cfg.MaxSocketBufferSize <= 0 {
		cfg.MaxSocketBufferSize = 10000
	}
	return &Conn{rw: rw, cfg: cfg, m: m}
}

// SendFrame writes tag+payload, retrying up to SocketRetry times if the
// peer reports a duplicate-size mismatch. feedback, if non-nil, is read
// back from the peer's success ack.
func (c *Conn) SendFrame(tag Tag, payload []byte) (feedback []byte, err error) {
	for attempt := 0; attempt < c.cfg.SocketRetry; attempt++ {
		if err := writeSizes(c.rw, len(payload)); err != nil {
			return nil, err
		}
		if _, err := c.rw.Write([]byte{byte(tag)}); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if _, err := c.rw.Write(payload); err != nil {
				return nil, err
			}
		}
		if c.m != nil {
			c.m.TransportBytesTX.Add(float64(9 + len(payload)))
		}

		ack := make([]byte, 1)
		if _, err := io.ReadFull(c.rw, ack); err != nil {
			return nil, err
		}
		switch ack[0] {
		case ackOK:
			return c.readFeedback()
		case ackRetry:
			if c.m != nil {
				c.m.TransportRetries.Inc()
			}
			continue
		default:
			return nil, fmt.Errorf("%w: transport: unexpected ack byte %#x", graph.ErrProtocolMismatch, ack[0])
		}
	}
	return nil, fmt.Errorf("%w: transport: exceeded retry budget (%d)", graph.ErrProtocolMismatch, c.cfg.SocketRetry)
}

func (c *Conn) readFeedback() ([]byte, error) {
	n, err := readU32(c.rw)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// sendFeedback writes an optional length-prefixed message after a success
// ack (0 for "no feedback").
func (c *Conn) sendFeedback(msg []byte) error {
	if err := writeU32(c.rw, uint32(len(msg))); err != nil {
		return err
	}
	if len(msg) == 0 {
		return nil
	}
	_, err := c.rw.Write(msg)
	return err
}

// RecvFrame reads one frame, resyncing on duplicate-size mismatch by
// discarding up to MaxSocketBufferSize bytes and asking the peer to resend.
// feedback is sent back verbatim once the frame is accepted; pass nil for
// none.
func (c *Conn) RecvFrame(feedback []byte) (Tag, []byte, error) {
	for {
		size1, err := readU32(c.rw)
		if err != nil {
			return 0, nil, err
		}
		size2, err := readU32(c.rw)
		if err != nil {
			return 0, nil, err
		}
		if size1 != size2 {
			if err := c.flush(); err != nil {
				return 0, nil, err
			}
			if _, err := c.rw.Write([]byte{ackRetry}); err != nil {
				return 0, nil, err
			}
			continue
		}

		tagByte := make([]byte, 1)
		if _, err := io.ReadFull(c.rw, tagByte); err != nil {
			return 0, nil, err
		}
		payload := make([]byte, size1)
		if size1 > 0 {
			if _, err := io.ReadFull(c.rw, payload); err != nil {
				return 0, nil, err
			}
		}

		if _, err := c.rw.Write([]byte{ackOK}); err != nil {
			return 0, nil, err
		}
		if err := c.sendFeedback(feedback); err != nil {
			return 0, nil, err
		}
		if c.m != nil {
			c.m.TransportBytesRX.Add(float64(9 + len(payload)))
		}
		return Tag(tagByte[0]), payload, nil
	}
}

// flush discards up to MaxSocketBufferSize bytes of whatever the peer sends
// next, the shim's way of dropping a garbled frame before resyncing.
func (c *Conn) flush() error {
	if len(c.rxBuf) != c.cfg.MaxSocketBufferSize {
		c.rxBuf = make([]byte, c.cfg.MaxSocketBufferSize)
	}
	n, err := c.rw.Read(c.rxBuf)
	if err != nil && n == 0 {
		return err
	}
	return nil
}

func writeSizes(w io.Writer, n int) error {
	if err := writeU32(w, uint32(n)); err != nil {
		return err
	}
	return writeU32(w, uint32(n))
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(b[:])), nil
}
