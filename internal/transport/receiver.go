// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"context"
	"fmt"

	"github.com/speechgraph/sgraph/internal/graph"
)

// Receiver is the inbound half of the transport shim: a source Worker (its
// Stage has a nil In) that reads §4.12 frames off a Conn and emits the
// decoded packets onto Out.
type Receiver struct {
	conn *Conn
	id   uint64
	out  *graph.Queue
}

// NewReceiver wraps conn for inbound use. id is stamped onto every
// reconstructed packet as its (local) producer id.
func NewReceiver(conn *Conn, id uint64) *Receiver {
	return &Receiver{conn: conn, id: id}
}

// Process implements graph.Worker. It ignores the packet the Stage passes
// in (there is none — In is nil) and instead blocks on the wire for the
// next frame, translating it into zero or one packets on out.
func (r *Receiver) Process(ctx context.Context, _ graph.Packet, out *graph.Queue) error {
	r.out = out

	tag, payload, err := r.conn.RecvFrame(nil)
	if err != nil {
		return err
	}

	switch tag {
	case TagActive, TagStranded:
		r.applyPeerTag(tag)
		return nil

	case TagTerminated:
		r.applyPeerTag(tag)
		return nil

	case TagError:
		r.applyPeerTag(tag)
		return fmt.Errorf("%w: transport: peer reported an error", graph.ErrChildCrash)

	case TagEndpoint:
		if len(payload) < 8 {
			return fmt.Errorf("%w: transport: truncated endpoint frame", graph.ErrProtocolMismatch)
		}
		chunkID := i64FromBytes(payload)
		return out.Put(ctx, graph.NewEndpoint(chunkID, r.id))

	case TagPacket:
		p, err := DecodePacket(payload, r.id)
		if err != nil {
			return err
		}
		return out.Put(ctx, p)

	default:
		return fmt.Errorf("%w: transport: unrecognized tag %#x", graph.ErrProtocolMismatch, byte(tag))
	}
}

func i64FromBytes(b []byte) int64 {
	return bytesI64(b)
}
