// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
)

// Sender is the outbound half of the transport shim: a sink Worker that
// drains a Queue onto a Conn, one §4.12 frame per packet. Wire it into a
// graph.Stage whose In is the queue to ship and whose Out is unused
// (Stage requires a non-nil Out; nothing is ever Put to it).
type Sender struct {
	conn *Conn
	mu   sync.Mutex
}

// NewSender wraps conn for outbound use.
func NewSender(conn *Conn) *Sender {
	return &Sender{conn: conn}
}

// Process implements graph.Worker. Null packets are local bookkeeping and
// are not forwarded; every other kind crosses as a Packet or Endpoint
// frame. A send failure also best-effort notifies the peer with an Error
// frame before surfacing the error to the Stage (which then kills In/Out).
func (s *Sender) Process(ctx context.Context, in graph.Packet, _ *graph.Queue) error {
	if in.IsNull() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IsEndpoint() {
		_, err := s.conn.SendFrame(TagEndpoint, i64bytes(in.ChunkID))
		if err != nil {
			return s.announceFailure(err)
		}
		return nil
	}

	payload, err := EncodePacket(in)
	if err != nil {
		return err
	}
	if _, err := s.conn.SendFrame(TagPacket, payload); err != nil {
		return s.announceFailure(err)
	}
	return nil
}

// Finalize sends a Terminated frame once the input side of the stage has
// drained cleanly, so the peer stops its own Out queue instead of blocking
// forever waiting for more frames.
func (s *Sender) Finalize(ctx context.Context, _ *graph.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.SendFrame(TagTerminated, nil)
	return err
}

// Heartbeat periodically sends an Active frame carrying the local clock,
// the §5 "negotiate peer state across hosts" keepalive. Run it in its own
// goroutine alongside the Sender's Stage; it stops when ctx is canceled.
func (s *Sender) Heartbeat(ctx context.Context, interval time.Duration, now func() float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.conn.SendFrame(TagActive, encodeTimestamp(now()))
			s.mu.Unlock()
		}
	}
}

func (s *Sender) announceFailure(cause error) error {
	_, _ = s.conn.SendFrame(TagError, nil)
	return cause
}
