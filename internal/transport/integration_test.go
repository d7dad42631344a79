// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSenderReceiverAcrossStages feeds a vector and an endpoint through a
// Sender stage on one end of a net.Pipe and checks a Receiver stage on the
// other end reproduces them, then stops cleanly once the sender side
// finalizes.
func TestSenderReceiverAcrossStages(t *testing.T) {
	t.Parallel()
	connA, connB := net.Pipe()
	t.Cleanup(func() { connA.Close(); connB.Close() })
	cfg := config.TransportConfig{MaxSocketBufferSize: 1024, SocketRetry: 4}

	sender := NewSender(NewConn(connA, cfg, nil))
	receiver := NewReceiver(NewConn(connB, cfg, nil), graph.NextProducerID())

	in := graph.NewQueue("in", 8, time.Second)
	senderOut := graph.NewQueue("sender-out", 8, time.Second)
	out := graph.NewQueue("receiver-out", 8, time.Second)

	senderStage := graph.NewStage("sender", in, senderOut, sender, time.Millisecond, nil)
	receiverStage := graph.NewStage("receiver", nil, out, receiver, time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, senderStage.Start(ctx))
	require.NoError(t, receiverStage.Start(ctx))

	require.NoError(t, in.Put(ctx, graph.NewVector(1, 1, []float32{1, 2, 3})))
	require.NoError(t, in.Put(ctx, graph.NewEndpoint(1, 1)))
	in.Stop()

	var packets []graph.Packet
	for i := 0; i < 2; i++ {
		p, err := out.Get(ctx)
		require.NoError(t, err)
		packets = append(packets, p)
	}

	require.Len(t, packets, 2)
	assert.Equal(t, []float32{1, 2, 3}, packets[0].MainVector())
	assert.True(t, packets[1].IsEndpoint())
	assert.Equal(t, int64(1), packets[1].ChunkID)

	// Sender's Finalize fires once In drains; that Terminated frame should
	// stop the receiver's Out queue.
	require.Eventually(t, func() bool {
		return out.State() == graph.StateTerminated
	}, time.Second, time.Millisecond)
}
