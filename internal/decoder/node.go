// SPDX-License-Identifier: AGPL-3.0-or-later
package decoder

import (
	"context"

	"github.com/speechgraph/sgraph/internal/graph"
)

// Node adapts a Driver to graph.Node (and graph.Runnable, via Output) so it
// can sit in a Chain or drive graph.DynamicRun like any other stage, despite
// Driver.Start taking explicit in/out queues rather than being queue-bound
// at construction the way a Stage's Worker is.
type Node struct {
	d   *Driver
	in  *graph.Queue
	out *graph.Queue
}

// AsNode binds d to in/out and returns the graph.Node wrapper. in carries
// scaled-probability Matrix packets; out receives partial/final Text
// packets.
func (d *Driver) AsNode(in, out *graph.Queue) *Node {
	return &Node{d: d, in: in, out: out}
}

func (n *Node) Name() string { return "decoder" }

// Output returns the decoder's text output queue.
func (n *Node) Output() *graph.Queue { return n.out }

func (n *Node) Start(ctx context.Context) error { return n.d.Start(ctx, n.in, n.out) }
func (n *Node) Stop()                           { n.in.Stop() }
func (n *Node) Kill()                           { n.d.Kill() }
func (n *Node) Wait() error                     { return n.d.Wait() }
