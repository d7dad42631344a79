// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Node is anything a Chain can start/stop/kill/wait on. *Stage and the
// joints (*Mapper, *Splitter, *Replicator, *Combiner, *Merger) implement it.
type Node interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Kill()
	Wait() error
}

// Chain is an ordered list of Nodes. For adjacent *Stage entries with an
// unbound input, Add auto-wires the new stage's In to the previous stage's
// Out — matching the reference implementation's chain.add(component),
// which threads pipes through automatically for the common linear case.
// Joints (which read/write several queues) must be wired explicitly before
// being added.
type Chain struct {
	nodes []Node
}

// NewChain returns an empty Chain.
func NewChain() *Chain { return &Chain{} }

// Add appends n to the chain, auto-wiring a bare *Stage's input to the
// previous stage's output when both are plain stages.
func (c *Chain) Add(n Node) {
	if len(c.nodes) > 0 {
		if st, ok := n.(*Stage); ok && st.In == nil {
			if prev, ok := c.nodes[len(c.nodes)-1].(*Stage); ok {
				st.In = prev.Out
			}
		}
	}
	c.nodes = append(c.nodes, n)
}

// Name implements Node.
func (c *Chain) Name() string { return "chain" }

// Nodes returns the chain's nodes in insertion order.
func (c *Chain) Nodes() []Node { return c.nodes }

// Output returns the last node's output queue, for DynamicRun and other
// callers that want to watch a whole chain's final packets flow by. It is
// nil if the chain is empty or its tail node doesn't expose one output
// (e.g. ends in a fan-out Splitter/Replicator).
func (c *Chain) Output() *Queue {
	if len(c.nodes) == 0 {
		return nil
	}
	if o, ok := c.nodes[len(c.nodes)-1].(interface{ Output() *Queue }); ok {
		return o.Output()
	}
	return nil
}

// Start launches every node's loop concurrently via an errgroup, so a
// Start failure from one node doesn't strand the others mid-launch.
func (c *Chain) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, n := range c.nodes {
		n := n
		g.Go(func() error { return n.Start(ctx) })
	}
	return g.Wait()
}

// Stop requests graceful termination of every node in order, head to tail,
// so termination propagates downstream the way it would if each stage
// noticed its own input queue had drained.
func (c *Chain) Stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// Kill forcibly tears down every node.
func (c *Chain) Kill() {
	for _, n := range c.nodes {
		n.Kill()
	}
}

// Wait blocks until every node has exited, returning the first non-nil
// error encountered (if any), after waiting on all of them.
func (c *Chain) Wait() error {
	var first error
	for _, n := range c.nodes {
		if err := n.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
