// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"context"
	"fmt"
	"time"
)

// Elapsed is a tiny stopwatch, ported from the reference implementation's
// utils.py timer helper, for ad-hoc profiling. Not used on any hot path,
// and DynamicRun does not use it.
type Elapsed struct {
	start time.Time
}

// NewElapsed starts the stopwatch.
func NewElapsed() *Elapsed { return &Elapsed{start: time.Now()} }

// Reset restarts the stopwatch and returns the duration since the previous
// start (or construction).
func (e *Elapsed) Reset() time.Duration {
	now := time.Now()
	d := now.Sub(e.start)
	e.start = now
	return d
}

// Since returns the duration since the stopwatch started, without
// resetting it.
func (e *Elapsed) Since() time.Duration { return time.Since(e.start) }

// Runnable is anything DynamicRun can drive: a single Stage or a whole
// Chain, as long as it exposes the one output Queue to display.
type Runnable interface {
	Node
	Output() *Queue
}

// DisplayItem picks one piece of a Packet to print. With Fn nil, Name
// selects a known Packet attribute (ChunkID, ProducerID, Kind, Main,
// MainText, MainVector, MainMatrix, MainElement, or any key set via
// Packet.With). With Fn set, it's applied to the packet directly — the
// reference implementation's "dict of functions to process the Packet"
// form.
type DisplayItem struct {
	Name string
	Fn   func(Packet) any
}

// DynamicRun is a debug/test driver, not part of the production path: it
// starts target, then prints each packet that reaches its output queue
// according to items until the queue is exhausted or killed, rendering
// Endpoint packets as a literal separator line. It mirrors the reference
// implementation's dynamic_run(target, inPIPE, items), with one
// substitution: Queue.Get already blocks on the queue's wait channel
// instead of busy-polling at TIMESCALE, so this drops the explicit sleep
// loop without changing the observable behavior.
func DynamicRun(ctx context.Context, target Runnable, items []DisplayItem) error {
	if err := target.Start(ctx); err != nil {
		return fmt.Errorf("graph: dynamic_run: start: %w", err)
	}

	out := target.Output()
	for {
		p, err := out.Get(ctx)
		if err != nil {
			break
		}
		if p.IsEndpoint() {
			fmt.Println("----- Endpoint -----")
			continue
		}
		for _, it := range items {
			fmt.Printf("%s: %v\n", it.Name, displayValue(p, it))
		}
		fmt.Println()
	}
	return target.Wait()
}

func displayValue(p Packet, it DisplayItem) any {
	if it.Fn != nil {
		return it.Fn(p)
	}
	switch it.Name {
	case "ChunkID":
		return p.ChunkID
	case "ProducerID":
		return p.ProducerID
	case "Kind":
		return p.Kind.String()
	case "Main":
		v, _ := p.Main()
		return v
	case "MainText":
		return p.MainText()
	case "MainVector":
		return p.MainVector()
	case "MainMatrix":
		return p.MainMatrix()
	case "MainElement":
		return p.MainElement()
	default:
		v, _ := p.Get(it.Name)
		return v
	}
}
