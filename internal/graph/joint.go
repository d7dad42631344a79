// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/speechgraph/sgraph/internal/metrics"
)

// errAligned is returned internally by the alignment engine once any input
// has drained (Get returned ErrNoMoreData): the fan-in node has nothing
// left to align and should finish cleanly.
var errAligned = errors.New("graph: aligner exhausted")

// MapFunc transforms one packet's payload. Chunk id and producer id are
// preserved by Mapper regardless of what MapFunc returns.
type MapFunc func(Packet) Packet

// SplitFunc produces one packet per output branch from a single input
// packet. The returned slice must have exactly len(outs) elements.
type SplitFunc func(Packet) []Packet

// CombineFunc folds N chunk-id-aligned packets (one per input, in input
// order) into a single packet's payload. Never called for an aligned
// all-Endpoint frontier — the Combiner emits a bare Endpoint itself then.
type CombineFunc func([]Packet) (Packet, error)

// Mapper is the 1-to-1 joint: apply fn to every packet, preserving
// chunk/producer id.
type Mapper struct {
	name string
	id   uint64
	in   *Queue
	out  *Queue
	fn   MapFunc

	timescale time.Duration
	done      chan struct{}
	err       error
}

// NewMapper constructs a Mapper. fn is not invoked for Endpoint/Null
// packets — those pass through unchanged.
func NewMapper(name string, in, out *Queue, fn MapFunc, timescale time.Duration, m *metrics.Metrics) *Mapper {
	in.Observe(m)
	out.Observe(m)
	return &Mapper{name: name, id: NextProducerID(), in: in, out: out, fn: fn, timescale: timescale, done: make(chan struct{})}
}

func (j *Mapper) Name() string { return j.name }

// Output returns the Mapper's output queue.
func (j *Mapper) Output() *Queue { return j.out }

func (j *Mapper) Start(ctx context.Context) error {
	go j.run(ctx)
	return nil
}

func (j *Mapper) run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			j.Kill()
			return
		default:
		}
		if j.out.State() == StateStranded {
			time.Sleep(j.timescale)
			continue
		}
		switch j.in.State() {
		case StateWrong:
			return
		case StateTerminated:
			if j.in.IsEmpty() {
				j.out.Stop()
				return
			}
		}
		p, err := j.in.Get(ctx)
		if err != nil {
			if err == ErrNoMoreData {
				continue
			}
			j.fail(err)
			return
		}
		out := p
		if !p.IsEndpoint() && !p.IsNull() {
			out = j.fn(p).WithIDs(p.ChunkID, p.ProducerID)
		}
		if err := j.out.Put(ctx, out); err != nil {
			j.fail(err)
			return
		}
	}
}

func (j *Mapper) fail(err error) {
	j.err = err
	slog.Error("joint failed", "joint", j.name, "error", err)
	j.Kill()
}

func (j *Mapper) Stop() { j.in.Stop() }
func (j *Mapper) Kill() { j.in.Kill(); j.out.Kill() }
func (j *Mapper) Wait() error {
	<-j.done
	return j.err
}

// Splitter is the 1-to-N joint: fn maps one input packet onto len(outs)
// output packets, each stamped with the splitter's own producer id but the
// same chunk id as the source packet.
type Splitter struct {
	name string
	id   uint64
	in   *Queue
	outs []*Queue
	fn   SplitFunc

	timescale time.Duration
	done      chan struct{}
	err       error
}

func NewSplitter(name string, in *Queue, outs []*Queue, fn SplitFunc, timescale time.Duration, m *metrics.Metrics) *Splitter {
	in.Observe(m)
	for _, o := range outs {
		o.Observe(m)
	}
	return &Splitter{name: name, id: NextProducerID(), in: in, outs: outs, fn: fn, timescale: timescale, done: make(chan struct{})}
}

func (j *Splitter) Name() string { return j.name }

func (j *Splitter) Start(ctx context.Context) error {
	go j.run(ctx)
	return nil
}

func (j *Splitter) run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			j.Kill()
			return
		default:
		}
		anyStranded := false
		for _, o := range j.outs {
			if o.State() == StateStranded {
				anyStranded = true
			}
		}
		if anyStranded {
			time.Sleep(j.timescale)
			continue
		}
		switch j.in.State() {
		case StateWrong:
			return
		case StateTerminated:
			if j.in.IsEmpty() {
				for _, o := range j.outs {
					o.Stop()
				}
				return
			}
		}
		p, err := j.in.Get(ctx)
		if err != nil {
			if err == ErrNoMoreData {
				continue
			}
			j.fail(err)
			return
		}

		var parts []Packet
		if p.IsEndpoint() || p.IsNull() {
			parts = make([]Packet, len(j.outs))
			for i := range parts {
				parts[i] = p
			}
		} else {
			parts = j.fn(p)
		}
		for i, o := range j.outs {
			stamped := parts[i].WithIDs(p.ChunkID, j.id)
			if err := o.Put(ctx, stamped); err != nil {
				j.fail(err)
				return
			}
		}
	}
}

func (j *Splitter) fail(err error) {
	j.err = err
	slog.Error("joint failed", "joint", j.name, "error", err)
	j.Kill()
}

func (j *Splitter) Stop() { j.in.Stop() }
func (j *Splitter) Kill() {
	j.in.Kill()
	for _, o := range j.outs {
		o.Kill()
	}
}
func (j *Splitter) Wait() error {
	<-j.done
	return j.err
}

// Replicator is the 1-to-N joint that deep-copies each input packet onto
// every output branch, preserving chunk id. Every replica therefore
// observes the identical chunk-id sequence.
type Replicator struct{ *Splitter }

func deepCopyPacket(p Packet) Packet {
	main, _ := p.Main()
	if m, ok := main.(Matrix); ok {
		return p.With(MainKey, m.Clone())
	}
	if v, ok := main.([]float32); ok {
		cp := make([]float32, len(v))
		copy(cp, v)
		return p.With(MainKey, cp)
	}
	return p
}

// NewReplicator constructs a Replicator as a Splitter whose split function
// clones the input packet onto every branch.
func NewReplicator(name string, in *Queue, outs []*Queue, timescale time.Duration, m *metrics.Metrics) *Replicator {
	fn := func(p Packet) []Packet {
		parts := make([]Packet, len(outs))
		for i := range parts {
			parts[i] = deepCopyPacket(p)
		}
		return parts
	}
	return &Replicator{Splitter: NewSplitter(name, in, outs, fn, timescale, m)}
}

// aligner implements the chunk-id alignment shared by Combiner and Merger:
// pull one pending packet per input, drop any older than the newest head
// across inputs, and repeat until every input's head matches. An Endpoint
// counts as an ordinary aligned element.
type aligner struct {
	ins     []*Queue
	pending []*Packet
}

func newAligner(ins []*Queue) *aligner {
	return &aligner{ins: ins, pending: make([]*Packet, len(ins))}
}

func (a *aligner) align(ctx context.Context) ([]Packet, int64, error) {
	for {
		for i, q := range a.ins {
			if a.pending[i] == nil {
				p, err := q.Get(ctx)
				if err != nil {
					if err == ErrNoMoreData {
						return nil, 0, errAligned
					}
					return nil, 0, err
				}
				a.pending[i] = &p
			}
		}

		frontier := a.pending[0].ChunkID
		for _, p := range a.pending[1:] {
			if p.ChunkID > frontier {
				frontier = p.ChunkID
			}
		}

		dropped := false
		for i, p := range a.pending {
			if p.ChunkID < frontier {
				a.pending[i] = nil
				dropped = true
			}
		}
		if dropped {
			continue
		}

		out := make([]Packet, len(a.pending))
		for i, p := range a.pending {
			out[i] = *p
			a.pending[i] = nil
		}
		return out, frontier, nil
	}
}

// Combiner is the N-to-1 joint: align by chunk id, fold with fn into one
// packet. An aligned frontier where every input is Endpoint short-circuits
// fn and emits a single Endpoint instead.
type Combiner struct {
	name string
	id   uint64
	ins  []*Queue
	out  *Queue
	fn   CombineFunc
	al   *aligner

	done chan struct{}
	err  error
}

func NewCombiner(name string, ins []*Queue, out *Queue, fn CombineFunc, m *metrics.Metrics) *Combiner {
	for _, in := range ins {
		in.Observe(m)
	}
	out.Observe(m)
	return &Combiner{name: name, id: NextProducerID(), ins: ins, out: out, fn: fn, al: newAligner(ins), done: make(chan struct{})}
}

func (j *Combiner) Name() string { return j.name }

// Output returns the Combiner's output queue.
func (j *Combiner) Output() *Queue { return j.out }

func (j *Combiner) Start(ctx context.Context) error {
	go j.run(ctx)
	return nil
}

func (j *Combiner) run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			j.Kill()
			return
		default:
		}
		if j.out.State() == StateStranded {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		pkts, frontier, err := j.al.align(ctx)
		if err != nil {
			if err == errAligned {
				j.out.Stop()
				return
			}
			j.fail(err)
			return
		}
		allEndpoint := true
		for _, p := range pkts {
			if !p.IsEndpoint() {
				allEndpoint = false
				break
			}
		}
		var combined Packet
		if allEndpoint {
			combined = NewEndpoint(frontier, j.id)
		} else {
			c, err := j.fn(pkts)
			if err != nil {
				j.fail(err)
				return
			}
			combined = c.WithIDs(frontier, j.id)
		}
		if err := j.out.Put(ctx, combined); err != nil {
			j.fail(err)
			return
		}
	}
}

func (j *Combiner) fail(err error) {
	j.err = err
	slog.Error("joint failed", "joint", j.name, "error", err)
	j.Kill()
}

func (j *Combiner) Stop() {
	for _, in := range j.ins {
		in.Stop()
	}
}
func (j *Combiner) Kill() {
	for _, in := range j.ins {
		in.Kill()
	}
	j.out.Kill()
}
func (j *Combiner) Wait() error {
	<-j.done
	return j.err
}

// Merger is the N-to-1 joint that takes the key-wise union of aligned
// packets instead of a caller-supplied fold. keys[i] renames input i's
// MainKey payload on the way into the union; a name collision (from keys
// or from an input's own non-main keys) fails the merge with
// ErrKeyCollision.
type Merger struct {
	*Combiner
}

func NewMerger(name string, ins []*Queue, out *Queue, keys []string, m *metrics.Metrics) *Merger {
	fn := func(pkts []Packet) (Packet, error) {
		values, err := unionKeys(pkts, keys)
		if err != nil {
			return Packet{}, err
		}
		p := Packet{Kind: KindVector}
		for k, v := range values {
			p = p.With(k, v)
		}
		return p, nil
	}
	return &Merger{Combiner: NewCombiner(name, ins, out, fn, m)}
}

func unionKeys(pkts []Packet, keys []string) (map[string]any, error) {
	out := make(map[string]any)
	for i, p := range pkts {
		for _, k := range p.Keys() {
			outKey := k
			if k == MainKey {
				outKey = keys[i]
			}
			if _, exists := out[outKey]; exists {
				return nil, ErrKeyCollision
			}
			v, _ := p.Get(k)
			out[outKey] = v
		}
	}
	return out, nil
}
