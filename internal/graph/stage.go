// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/speechgraph/sgraph/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/speechgraph/sgraph/internal/graph")

// action is the result of a Stage's decide step.
type action int

const (
	actionProceed action = iota
	actionFinal
	actionStopped
	actionRetryLater
)

// Worker is the per-component logic a Stage drives. Process receives the
// packet read from In (the zero Packet for source stages with no In) and
// must Put zero or more packets to out before returning. A non-nil error
// kills both queues and stops the stage.
type Worker interface {
	Process(ctx context.Context, in Packet, out *Queue) error
}

// Resettable is implemented by workers that hold internal state (a ring
// buffer, a context window) that must be cleared on Stage.Reset.
type Resettable interface {
	Reset()
}

// Finalizer is implemented by workers that need to flush trailing output
// when the input queue terminates (e.g. the feature processor emitting its
// final short window without right-context padding).
type Finalizer interface {
	Finalize(ctx context.Context, out *Queue) error
}

// Stage is a single node of a Chain: it pulls from at most one input Queue,
// drives a Worker, and pushes to exactly one output Queue.
type Stage struct {
	name string
	id   uint64

	In  *Queue
	Out *Queue

	worker    Worker
	timescale time.Duration
	metrics   *metrics.Metrics

	done chan struct{}
	err  error
}

// NewStage constructs a Stage. in may be nil for a source stage (wave
// reader, synthetic generator); out must not be nil.
func NewStage(name string, in, out *Queue, w Worker, timescale time.Duration, m *metrics.Metrics) *Stage {
	out.Observe(m)
	if in != nil {
		in.Observe(m)
	}
	return &Stage{
		name:      name,
		id:        NextProducerID(),
		In:        in,
		Out:       out,
		worker:    w,
		timescale: timescale,
		metrics:   m,
		done:      make(chan struct{}),
	}
}

// Name returns the stage's diagnostic name.
func (s *Stage) Name() string { return s.name }

// Output returns the stage's output queue, letting DynamicRun (or any other
// caller) observe it without reaching into the unexported field.
func (s *Stage) Output() *Queue { return s.Out }

// ID returns the stage's process-unique producer id.
func (s *Stage) ID() uint64 { return s.id }

// Start launches the stage's decide/act loop in its own goroutine.
func (s *Stage) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

// Stop requests a graceful finish by terminating In: the loop drains the
// packets In still holds, runs the worker's Finalize (if any) and then
// terminates Out. Stop does not interrupt in-flight work. Once In is
// terminated, an upstream Put into it fails with ErrClosedForWrite. A
// source stage (nil In) is not affected by Stop.
func (s *Stage) Stop() {
	if s.In != nil {
		s.In.Stop()
	}
}

// Kill forcibly tears the stage down, discarding buffered packets on both
// queues.
func (s *Stage) Kill() {
	if s.In != nil {
		s.In.Kill()
	}
	s.Out.Kill()
}

// Wait blocks until the stage's loop has exited and returns any error that
// caused it to stop early (nil on a clean Final/Stopped exit).
func (s *Stage) Wait() error {
	<-s.done
	return s.err
}

// Reset clears the worker's internal state (when the worker implements
// Resettable). Out is kept as it is: a silent queue holds no packets.
// Only valid while Out is silent (nothing has flowed through yet).
func (s *Stage) Reset() error {
	if s.Out.State() != StateSilent {
		return fmt.Errorf("graph: stage %s: Reset requires a silent output queue, got %s", s.name, s.Out.State())
	}
	if r, ok := s.worker.(Resettable); ok {
		r.Reset()
	}
	return nil
}

func (s *Stage) decide(ctx context.Context) action {
	if s.In == nil {
		switch s.Out.State() {
		case StateWrong, StateTerminated:
			return actionStopped
		default:
			return actionProceed
		}
	}
	switch s.In.State() {
	case StateWrong:
		return actionStopped
	case StateTerminated:
		if s.In.IsEmpty() {
			return actionFinal
		}
		return actionProceed
	}
	if s.Out.State() == StateStranded {
		return actionRetryLater
	}
	return actionProceed
}

func (s *Stage) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.Kill()
			return
		default:
		}

		act := s.decide(ctx)
		switch act {
		case actionRetryLater:
			select {
			case <-time.After(s.timescale):
			case <-ctx.Done():
				s.Kill()
				return
			}
			continue
		case actionStopped:
			return
		case actionFinal:
			if f, ok := s.worker.(Finalizer); ok {
				if err := f.Finalize(ctx, s.Out); err != nil {
					s.fail(err)
					return
				}
			}
			s.Out.Stop()
			return
		case actionProceed:
			if err := s.iterate(ctx); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Stage) iterate(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "stage.iterate", trace.WithAttributes(attribute.String("stage.name", s.name)))
	defer span.End()

	var p Packet
	if s.In != nil {
		var err error
		p, err = s.In.Get(ctx)
		if err != nil {
			if err == ErrNoMoreData {
				return nil
			}
			return err
		}
	}

	err := s.worker.Process(ctx, p, s.Out)

	if s.metrics != nil {
		s.metrics.StageIterations.WithLabelValues(s.name).Inc()
		s.metrics.StageDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.StageErrors.WithLabelValues(s.name).Inc()
		}
	}
	return err
}

func (s *Stage) fail(err error) {
	s.err = err
	slog.Error("stage failed, killing queues", "stage", s.name, "error", err)
	s.Kill()
}
