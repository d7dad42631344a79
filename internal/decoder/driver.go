// SPDX-License-Identifier: AGPL-3.0-or-later
package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
	"github.com/speechgraph/sgraph/internal/symtab"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/speechgraph/sgraph/internal/decoder")

// waitingEntry correlates a fed probability packet with the stdout line(s)
// the child eventually produces for it.
type waitingEntry struct {
	chunkID    int64
	producerID uint64
	fedAt      time.Time
}

// Options configures a Driver beyond what lives in config.DecoderConfig:
// the pieces that are Go values rather than CLI-flag scalars.
type Options struct {
	OutKey   string
	Reranker Reranker
	Symtab   *symtab.Table
}

// Driver launches and speaks to the external exkaldi-online-decoder child
// process. Construct with New, wire Start into a chain between a
// probability-producing stage and a text-consuming one.
type Driver struct {
	cfg  config.DecoderConfig
	opts Options
	m    *metrics.Metrics
	id   uint64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	stderr *bytes.Buffer

	waiting   []waitingEntry
	waitingMu sync.Mutex

	crashed chan struct{}
	once    sync.Once

	wg  sync.WaitGroup
	err error
	mu  sync.Mutex
}

// New constructs a Driver. The child process is not started until Start.
func New(cfg config.DecoderConfig, opts Options, m *metrics.Metrics) *Driver {
	if opts.OutKey == "" {
		opts.OutKey = graph.MainKey
	}
	if opts.Reranker == nil {
		opts.Reranker = NullReranker{}
	}
	return &Driver{
		cfg:     cfg,
		opts:    opts,
		m:       m,
		id:      graph.NextProducerID(),
		crashed: make(chan struct{}),
	}
}

// buildArgs renders config.DecoderConfig into the exkaldi-online-decoder
// CLI flags §6.2 enumerates.
func (d *Driver) buildArgs() []string {
	c := d.cfg
	return []string{
		"--beam", fmt.Sprintf("%g", c.Beam),
		"--max-active", strconv.Itoa(c.MaxActive),
		"--min-active", strconv.Itoa(c.MinActive),
		"--lattice-beam", fmt.Sprintf("%g", c.LatticeBeam),
		"--prune-interval", strconv.Itoa(c.PruneInterval),
		"--beam-delta", fmt.Sprintf("%g", c.BeamDelta),
		"--hash-ratio", fmt.Sprintf("%g", c.HashRatio),
		"--prune-scale", fmt.Sprintf("%g", c.PruneScale),
		"--acoustic-scale", fmt.Sprintf("%g", c.AcousticScale),
		"--lm-scale", fmt.Sprintf("%g", c.LMScale),
		"--chunk-frames", strconv.Itoa(c.ChunkFrames),
		"--allow-partial", strconv.FormatBool(c.AllowPartial),
		"--n-bests", strconv.Itoa(c.NBests),
		"--silence-phones", c.SilencePhones,
		"--frame-shift", strconv.FormatInt(c.FrameShift.Milliseconds(), 10),
		"--tmodel", c.TModel,
		"--fst", c.FST,
		"--word-boundary", c.WordBoundary,
	}
}

// Start launches the child process and the feeder/reader goroutines. in
// carries scaled-probability Matrix packets; out receives partial/final
// Text packets.
func (d *Driver) Start(ctx context.Context, in, out *graph.Queue) error {
	d.cmd = exec.CommandContext(ctx, d.cfg.BinaryPath, d.buildArgs()...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("decoder: stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder: stdout pipe: %w", err)
	}
	d.stderr = &bytes.Buffer{}
	d.cmd.Stderr = d.stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("decoder: starting %s: %w", d.cfg.BinaryPath, err)
	}
	d.stdin = stdin
	d.stdout = bufio.NewScanner(stdout)
	d.stdout.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	d.wg.Add(2)
	go d.feed(ctx, in, out)
	go d.read(ctx, out)
	return nil
}

// Wait blocks until both the feeder and reader goroutines have exited and
// returns the first error observed by either.
func (d *Driver) Wait() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Kill tears down the child process immediately.
func (d *Driver) Kill() {
	d.fail(graph.ErrKilled)
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
}

func (d *Driver) fail(err error) {
	d.once.Do(func() {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(d.crashed)
	})
}

// feed drains in, scaling and framing each probability matrix to the
// child's stdin per §6.2, and records a waiting entry so the reader can
// correlate the eventual stdout line back to this packet's ids.
func (d *Driver) feed(ctx context.Context, in, out *graph.Queue) {
	defer d.wg.Done()
	defer d.stdin.Close()

	for {
		select {
		case <-d.crashed:
			in.Kill()
			return
		default:
		}

		p, err := in.Get(ctx)
		if err != nil {
			if err == graph.ErrNoMoreData {
				d.writeFrame("-3", nil)
				fmt.Fprintln(d.stdin, "over")
				return
			}
			d.fail(err)
			out.Kill()
			return
		}

		_, span := tracer.Start(ctx, "decoder.feed", trace.WithAttributes(
			attribute.Int64("chunk_id", p.ChunkID)))

		d.waitingMu.Lock()
		d.waiting = append(d.waiting, waitingEntry{chunkID: p.ChunkID, producerID: p.ProducerID, fedAt: time.Now()})
		d.waitingMu.Unlock()

		if p.IsEndpoint() {
			err := d.writeFrame("-2", nil)
			span.End()
			if err != nil {
				d.fail(fmt.Errorf("%w: writing to decoder stdin: %v", graph.ErrChildCrash, err))
				out.Kill()
				return
			}
			continue
		}
		if p.IsNull() {
			span.End()
			continue
		}

		m := p.MainMatrix()
		scaled := make([]float32, len(m.Data))
		for i, v := range m.Data {
			scaled[i] = v * float32(d.cfg.AcousticScale)
		}
		err = d.writeFrame(fmt.Sprintf("-1 %d", m.Rows), scaled)
		span.End()
		if err != nil {
			d.fail(fmt.Errorf("%w: writing to decoder stdin: %v", graph.ErrChildCrash, err))
			out.Kill()
			return
		}
	}
}

func (d *Driver) writeFrame(tag string, values []float32) error {
	var b strings.Builder
	b.WriteString(" ")
	b.WriteString(tag)
	for _, v := range values {
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteString(" \n")
	_, err := io.WriteString(d.stdin, b.String())
	return err
}

// read line-parses the child's stdout and emits Text packets, correlating
// each line with the oldest unmatched waiting entry (stdout lines arrive
// in the same order stdin frames were fed).
func (d *Driver) read(ctx context.Context, out *graph.Queue) {
	defer d.wg.Done()

	for d.stdout.Scan() {
		line := strings.TrimSpace(d.stdout.Text())
		if err := d.handleLine(ctx, out, line); err != nil {
			d.fail(err)
			out.Kill()
			return
		}
		if line == "-3" {
			return
		}
	}
	if err := d.stdout.Err(); err != nil || d.cmd.ProcessState == nil {
		d.fail(fmt.Errorf("%w: decoder child closed stdout unexpectedly: %s", graph.ErrChildCrash, d.stderr.String()))
		out.Kill()
	}
}

func (d *Driver) handleLine(ctx context.Context, out *graph.Queue, line string) error {
	switch {
	case strings.HasPrefix(line, "-1 "):
		entry, ok := d.pop()
		if !ok {
			return fmt.Errorf("%w: decoder: -1 line with no waiting packet", graph.ErrProtocolMismatch)
		}
		ids := strings.Fields(strings.TrimPrefix(line, "-1 "))
		text := d.idsToWords(ids)
		p := graph.NewText(entry.chunkID, d.id, text)
		p = p.With(d.opts.OutKey, text)
		if d.m != nil {
			d.m.DecoderPartials.Inc()
			d.m.DecoderRoundTrip.Observe(time.Since(entry.fedAt).Seconds())
		}
		return out.Put(ctx, p)

	case strings.HasPrefix(line, "-2 "):
		entry, ok := d.pop()
		if !ok {
			return fmt.Errorf("%w: decoder: -2 line with no waiting packet", graph.ErrProtocolMismatch)
		}
		body := strings.TrimPrefix(line, "-2 ")
		groups := splitHypotheses(body)
		ranked, err := d.opts.Reranker.Rerank(groups)
		if err != nil {
			return fmt.Errorf("decoder: reranker: %w", err)
		}
		if len(ranked) == 0 {
			return out.Put(ctx, graph.NewEndpoint(entry.chunkID, d.id))
		}

		p := graph.NewText(entry.chunkID, d.id, d.idsToWords(ranked[0]))
		p = p.With(d.opts.OutKey, d.idsToWords(ranked[0]))
		for i := 1; i < len(ranked); i++ {
			key := fmt.Sprintf("%s-%d", d.opts.OutKey, i+1)
			p = p.With(key, d.idsToWords(ranked[i]))
		}
		if err := out.Put(ctx, p); err != nil {
			return err
		}
		if d.m != nil {
			d.m.DecoderFinals.Inc()
		}
		return out.Put(ctx, graph.NewEndpoint(entry.chunkID, d.id))

	case line == "-3":
		return nil

	default:
		return fmt.Errorf("%w: decoder: unrecognized line %q", graph.ErrProtocolMismatch, line)
	}
}

func (d *Driver) pop() (waitingEntry, bool) {
	d.waitingMu.Lock()
	defer d.waitingMu.Unlock()
	if len(d.waiting) == 0 {
		return waitingEntry{}, false
	}
	e := d.waiting[0]
	d.waiting = d.waiting[1:]
	return e, true
}

func (d *Driver) idsToWords(ids []string) string {
	if d.opts.Symtab == nil {
		return strings.Join(ids, " ")
	}
	return d.opts.Symtab.Words(ids)
}

// splitHypotheses splits an endpoint block's "-2 <nBestsSeparatedBy-1>"
// body into its constituent n-best id lists, each delimited by a bare "-1"
// token.
func splitHypotheses(body string) [][]string {
	fields := strings.Fields(body)
	var groups [][]string
	var cur []string
	for _, f := range fields {
		if f == "-1" {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, f)
	}
	groups = append(groups, cur)
	return groups
}
