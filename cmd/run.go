// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
	"github.com/speechgraph/sgraph/internal/transport"
)

func newRunCommand() *cobra.Command {
	var audioAddr, textAddr string
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the graph over a paired audio-in/text-out TCP connection, one session at a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), audioAddr, textAddr, dashboard)
		},
	}
	cmd.Flags().StringVar(&audioAddr, "listen-audio", "0.0.0.0:9500", "address the C12 transport shim accepts inbound packet frames on")
	cmd.Flags().StringVar(&textAddr, "listen-text", "0.0.0.0:9501", "address the C12 transport shim ships decoded-text frames out on")
	cmd.Flags().BoolVar(&dashboard, "dashboard", false, "open the admin metrics dashboard in the default browser once it starts")
	return cmd
}

// runServe accepts one audio connection and one text connection per
// session, runs the full C2–C13 chain against that pair to completion, then
// loops to accept the next session. §5 treats a host pair's two directions
// as independent half-duplex connections, so each is its own net.Listener.
func runServe(ctx context.Context, audioAddr, textAddr string, dashboard bool) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	bg, err := startBackground(ctx, cfg)
	if err != nil {
		return err
	}
	defer bg.shutdown(ctx)

	if dashboard && cfg.Metrics.Enabled {
		url := fmt.Sprintf("http://%s:%d/metrics", cfg.Metrics.Bind, cfg.Metrics.Port)
		if err := browser.OpenURL(url); err != nil {
			slog.Warn("failed to open metrics dashboard in browser", "error", err)
		}
	}

	audioLn, err := net.Listen("tcp", audioAddr)
	if err != nil {
		return fmt.Errorf("run: listening for audio connections on %s: %w", audioAddr, err)
	}
	defer audioLn.Close()

	textLn, err := net.Listen("tcp", textAddr)
	if err != nil {
		return fmt.Errorf("run: listening for text connections on %s: %w", textAddr, err)
	}
	defer textLn.Close()

	slog.Info("listening for sessions", "audio", audioAddr, "text", textAddr)

	serveCtx, stopServing := context.WithCancel(ctx)
	go waitForSignal(serveCtx, func(context.Context) {
		stopServing()
		_ = audioLn.Close()
		_ = textLn.Close()
	})

	m := metrics.New()
	for {
		if err := serveOneSession(serveCtx, cfg, m, bg.metrics, audioLn, textLn); err != nil {
			if serveCtx.Err() != nil {
				return nil
			}
			slog.Error("session ended with error", "error", err)
		}
	}
}

// serveOneSession blocks for one pair of inbound connections, builds the
// chain around them, runs it to completion, and closes both sockets.
func serveOneSession(ctx context.Context, cfg *config.Config, m *metrics.Metrics, srv *metrics.Server, audioLn, textLn net.Listener) error {
	audioConn, err := audioLn.Accept()
	if err != nil {
		return fmt.Errorf("run: accepting audio connection: %w", err)
	}
	defer audioConn.Close()

	if err := transport.Handshake(audioConn, cfg.Transport.PreSharedKey); err != nil {
		return fmt.Errorf("run: audio handshake: %w", err)
	}

	textConn, err := textLn.Accept()
	if err != nil {
		return fmt.Errorf("run: accepting text connection: %w", err)
	}
	defer textConn.Close()

	if err := transport.Handshake(textConn, cfg.Transport.PreSharedKey); err != nil {
		return fmt.Errorf("run: text handshake: %w", err)
	}

	slog.Info("session started", "audio_peer", audioConn.RemoteAddr(), "text_peer", textConn.RemoteAddr())

	qc := cfg.Runtime.QueueCapacity
	timeout := cfg.Runtime.Timeout
	timescale := cfg.Runtime.Timescale

	chain := graph.NewChain()

	audioTransport := transport.NewConn(audioConn, cfg.Transport, m)
	receiver := transport.NewReceiver(audioTransport, graph.NextProducerID())
	rawQueue := graph.NewQueue("raw-frames", qc, timeout)
	chain.Add(graph.NewStage("transport-receiver", nil, rawQueue, receiver, timescale, m))

	textQueue, res, err := buildProcessingChain(ctx, chain, rawQueue, cfg, m)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer res.Close()

	textTransport := transport.NewConn(textConn, cfg.Transport, m)
	sender := transport.NewSender(textTransport)
	senderSink := graph.NewQueue("sender-sink", qc, timeout)
	chain.Add(graph.NewStage("transport-sender", textQueue, senderSink, sender, timescale, m))

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go sender.Heartbeat(heartbeatCtx, cfg.Transport.HeartbeatInterval, monotonicSeconds)

	if srv != nil {
		srv.SetSnapshot(chainSnapshotFunc(chain))
		defer srv.SetSnapshot(nil)
	}

	if err := chain.Start(ctx); err != nil {
		return fmt.Errorf("run: starting chain: %w", err)
	}
	err = chain.Wait()
	slog.Info("session finished", "error", err)
	return err
}

// chainSnapshotFunc captures chain's nodes once and returns a closure
// metrics.Server's /ws handler polls on a timer, instead of threading
// *graph.Chain into the metrics package (which *graph.Stage already
// imports, for its own span/counter instrumentation).
func chainSnapshotFunc(chain *graph.Chain) func() []metrics.StageSnapshot {
	return func() []metrics.StageSnapshot {
		nodes := chain.Nodes()
		snap := make([]metrics.StageSnapshot, 0, len(nodes))
		for _, n := range nodes {
			s := metrics.StageSnapshot{Name: n.Name()}
			if o, ok := n.(interface{ Output() *graph.Queue }); ok {
				if q := o.Output(); q != nil {
					s.QueueState = q.State().String()
					s.QueueSize = q.Size()
				}
			}
			snap = append(snap, s)
		}
		return snap
	}
}

// processStart anchors the heartbeat clock; each session's timestamps are
// seconds elapsed since the process started rather than wall-clock epoch
// seconds, since only the two peers' relative clock ever matters here.
var processStart = time.Now()

func monotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}
