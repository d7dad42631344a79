// SPDX-License-Identifier: AGPL-3.0-or-later
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speechgraph/sgraph/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readHeaderTimeout = 3 * time.Second

// StageSnapshot is one node's live state, the programmatic sibling of a
// line DynamicRun (internal/graph's C13 debug driver) would print.
type StageSnapshot struct {
	Name       string `json:"name"`
	QueueState string `json:"queue_state"`
	QueueSize  int    `json:"queue_size"`
}

// snapshotFunc is populated by whichever command builds a chain (cmd/run.go,
// cmd/decode_file.go); it stays nil — and /ws replies with an empty frame —
// outside an active session.
type snapshotFunc = func() []StageSnapshot

// Server serves /metrics for scraping plus /ws, a live push of stage/queue
// state for the admin dashboard, instead of requiring it to poll /metrics.
type Server struct {
	http     *http.Server
	snapshot atomic.Pointer[snapshotFunc]
	upgrader websocket.Upgrader
}

const wsPushInterval = 500 * time.Millisecond

// NewServer builds (but does not start) the metrics HTTP server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("metrics"))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws", s.serveWS)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Metrics.Bind, cfg.Metrics.Port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// SetSnapshot installs the function /ws calls on every push tick. Pass nil
// once a session ends so stale state isn't broadcast to new connections.
func (s *Server) SetSnapshot(f func() []StageSnapshot) {
	if f == nil {
		s.snapshot.Store(nil)
		return
	}
	s.snapshot.Store(&f)
}

// serveWS upgrades the connection and pushes a JSON snapshot array every
// wsPushInterval until the client disconnects, mirroring the teacher's
// gorilla/websocket admin push handlers (read loop discarding client
// frames, write loop driven by a server-side ticker).
func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for range ticker.C {
		fp := s.snapshot.Load()
		var snap []StageSnapshot
		if fp != nil {
			snap = (*fp)()
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

// Start blocks serving until Stop is called. Callers typically run it in a
// goroutine, matching the teacher's `go metrics.CreateMetricsServer(cfg)`.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
