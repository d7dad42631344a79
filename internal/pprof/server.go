// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pprof wires gin-contrib/pprof behind the admin bind address, the
// way the teacher isolates pprof on a separate port from the public API.
package pprof

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/speechgraph/sgraph/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readHeaderTimeout = 3 * time.Second

type Server struct {
	http *http.Server
}

func NewServer(cfg *config.Config) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("pprof"))
	}
	if err := r.SetTrustedProxies(cfg.PProf.TrustedProxies); err != nil {
		slog.Error("failed setting trusted proxies", "error", err)
	}
	pprof.Register(r)
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.PProf.Bind, cfg.PProf.Port),
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("pprof server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("pprof server shutdown: %w", err)
	}
	return nil
}
