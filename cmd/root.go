// SPDX-License-Identifier: AGPL-3.0-or-later
// sgraph - a concurrent streaming speech-recognition graph runtime
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cmd wires the cobra root command: config loading, structured
// logging, tracing, the metrics/pprof admin servers, the distributed-state
// KV store, and the "run"/"decode-file"/"dump-stats" subcommands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/kv"
	"github.com/speechgraph/sgraph/internal/metrics"
	"github.com/speechgraph/sgraph/internal/pprof"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewCommand builds the root cobra command.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sgraph",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newDecodeFileCommand())
	cmd.AddCommand(newDumpStatsCommand())
	return cmd
}

// loadConfig loads the configuration from context, the way every
// subcommand's RunE does before touching the graph runtime.
func loadConfig(ctx context.Context) (*config.Config, error) {
	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from context: %w", err)
	}
	cfg, err := c.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level})))
}

func setupScheduler() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return scheduler, nil
}

// setupTracing initializes OpenTelemetry tracing around every stage
// iteration (internal/graph.Stage.iterate) when an OTLP endpoint is
// configured; otherwise it returns a no-op cleanup.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "sgraph"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resources: %w", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}

// background bundles the admin servers, KV store, and maintenance
// scheduler every subcommand that runs a graph needs alongside it.
type background struct {
	metrics   *metrics.Server
	pprof     *pprof.Server
	kv        kv.KV
	scheduler gocron.Scheduler
	cleanup   func(context.Context) error
}

func startBackground(ctx context.Context, cfg *config.Config) (*background, error) {
	bg := &background{}

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	bg.cleanup = cleanup

	if cfg.Metrics.Enabled {
		bg.metrics = metrics.NewServer(cfg)
		go func() {
			if err := bg.metrics.Start(); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}
	if cfg.PProf.Enabled {
		bg.pprof = pprof.NewServer(cfg)
		go func() {
			if err := bg.pprof.Start(); err != nil {
				slog.Error("pprof server stopped", "error", err)
			}
		}()
	}

	store, err := kv.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to key-value store: %w", err)
	}
	bg.kv = store

	scheduler, err := setupScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to setup scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.GlobalStats.FlushInterval),
		gocron.NewTask(func() {
			slog.Debug("global stats cache maintenance tick", "interval", cfg.GlobalStats.FlushInterval)
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule global stats maintenance job: %w", err)
	}
	scheduler.Start()
	bg.scheduler = scheduler

	return bg, nil
}

func (bg *background) shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	if bg.metrics != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = bg.metrics.Stop(ctx) }()
	}
	if bg.pprof != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = bg.pprof.Stop(ctx) }()
	}
	if bg.kv != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = bg.kv.Close() }()
	}
	if bg.scheduler != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = bg.scheduler.Shutdown() }()
	}
	if bg.cleanup != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bg.cleanup(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}
	wg.Wait()
}

// waitForSignal blocks until SIGINT/SIGTERM/SIGQUIT and then runs stop,
// bounding it with a timeout so a stuck subprocess (the decoder) can never
// wedge the process open.
func waitForSignal(ctx context.Context, stop func(context.Context)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	slog.Warn("shutting down due to signal", "signal", sig)

	const timeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); stop(shutdownCtx) }()
	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-shutdownCtx.Done():
		slog.Error("shutdown timed out, forcing exit")
	}
}
