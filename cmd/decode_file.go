// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
	"github.com/speechgraph/sgraph/internal/stream"
)

func newDecodeFileCommand() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "decode-file",
		Short: "Decode a single 16kHz/16-bit mono WAV file and print the transcript",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDecodeFile(cmd.Context(), inputPath)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "path to a 16kHz/16-bit mono WAV file")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}
	return cmd
}

func runDecodeFile(ctx context.Context, inputPath string) error {
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

	m := metrics.New()

	p, err := newDecodePipeline(ctx, cfg, m, inputPath)
	if err != nil {
		return err
	}
	defer p.Close()

	if bg.metrics != nil {
		bg.metrics.SetSnapshot(chainSnapshotFunc(p.chain))
		defer bg.metrics.SetSnapshot(nil)
	}

	items := []graph.DisplayItem{
		{Name: "ChunkID"},
		{Name: "MainText"},
	}
	return graph.DynamicRun(ctx, p.chain, items)
}

// decodePipeline bundles the assembled chain with the resources its
// construction opened (an optional forward subprocess, an optional
// global-stats cache, the wave file handle) so the caller can release them
// once decoding finishes.
type decodePipeline struct {
	chain      *graph.Chain
	resources  *pipelineResources
	waveReader *stream.Reader
}

func (p *decodePipeline) Close() {
	p.resources.Close()
	if p.waveReader != nil {
		_ = p.waveReader.Close()
	}
}

// newDecodePipeline wires the C2–C13 chain described by cfg: wave reader →
// frame cutter → feature extractor → per-frame unbatch → CMVN/delta/
// splice/LDA processor → batch → acoustic estimator → decoder subprocess.
func newDecodePipeline(ctx context.Context, cfg *config.Config, m *metrics.Metrics, inputPath string) (*decodePipeline, error) {
	qc := cfg.Runtime.QueueCapacity
	timeout := cfg.Runtime.Timeout
	timescale := cfg.Runtime.Timescale

	frameShift := int(cfg.Feature.FrameShiftMS * sampleRate / 1000)

	reader, err := stream.NewWaveReader(inputPath, stream.ReaderOptions{ChunkSize: frameShift * 4})
	if err != nil {
		return nil, fmt.Errorf("decode-file: opening %s: %w", inputPath, err)
	}

	chain := graph.NewChain()

	rawQueue := graph.NewQueue("raw-samples", qc, timeout)
	chain.Add(graph.NewStage("wave-reader", nil, rawQueue, reader, timescale, m))

	// buildProcessingChain appends the decoder as the chain's last node;
	// its Output() is reached through chain.Output(), so the returned
	// queue itself doesn't need to be threaded any further here.
	_, res, err := buildProcessingChain(ctx, chain, rawQueue, cfg, m)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("decode-file: %w", err)
	}

	return &decodePipeline{chain: chain, resources: res, waveReader: reader}, nil
}
