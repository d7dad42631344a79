// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/speechgraph/sgraph/internal/cmvn"
	"github.com/speechgraph/sgraph/internal/config"
	"github.com/speechgraph/sgraph/internal/decoder"
	"github.com/speechgraph/sgraph/internal/dsp"
	"github.com/speechgraph/sgraph/internal/estimator"
	"github.com/speechgraph/sgraph/internal/feature"
	"github.com/speechgraph/sgraph/internal/globalstats"
	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/metrics"
	"github.com/speechgraph/sgraph/internal/model"
	"github.com/speechgraph/sgraph/internal/processor"
	"github.com/speechgraph/sgraph/internal/stream"
	"github.com/speechgraph/sgraph/internal/symtab"
)

// sampleRate is the one format §4.9 accepts: 16kHz/16-bit/mono.
const sampleRate = 16000

// pipelineResources bundles everything a raw-samples-to-decoded-text chain
// opened besides the queues and stages already hanging off chain, so the
// caller can release them once the chain finishes.
type pipelineResources struct {
	forward    *estimator.SubprocessForward
	statsCache *globalstats.Cache
}

func (r *pipelineResources) Close() {
	if r.forward != nil {
		_ = r.forward.Close()
	}
	if r.statsCache != nil {
		_ = r.statsCache.Close()
	}
}

// buildProcessingChain appends the C4–C13 stages (frame cutting through
// the decoder subprocess) onto chain, reading raw Element packets from
// rawIn and returning the decoder's text output queue. It is shared by
// decode-file (rawIn fed by a wave file) and run (rawIn fed by a
// transport.Receiver).
func buildProcessingChain(ctx context.Context, chain *graph.Chain, rawIn *graph.Queue, cfg *config.Config, m *metrics.Metrics) (*graph.Queue, *pipelineResources, error) {
	qc := cfg.Runtime.QueueCapacity
	timeout := cfg.Runtime.Timeout
	timescale := cfg.Runtime.Timescale
	res := &pipelineResources{}

	frameLen := int(cfg.Feature.FrameLengthMS * sampleRate / 1000)
	frameShift := int(cfg.Feature.FrameShiftMS * sampleRate / 1000)

	frameQueue := graph.NewQueue("frames", qc, timeout)
	chain.Add(graph.NewStage("frame-cutter", rawIn, frameQueue,
		stream.NewFrameCutter(frameLen, frameShift, 1), timescale, m))

	featOpts := feature.Options{
		SampleRate:      sampleRate,
		WindowType:      dsp.WindowType(cfg.Feature.WindowType),
		PreemphCoeff:    cfg.Feature.PreemphCoeff,
		DitherFactor:    cfg.Feature.DitherFactor,
		RemoveDCOffset:  cfg.Feature.RemoveDCOffset,
		UsePower:        cfg.Feature.UsePower,
		UseLog:          cfg.Feature.UseLog,
		UseEnergy:       cfg.Feature.UseEnergy,
		EnergyFloor:     cfg.Feature.EnergyFloor,
		NumBins:         cfg.Feature.NumBins,
		NumCeps:         cfg.Feature.NumCeps,
		LowFreq:         cfg.Feature.LowFreq,
		HighFreq:        cfg.Feature.HighFreq,
		LifterCoeff:     cfg.Feature.LifterCoeff,
		BatchSize:       cfg.Feature.BatchSize,
		MinParallelSize: cfg.Feature.MinParallelSize,
	}

	featQueue := graph.NewQueue("features", qc, timeout)
	featDim, err := addFeatureStage(chain, cfg.Feature.Type, frameQueue, featQueue, featOpts, frameLen, timescale, m)
	if err != nil {
		return nil, nil, err
	}

	// A Mixture batch carries three named representations instead of one
	// under MainKey; the rest of the pipeline only understands a single
	// main payload, so pick the MFCC view — the representation the rest
	// of §6.7's defaults (delta/splice/LDA) assume.
	unbatchIn := featQueue
	if cfg.Feature.Type == "mixture" {
		selected := graph.NewQueue("mixture-mfcc", qc, timeout)
		chain.Add(graph.NewMapper("mixture-select-mfcc", featQueue, selected, selectMFCC, timescale, m))
		unbatchIn = selected
	}

	frameVecQueue := graph.NewQueue("unbatched-frames", qc, timeout)
	chain.Add(graph.NewStage("unbatch-frames", unbatchIn, frameVecQueue, stream.NewMatrixUnbatcher(), timescale, m))

	var cmvns []processor.Normalizer
	if cfg.CMVN.Mode != "" && cfg.CMVN.Mode != "none" {
		n, cache, err := buildCMVN(cfg, featDim)
		if err != nil {
			return nil, nil, err
		}
		cmvns = append(cmvns, n)
		res.statsCache = cache
	}

	var lda *graph.Matrix
	if cfg.Processor.LDAPath != "" {
		mat, err := model.LoadLDA(cfg.Processor.LDAPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading LDA matrix: %w", err)
		}
		lda = &mat
	}

	procOut := graph.NewQueue("processed-frames", qc, timeout)
	proc := processor.New(processor.Options{
		Left:   cfg.Processor.LeftContext,
		Center: 1,
		Right:  cfg.Processor.RightContext,
		Dim:    featDim,
		CMVNs:  cmvns,
		ProcessFunc: processor.DefaultProcessFunc(
			cfg.Processor.DeltaOrder, cfg.Processor.DeltaWindow,
			cfg.Processor.SpliceLeft, cfg.Processor.SpliceRight, lda),
	})
	chain.Add(graph.NewStage("processor", frameVecQueue, procOut, proc, timescale, m))

	batchSize := cfg.Decoder.ChunkFrames
	if batchSize <= 0 {
		batchSize = 10
	}
	batchedQueue := graph.NewQueue("estimator-batches", qc, timeout)
	chain.Add(graph.NewStage("batch-for-estimator", procOut, batchedQueue, stream.NewVectorBatcher(batchSize), timescale, m))

	var priors []float32
	if cfg.Estimator.PriorsPath != "" {
		priors, err = estimator.LoadPriors(cfg.Estimator.PriorsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading priors: %w", err)
		}
	}

	fwd := estimator.Forward(estimator.IdentityForward)
	if cfg.Estimator.ForwardBinary != "" {
		forward, err := estimator.NewSubprocessForward(ctx, cfg.Estimator.ForwardBinary, cfg.Estimator.ForwardArgs...)
		if err != nil {
			return nil, nil, err
		}
		res.forward = forward
		fwd = forward.Forward
	}

	est := estimator.New(estimator.Options{
		LeftContext:  cfg.Estimator.LeftContext,
		RightContext: cfg.Estimator.RightContext,
		Softmax:      cfg.Estimator.Softmax,
		Log:          cfg.Estimator.Log,
		Priors:       priors,
		OutKey:       cfg.Estimator.OutputKey,
	}, fwd)

	probQueue := graph.NewQueue("posteriors", qc, timeout)
	chain.Add(graph.NewStage("estimator", batchedQueue, probQueue, est, timescale, m))

	var tbl *symtab.Table
	if cfg.Decoder.SymbolTable != "" {
		tbl, err = symtab.Load(cfg.Decoder.SymbolTable)
		if err != nil {
			return nil, nil, fmt.Errorf("loading symbol table: %w", err)
		}
	}

	drv := decoder.New(cfg.Decoder, decoder.Options{Symtab: tbl}, m)
	textQueue := graph.NewQueue("text", qc, timeout)
	chain.Add(drv.AsNode(probQueue, textQueue))

	return textQueue, res, nil
}

func selectMFCC(p graph.Packet) graph.Packet {
	v, _ := p.Get(feature.KeyMFCC)
	return graph.NewMatrixPacket(p.ChunkID, p.ProducerID, v.(graph.Matrix))
}

func addFeatureStage(chain *graph.Chain, featType string, in, out *graph.Queue, opts feature.Options, frameLen int, timescale time.Duration, m *metrics.Metrics) (int, error) {
	switch featType {
	case "spectrogram":
		st, err := feature.NewSpectrogramStage("feature", in, out, opts, frameLen, timescale, m)
		if err != nil {
			return 0, err
		}
		chain.Add(st)
		return dsp.NextPowerOfTwo(frameLen)/2 + 1, nil
	case "fbank":
		st, err := feature.NewFBankStage("feature", in, out, opts, frameLen, timescale, m)
		if err != nil {
			return 0, err
		}
		chain.Add(st)
		dim := opts.NumBins
		if opts.UseEnergy {
			dim++
		}
		return dim, nil
	case "mixture":
		st, err := feature.NewMixtureStage("feature", in, out, opts, frameLen, timescale, m)
		if err != nil {
			return 0, err
		}
		chain.Add(st)
		return opts.NumCeps, nil
	default: // "mfcc" and unset
		st, err := feature.NewMFCCStage("feature", in, out, opts, frameLen, timescale, m)
		if err != nil {
			return 0, err
		}
		chain.Add(st)
		return opts.NumCeps, nil
	}
}

// buildCMVN constructs the configured normalizer, optionally seeding a
// sliding window from a §6.5 global-stats archive. The returned cache (if
// non-nil) must be closed by the caller once the normalizer is done
// reading it.
func buildCMVN(cfg *config.Config, dim int) (processor.Normalizer, *globalstats.Cache, error) {
	switch cfg.CMVN.Mode {
	case "constant":
		stats, cache, err := loadGlobalStats(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cmvn.NewConstantCMVN(stats, cfg.CMVN.UseVariance, cfg.CMVN.Offset), cache, nil
	default: // "sliding"
		sc := cmvn.NewSlidingCMVN(dim, cfg.CMVN.Width, cfg.CMVN.Offset, cfg.CMVN.UseVariance)
		if cfg.CMVN.GlobalStatsPath == "" {
			return sc, nil, nil
		}
		stats, cache, err := loadGlobalStats(cfg)
		if err != nil {
			return nil, nil, err
		}
		sc.SetGlobalStats(stats)
		return sc, cache, nil
	}
}

func loadGlobalStats(cfg *config.Config) (cmvn.Stats, *globalstats.Cache, error) {
	cache, err := globalstats.Open(cfg.GlobalStats.CachePath, cfg.GlobalStats.CompressAboveBytes, cfg.Metrics.OTLPEndpoint != "")
	if err != nil {
		return cmvn.Stats{}, nil, fmt.Errorf("opening global stats cache: %w", err)
	}
	if err := cache.LoadArchive(cfg.CMVN.GlobalStatsPath); err != nil {
		_ = cache.Close()
		return cmvn.Stats{}, nil, fmt.Errorf("loading global stats archive: %w", err)
	}
	stats, err := cache.Sum()
	if err != nil {
		_ = cache.Close()
		return cmvn.Stats{}, nil, fmt.Errorf("summing global stats: %w", err)
	}
	return stats, cache, nil
}
