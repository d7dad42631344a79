// SPDX-License-Identifier: AGPL-3.0-or-later
// sgraph - a concurrent streaming speech-recognition graph runtime
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the application configuration from YAML plus
// environment overrides via configulator, mirroring the nested-struct style
// the rest of the codebase expects (cfg.Metrics.OTLPEndpoint, cfg.KV.Enabled,
// ...) rather than a flat list of env lookups.
package config

import "time"

// LogLevel selects the slog level used by the tint handler in cmd/.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config is the root configuration record. It replaces the reference
// implementation's global singletons (INFO, ENDPOINT, OBJ_COUNTER) with a
// single value threaded through graph construction (see internal/graph).
type Config struct {
	LogLevel LogLevel `yaml:"logLevel" env:"LOG_LEVEL"`

	// Runtime holds the §6.7 knobs shared by every queue and stage.
	Runtime RuntimeConfig `yaml:"runtime"`

	KV          KVConfig          `yaml:"kv"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	PProf       PProfConfig       `yaml:"pprof"`
	Decoder     DecoderConfig     `yaml:"decoder"`
	Transport   TransportConfig   `yaml:"transport"`
	GlobalStats GlobalStatsConfig `yaml:"globalStats"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Feature     FeatureConfig     `yaml:"feature"`
	CMVN        CMVNConfig        `yaml:"cmvn"`
	Processor   ProcessorConfig   `yaml:"processor"`
	VAD         VADConfig         `yaml:"vad"`
}

// FeatureConfig configures the §4.6 extractor (Spectrogram/fBank/MFCC/
// Mixture) and the §4.4 frame-cutting ahead of it.
type FeatureConfig struct {
	Type            string  `yaml:"type" env:"FEATURE_TYPE"` // spectrogram|fbank|mfcc|mixture
	FrameLengthMS   float64 `yaml:"frameLengthMs" env:"FEATURE_FRAME_LENGTH_MS"`
	FrameShiftMS    float64 `yaml:"frameShiftMs" env:"FEATURE_FRAME_SHIFT_MS"`
	WindowType      string  `yaml:"windowType" env:"FEATURE_WINDOW_TYPE"`
	PreemphCoeff    float32 `yaml:"preemphCoeff" env:"FEATURE_PREEMPH_COEFF"`
	DitherFactor    float32 `yaml:"ditherFactor" env:"FEATURE_DITHER_FACTOR"`
	RemoveDCOffset  bool    `yaml:"removeDcOffset" env:"FEATURE_REMOVE_DC_OFFSET"`
	UsePower        bool    `yaml:"usePower" env:"FEATURE_USE_POWER"`
	UseLog          bool    `yaml:"useLog" env:"FEATURE_USE_LOG"`
	UseEnergy       bool    `yaml:"useEnergy" env:"FEATURE_USE_ENERGY"`
	EnergyFloor     float64 `yaml:"energyFloor" env:"FEATURE_ENERGY_FLOOR"`
	NumBins         int     `yaml:"numBins" env:"FEATURE_NUM_BINS"`
	NumCeps         int     `yaml:"numCeps" env:"FEATURE_NUM_CEPS"`
	LowFreq         float64 `yaml:"lowFreq" env:"FEATURE_LOW_FREQ"`
	HighFreq        float64 `yaml:"highFreq" env:"FEATURE_HIGH_FREQ"`
	LifterCoeff     float64 `yaml:"lifterCoeff" env:"FEATURE_LIFTER_COEFF"`
	BatchSize       int     `yaml:"batchSize" env:"FEATURE_BATCH_SIZE"`
	MinParallelSize int     `yaml:"minParallelSize" env:"FEATURE_MIN_PARALLEL_SIZE"`
}

// CMVNConfig selects the §4.7 normalizer.
type CMVNConfig struct {
	Mode            string `yaml:"mode" env:"CMVN_MODE"` // sliding|constant|none
	Width           int    `yaml:"width" env:"CMVN_WIDTH"`
	Offset          int    `yaml:"offset" env:"CMVN_OFFSET"`
	UseVariance     bool   `yaml:"useVariance" env:"CMVN_USE_VARIANCE"`
	GlobalStatsPath string `yaml:"globalStatsPath" env:"CMVN_GLOBAL_STATS_PATH"`
}

// ProcessorConfig configures the §4.8 context window and delta/splice/LDA
// pipeline.
type ProcessorConfig struct {
	LeftContext  int    `yaml:"leftContext" env:"PROCESSOR_LEFT_CONTEXT"`
	RightContext int    `yaml:"rightContext" env:"PROCESSOR_RIGHT_CONTEXT"`
	DeltaOrder   int    `yaml:"deltaOrder" env:"PROCESSOR_DELTA_ORDER"`
	DeltaWindow  int    `yaml:"deltaWindow" env:"PROCESSOR_DELTA_WINDOW"`
	SpliceLeft   int    `yaml:"spliceLeft" env:"PROCESSOR_SPLICE_LEFT"`
	SpliceRight  int    `yaml:"spliceRight" env:"PROCESSOR_SPLICE_RIGHT"`
	LDAPath      string `yaml:"ldaPath" env:"PROCESSOR_LDA_PATH"`
}

// VADConfig configures the §4.9 energy-gated voice activity detector
// wrapping the wave reader.
type VADConfig struct {
	Enabled         bool    `yaml:"enabled" env:"VAD_ENABLED"`
	Patience        int     `yaml:"patience" env:"VAD_PATIENCE"`
	Truncate        bool    `yaml:"truncate" env:"VAD_TRUNCATE"`
	EnergyThreshold float64 `yaml:"energyThreshold" env:"VAD_ENERGY_THRESHOLD"`
}

// EstimatorConfig configures the §4.10 acoustic estimator's context
// window and probability post-processing.
type EstimatorConfig struct {
	LeftContext  int    `yaml:"leftContext" env:"ESTIMATOR_LEFT_CONTEXT"`
	RightContext int    `yaml:"rightContext" env:"ESTIMATOR_RIGHT_CONTEXT"`
	Softmax      bool   `yaml:"softmax" env:"ESTIMATOR_SOFTMAX"`
	Log          bool   `yaml:"log" env:"ESTIMATOR_LOG"`
	PriorsPath   string `yaml:"priorsPath" env:"ESTIMATOR_PRIORS_PATH"`
	OutputKey    string `yaml:"outputKey" env:"ESTIMATOR_OUTPUT_KEY"`
	// ForwardBinary, if set, is an external process speaking the same
	// kaldiio dense-matrix framing as the global stats archive: one
	// feature matrix written to its stdin per call, one probability
	// matrix read back from its stdout. Empty means the identity
	// function (probabilities equal features), the degenerate NN §8
	// scenario 1 exercises.
	ForwardBinary string   `yaml:"forwardBinary" env:"ESTIMATOR_FORWARD_BINARY"`
	ForwardArgs   []string `yaml:"forwardArgs" env:"ESTIMATOR_FORWARD_ARGS"`
}

// RuntimeConfig carries §6.7's enumerated knobs.
type RuntimeConfig struct {
	// Timeout is how long a blocked queue Get() waits before failing with
	// ErrTimeout. Default 1800s.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Timescale is the cooperative-yield granularity used by stage retry
	// loops and by stranded/full backpressure sleeps. Default 10ms.
	Timescale time.Duration `yaml:"timescale" env:"TIMESCALE"`
	// QueueCapacity bounds every PIPE's buffered length.
	QueueCapacity int `yaml:"queueCapacity" env:"QUEUE_CAPACITY"`
	// Epsilon floors every log() argument in the DSP kernels.
	Epsilon float64 `yaml:"epsilon" env:"EPSILON"`
}

// KVConfig selects and configures the distributed-state backend (C1/C12
// "global distributed state"): either an in-process map (single instance)
// or Redis (multi-instance / cross-host transport shim deployments).
type KVConfig struct {
	Enabled  bool   `yaml:"enabled" env:"KV_ENABLED"`
	Host     string `yaml:"host" env:"KV_REDIS_HOST"`
	Password string `yaml:"password" env:"KV_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"KV_REDIS_DB"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Bind         string `yaml:"bind" env:"METRICS_BIND"`
	Port         int    `yaml:"port" env:"METRICS_PORT"`
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"OTLP_ENDPOINT"`
}

type PProfConfig struct {
	Enabled        bool     `yaml:"enabled" env:"PPROF_ENABLED"`
	Bind           string   `yaml:"bind" env:"PPROF_BIND"`
	Port           int      `yaml:"port" env:"PPROF_PORT"`
	TrustedProxies []string `yaml:"trustedProxies" env:"PPROF_TRUSTED_PROXIES"`
}

// DecoderConfig configures the §6.2 WFST decoder subprocess invocation.
type DecoderConfig struct {
	BinaryPath     string        `yaml:"binaryPath" env:"DECODER_BIN"`
	Beam           float64       `yaml:"beam" env:"DECODER_BEAM"`
	MaxActive      int           `yaml:"maxActive" env:"DECODER_MAX_ACTIVE"`
	MinActive      int           `yaml:"minActive" env:"DECODER_MIN_ACTIVE"`
	LatticeBeam    float64       `yaml:"latticeBeam" env:"DECODER_LATTICE_BEAM"`
	PruneInterval  int           `yaml:"pruneInterval" env:"DECODER_PRUNE_INTERVAL"`
	BeamDelta      float64       `yaml:"beamDelta" env:"DECODER_BEAM_DELTA"`
	HashRatio      float64       `yaml:"hashRatio" env:"DECODER_HASH_RATIO"`
	PruneScale     float64       `yaml:"pruneScale" env:"DECODER_PRUNE_SCALE"`
	AcousticScale  float64       `yaml:"acousticScale" env:"DECODER_ACOUSTIC_SCALE"`
	LMScale        float64       `yaml:"lmScale" env:"DECODER_LM_SCALE"`
	ChunkFrames    int           `yaml:"chunkFrames" env:"DECODER_CHUNK_FRAMES"`
	AllowPartial   bool          `yaml:"allowPartial" env:"DECODER_ALLOW_PARTIAL"`
	NBests         int           `yaml:"nBests" env:"DECODER_N_BESTS"`
	SilencePhones  string        `yaml:"silencePhones" env:"DECODER_SILENCE_PHONES"`
	FrameShift     time.Duration `yaml:"frameShift" env:"DECODER_FRAME_SHIFT"`
	TModel         string        `yaml:"tModel" env:"DECODER_TMODEL"`
	FST            string        `yaml:"fst" env:"DECODER_FST"`
	WordBoundary   string        `yaml:"wordBoundary" env:"DECODER_WORD_BOUNDARY"`
	SymbolTable    string        `yaml:"symbolTable" env:"DECODER_SYMBOL_TABLE"`
}

// TransportConfig configures the §4.12/§6.3 wire-protocol transport shim.
type TransportConfig struct {
	MaxSocketBufferSize int           `yaml:"maxSocketBufferSize" env:"MAX_SOCKET_BUFFER_SIZE"`
	SocketRetry         int           `yaml:"socketRetry" env:"SOCKET_RETRY"`
	PreSharedKey        string        `yaml:"preSharedKey" env:"TRANSPORT_PSK"`
	HeartbeatInterval   time.Duration `yaml:"heartbeatInterval" env:"TRANSPORT_HEARTBEAT_INTERVAL"`
}

// GlobalStatsConfig configures the §6.5 global-statistics cache (DOMAIN
// STACK: gorm + sqlite read-through cache, xz for large blobs).
type GlobalStatsConfig struct {
	CachePath          string `yaml:"cachePath" env:"GLOBAL_STATS_CACHE_PATH"`
	CompressAboveBytes int    `yaml:"compressAboveBytes" env:"GLOBAL_STATS_COMPRESS_ABOVE_BYTES"`
	FlushInterval      time.Duration `yaml:"flushInterval" env:"GLOBAL_STATS_FLUSH_INTERVAL"`
}

// Default returns a Config populated with the §6.7 defaults and sane
// defaults for the ambient stack. configulator overlays YAML/env on top.
func Default() Config {
	return Config{
		LogLevel: LogLevelInfo,
		Runtime: RuntimeConfig{
			Timeout:       1800 * time.Second,
			Timescale:     10 * time.Millisecond,
			QueueCapacity: 64,
			Epsilon:       1.19e-7,
		},
		KV: KVConfig{
			Enabled: false,
			Host:    "localhost:6379",
			DB:      0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    9090,
		},
		PProf: PProfConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    6060,
		},
		Decoder: DecoderConfig{
			BinaryPath:    "exkaldi-online-decoder",
			Beam:          13.0,
			MaxActive:     7000,
			MinActive:     200,
			LatticeBeam:   6.0,
			PruneInterval: 25,
			BeamDelta:     0.5,
			HashRatio:     2.0,
			PruneScale:    0.1,
			AcousticScale: 0.1,
			LMScale:       1.0,
			ChunkFrames:   10,
			AllowPartial:  true,
			NBests:        1,
		},
		Transport: TransportConfig{
			MaxSocketBufferSize: 10000,
			SocketRetry:         10,
			HeartbeatInterval:   5 * time.Second,
		},
		GlobalStats: GlobalStatsConfig{
			CachePath:          "global_stats.db",
			CompressAboveBytes: 4096,
			FlushInterval:      30 * time.Second,
		},
		Estimator: EstimatorConfig{
			OutputKey: "posteriors",
		},
		Feature: FeatureConfig{
			Type:            "mfcc",
			FrameLengthMS:   25,
			FrameShiftMS:    10,
			WindowType:      "povey",
			PreemphCoeff:    0.97,
			UsePower:        true,
			UseLog:          true,
			UseEnergy:       true,
			EnergyFloor:     1.0,
			NumBins:         23,
			NumCeps:         13,
			LifterCoeff:     22,
			BatchSize:       8,
			MinParallelSize: 32,
		},
		CMVN: CMVNConfig{
			Mode:        "sliding",
			Width:       600,
			UseVariance: true,
		},
		Processor: ProcessorConfig{
			DeltaOrder:  2,
			DeltaWindow: 2,
		},
		VAD: VADConfig{
			Patience:        10,
			EnergyThreshold: 50,
		},
	}
}
