// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the C9 stream adapters: wave reader/recorder,
// frame cutter/dissolver, vector batcher, matrix subsetter, and the
// byte/vector-oriented voice-activity detectors they embed.
package stream

// Decision is a VAD's verdict on one chunk of stream.
type Decision int

const (
	// DecisionKeep retains the chunk's data unchanged.
	DecisionKeep Decision = iota
	// DecisionDrop silently discards the chunk.
	DecisionDrop
	// DecisionTruncate replaces the chunk with an Endpoint and resets the
	// detector's silence counter.
	DecisionTruncate
)

// VAD implements the patience-counter voice-activity logic shared by the
// byte-oriented (stream.Reader) and vector-oriented (VectorVAD) detectors.
// Without truncate, continuous silence is kept for up to patience chunks
// and every further silent chunk is dropped; with truncate, the
// patience-th consecutive silent chunk is replaced by an Endpoint and the
// counter reset.
type VAD struct {
	patience       int
	truncate       bool
	silenceCounter int
}

// NewVAD constructs a VAD. patience must be positive.
func NewVAD(patience int, truncate bool) *VAD {
	return &VAD{patience: patience, truncate: truncate}
}

// Reset clears the silence counter, e.g. after a Stage.Reset.
func (v *VAD) Reset() { v.silenceCounter = 0 }

// Detect folds one chunk's speech/silence verdict into the patience
// counter and returns what the caller should do with the chunk.
func (v *VAD) Detect(isSpeech bool) Decision {
	if isSpeech {
		v.silenceCounter = 0
		return DecisionKeep
	}
	v.silenceCounter++
	switch {
	case v.silenceCounter == v.patience:
		if v.truncate {
			v.silenceCounter = 0
			return DecisionTruncate
		}
		return DecisionKeep
	case v.silenceCounter > v.patience:
		return DecisionDrop
	default:
		return DecisionKeep
	}
}
