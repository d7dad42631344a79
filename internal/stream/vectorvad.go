// SPDX-License-Identifier: AGPL-3.0-or-later
package stream

import (
	"context"

	"github.com/speechgraph/sgraph/internal/graph"
)

// MatrixSpeechFunc classifies one batch of feature rows as speech (true)
// or silence (false) — the matrix-domain analogue of SpeechFunc, typically
// backed by an energy-VAD over fBank/MFCC frames rather than raw samples.
type MatrixSpeechFunc func(batch graph.Matrix) bool

// VectorVAD applies the shared patience-counter VAD logic to whole Matrix
// packets instead of raw sample chunks, for use downstream of a feature
// extractor rather than upstream of one.
type VectorVAD struct {
	vad      *VAD
	isSpeech MatrixSpeechFunc
	id       uint64
}

// NewVectorVAD constructs a VectorVAD.
func NewVectorVAD(patience int, truncate bool, isSpeech MatrixSpeechFunc) *VectorVAD {
	return &VectorVAD{
		vad:      NewVAD(patience, truncate),
		isSpeech: isSpeech,
		id:       graph.NextProducerID(),
	}
}

// Process implements graph.Worker.
func (v *VectorVAD) Process(ctx context.Context, in graph.Packet, out *graph.Queue) error {
	if in.IsEndpoint() || in.IsNull() {
		return out.Put(ctx, in.WithIDs(in.ChunkID, v.id))
	}

	m := in.MainMatrix()
	decision := v.vad.Detect(v.isSpeech(m))

	switch decision {
	case DecisionDrop:
		return nil
	case DecisionTruncate:
		return out.Put(ctx, graph.NewEndpoint(in.ChunkID, v.id))
	default:
		return out.Put(ctx, graph.NewMatrixPacket(in.ChunkID, v.id, m))
	}
}

// Reset implements graph.Resettable.
func (v *VectorVAD) Reset() { v.vad.Reset() }
