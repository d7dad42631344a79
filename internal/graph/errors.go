// SPDX-License-Identifier: AGPL-3.0-or-later
// sgraph - a concurrent streaming speech-recognition graph runtime
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package graph implements the packet/queue/stage/joint runtime that every
// processing component (framing, features, CMVN, decoding, transport) is
// built on top of.
package graph

import "errors"

// Sentinel errors for the taxonomy. Stages and joints wrap these with
// fmt.Errorf("%w: ...") context before they surface to a caller.
var (
	// ErrTimeout is returned by Queue.Get/Put when TIMEOUT elapses without
	// progress.
	ErrTimeout = errors.New("graph: timeout")
	// ErrClosedForWrite is returned by Queue.Put against a terminated or
	// stranded queue.
	ErrClosedForWrite = errors.New("graph: queue closed for write")
	// ErrNoMoreData is returned by Queue.Get once a queue is terminated and
	// drained.
	ErrNoMoreData = errors.New("graph: no more data")
	// ErrKilled is returned by any operation against a queue in the wrong
	// state.
	ErrKilled = errors.New("graph: killed")
	// ErrProtocolMismatch signals a malformed line from the decoder
	// subprocess or a malformed transport frame.
	ErrProtocolMismatch = errors.New("graph: protocol mismatch")
	// ErrKeyCollision is returned by a Merger when two inputs carry the same
	// payload key at the same aligned chunk id.
	ErrKeyCollision = errors.New("graph: key collision")
	// ErrShapeMismatch is returned when a Vector/Matrix payload's declared
	// shape doesn't match its data length, or a wave header disagrees with
	// the configured sample format.
	ErrShapeMismatch = errors.New("graph: shape mismatch")
	// ErrChildCrash is returned when an external subprocess (decoder) exits
	// unexpectedly.
	ErrChildCrash = errors.New("graph: child process crashed")
)
