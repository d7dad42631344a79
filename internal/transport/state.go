// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"encoding/binary"
	"math"
)

// encodeTimestamp packs an Active frame's peer clock (IEEE-754 64-bit) per
// §4.12.
func encodeTimestamp(t float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(t))
	return b[:]
}

func decodeTimestamp(b []byte) float64 {
	if len(b) < 8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// applyPeerTag folds an incoming tag into the local output queue's state,
// the "negotiate peer state so pauses can cross hosts" behavior §5
// describes: an Endpoint/Packet frame passes its payload through unchanged,
// Stranded blocks the local queue until the peer reports Active again,
// Terminated stops it cleanly, and Error kills it.
func (r *Receiver) applyPeerTag(tag Tag) {
	switch tag {
	case TagStranded:
		r.out.Block()
	case TagActive:
		r.out.Unblock()
	case TagTerminated:
		r.out.Stop()
	case TagError:
		r.out.Kill()
	}
}
