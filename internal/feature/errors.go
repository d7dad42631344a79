// SPDX-License-Identifier: AGPL-3.0-or-later
package feature

import (
	"fmt"

	"github.com/speechgraph/sgraph/internal/graph"
)

// errShapeMismatch wraps graph.ErrShapeMismatch with the stage name and the
// expected/actual dimension, per the taxonomy's "wrap sentinels with
// context" convention (§7).
func errShapeMismatch(stage string, want, got int) error {
	return fmt.Errorf("%w: %s: expected frame length %d, got %d", graph.ErrShapeMismatch, stage, want, got)
}
