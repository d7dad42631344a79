// SPDX-License-Identifier: AGPL-3.0-or-later
package estimator

import (
	"bufio"
	"fmt"
	"os"

	"github.com/speechgraph/sgraph/internal/kaldiio"
)

// LoadPriors reads a 1×D log-prior vector from the same binary matrix
// format §6.6 uses for the LDA transform.
func LoadPriors(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("estimator: opening priors file %s: %w", path, err)
	}
	defer f.Close()

	m, err := kaldiio.ReadMatrix(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("estimator: reading priors file %s: %w", path, err)
	}
	if m.Rows != 1 {
		return nil, fmt.Errorf("estimator: priors file %s: expected a single row, got %d", path, m.Rows)
	}
	out := make([]float32, m.Cols)
	copy(out, m.Data)
	return out, nil
}
