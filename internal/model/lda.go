// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model loads the dense-matrix model artifact configured at
// startup: the LDA/MLLT transform file (§6.6).
package model

import (
	"bufio"
	"fmt"
	"os"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/kaldiio"
)

// LoadLDA reads a §6.6 LDA/MLLT transform file: a single "\0B"-tagged
// dense matrix, with no leading key token. The file stores the transform
// as (D_out, D_in); it is transposed to (D_in, D_out) here so callers can
// apply it as a plain left-multiply against a (D_in,) frame.
func LoadLDA(path string) (graph.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("model: opening LDA file %s: %w", path, err)
	}
	defer f.Close()

	m, err := kaldiio.ReadMatrix(bufio.NewReader(f))
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("model: parsing LDA file %s: %w", path, err)
	}
	return m.Transpose(), nil
}
