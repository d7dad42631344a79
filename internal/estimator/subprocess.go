// SPDX-License-Identifier: AGPL-3.0-or-later
package estimator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/speechgraph/sgraph/internal/graph"
	"github.com/speechgraph/sgraph/internal/kaldiio"
)

// SubprocessForward adapts an external process to the Forward signature:
// one feature matrix written to its stdin per call, framed the same way
// the global stats archive frames a matrix, one probability matrix read
// back from its stdout. This is the concrete plug the CLI commands use
// for §6.1's "caller-supplied neural network consumed as a plain
// matrix-to-matrix function" — a library caller wiring estimator.New
// directly is free to supply any other Forward instead.
type SubprocessForward struct {
	cmd      *exec.Cmd
	stdinRaw io.WriteCloser
	stdin    *bufio.Writer
	stdout   *bufio.Reader
	stderr   *bytes.Buffer
	mu       sync.Mutex
}

// NewSubprocessForward launches binaryPath with args and returns a Forward
// bound to its stdin/stdout. The process is expected to run for the
// lifetime of the estimator, answering one matrix with one matrix in
// request order.
func NewSubprocessForward(ctx context.Context, binaryPath string, args ...string) (*SubprocessForward, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("estimator: forward stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("estimator: forward stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("estimator: starting forward binary %s: %w", binaryPath, err)
	}
	return &SubprocessForward{
		cmd:      cmd,
		stdinRaw: stdin,
		stdin:    bufio.NewWriter(stdin),
		stdout:   bufio.NewReader(stdout),
		stderr:   stderr,
	}, nil
}

// Forward implements the estimator.Forward signature.
func (s *SubprocessForward) Forward(features graph.Matrix) (graph.Matrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := kaldiio.WriteMatrix(s.stdin, features); err != nil {
		return graph.Matrix{}, fmt.Errorf("estimator: writing features to forward binary: %w", err)
	}
	if err := s.stdin.Flush(); err != nil {
		return graph.Matrix{}, fmt.Errorf("estimator: flushing forward binary stdin: %w", err)
	}
	m, err := kaldiio.ReadMatrix(s.stdout)
	if err != nil {
		return graph.Matrix{}, fmt.Errorf("estimator: reading probabilities from forward binary: %w (stderr: %s)", err, s.stderr.String())
	}
	return m, nil
}

// Close signals end-of-input by closing stdin and waits for the process to
// exit.
func (s *SubprocessForward) Close() error {
	_ = s.stdin.Flush()
	_ = s.stdinRaw.Close()
	return s.cmd.Wait()
}

// IdentityForward returns features unchanged, the degenerate acoustic NN
// §8 scenario 1 exercises against a decoder stub.
func IdentityForward(features graph.Matrix) (graph.Matrix, error) {
	return features.Clone(), nil
}
