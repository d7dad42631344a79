// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp

import "errors"

// ErrDimMismatch is wrapped into graph.ErrShapeMismatch by callers that
// have access to the owning stage's name.
var ErrDimMismatch = errors.New("dsp: dimension mismatch")
