// SPDX-License-Identifier: AGPL-3.0-or-later
package cmvn_test

import (
	"math/rand/v2"
	"testing"

	"github.com/speechgraph/sgraph/internal/cmvn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSlidingCMVNConvergence feeds an i.i.d. stream through a sliding CMVN
// and checks the reported mean matches the last-width-frame sample mean
// once the ring buffer has filled, per §8's CMVN-convergence property.
func TestSlidingCMVNConvergence(t *testing.T) {
	t.Parallel()
	const width = 200
	const dim = 1
	const mean = 3.5

	rng := rand.New(rand.NewPCG(1, 2))
	c := cmvn.NewSlidingCMVN(dim, width, -1, false)

	var window []float32
	for i := 0; i < width*3; i++ {
		x := float32(mean + rng.NormFloat64())
		c.Observe([]float32{x})
		window = append(window, x)
		if len(window) > width {
			window = window[1:]
		}
	}

	var sum float64
	for _, v := range window {
		sum += float64(v)
	}
	wantMean := sum / float64(len(window))

	normalized := c.Normalize([]float32{float32(wantMean)})
	assert.InDelta(t, 0, normalized[0], 1e-4)
}

// TestSlidingCMVNFreeze mirrors §8 scenario 5: after feeding 1000 frames
// through a width=600 sliding CMVN, freeze(), then feed 10 more frames —
// the frozen normalizer must keep returning (x - μ_frozen) regardless of
// what the live sliding CMVN goes on to observe.
func TestSlidingCMVNFreeze(t *testing.T) {
	t.Parallel()
	const width = 600
	rng := rand.New(rand.NewPCG(7, 9))
	c := cmvn.NewSlidingCMVN(1, width, -1, false)

	for i := 0; i < 1000; i++ {
		c.Observe([]float32{float32(rng.NormFloat64())})
	}
	frozen := c.Freeze()
	muFrozen := frozen.Stats().Mean(0)

	for i := 0; i < 10; i++ {
		x := float32(rng.NormFloat64())
		c.Observe([]float32{x}) // the live CMVN keeps moving...
		got := frozen.Normalize([]float32{x})[0] // ...but frozen must not.
		assert.InDelta(t, float64(x)-muFrozen, float64(got), 1e-5)
	}
}

func TestConstantCMVNUsesVariance(t *testing.T) {
	t.Parallel()
	st := cmvn.NewStats(1)
	m := st.Matrix()
	m.Set(0, 0, 10) // sum
	m.Set(1, 0, 52) // sumsq
	m.Set(0, 1, 5)  // count
	m.Set(1, 1, 5)
	st, err := cmvn.FromMatrix(m)
	require.NoError(t, err)

	c := cmvn.NewConstantCMVN(st, true, -1)
	// mean=2, var=52/5-4=6.4
	out := c.Normalize([]float32{2})
	assert.InDelta(t, 0, out[0], 1e-6)
}

func TestOffsetRestrictsDimSlice(t *testing.T) {
	t.Parallel()
	st := cmvn.NewStats(1)
	m := st.Matrix()
	m.Set(0, 0, 10)
	m.Set(0, 1, 5)
	m.Set(1, 1, 5)
	st, err := cmvn.FromMatrix(m)
	require.NoError(t, err)

	c := cmvn.NewConstantCMVN(st, false, 2)
	out := c.Normalize([]float32{1, 2, 20, 4})
	assert.Equal(t, float32(1), out[0])
	assert.Equal(t, float32(2), out[1])
	assert.InDelta(t, 18, out[2], 1e-6) // 20 - mean(2)
	assert.Equal(t, float32(4), out[3])
}
