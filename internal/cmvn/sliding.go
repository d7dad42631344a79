// SPDX-License-Identifier: AGPL-3.0-or-later
package cmvn

import "math"

// SlidingCMVN maintains a ring buffer of width frames with a running sum
// (and, with UseVariance, sum-of-squares), fusing with an optionally
// attached global Stats while the buffer is still priming (counter <
// width). Single-writer: the owning stage's worker is the only caller, per
// the concurrency model's "ring buffers are single-writer" rule.
type SlidingCMVN struct {
	dim         int
	width       int
	offset      int
	useVariance bool

	ring    [][]float32
	filled  []bool
	ringIdx int
	counter int

	sum   []float64
	sumsq []float64

	global *Stats
}

// NewSlidingCMVN allocates a sliding CMVN over dim dimensions with a
// width-frame ring buffer. offset restricts observation/normalization to
// [offset, offset+dim); -1 means "starting at 0".
func NewSlidingCMVN(dim, width, offset int, useVariance bool) *SlidingCMVN {
	return &SlidingCMVN{
		dim:         dim,
		width:       width,
		offset:      offset,
		useVariance: useVariance,
		ring:        make([][]float32, width),
		filled:      make([]bool, width),
		sum:         make([]float64, dim),
		sumsq:       make([]float64, dim),
	}
}

func (c *SlidingCMVN) start() int {
	if c.offset < 0 {
		return 0
	}
	return c.offset
}

// SetGlobalStats attaches externally supplied statistics (loaded from
// §6.5's global statistics file) to fuse with while priming.
func (c *SlidingCMVN) SetGlobalStats(g Stats) { c.global = &g }

// Observe folds frame's [start, start+dim) slice into the ring buffer,
// evicting the oldest cached frame first.
func (c *SlidingCMVN) Observe(frame []float32) {
	start := c.start()
	slot := make([]float32, c.dim)
	for i := 0; i < c.dim; i++ {
		idx := start + i
		if idx < len(frame) {
			slot[i] = frame[idx]
		}
	}

	if c.filled[c.ringIdx] {
		old := c.ring[c.ringIdx]
		for i, v := range old {
			c.sum[i] -= float64(v)
			c.sumsq[i] -= float64(v) * float64(v)
		}
	} else {
		c.counter++
	}

	for i, v := range slot {
		c.sum[i] += float64(v)
		c.sumsq[i] += float64(v) * float64(v)
	}
	c.ring[c.ringIdx] = slot
	c.filled[c.ringIdx] = true
	c.ringIdx = (c.ringIdx + 1) % c.width
}

// fusedStats implements §4.7's get_cmvn fusion rules for dimension d,
// returning an (sum, sumsq, n) triple ready for mean = sum/n,
// var = sumsq/n - mean².
func (c *SlidingCMVN) fusedStats(d int) (sum, sumsq, n float64) {
	if c.counter >= c.width {
		return c.sum[d], c.sumsq[d], float64(c.width)
	}
	if c.global != nil {
		gCount := c.global.Count()
		gSum := float64(c.global.Sum(d))
		gSumSq := float64(c.global.SumSq(d))
		remaining := float64(c.width - c.counter)
		if gCount >= remaining {
			scale := remaining / gCount
			return c.sum[d] + gSum*scale, c.sumsq[d] + gSumSq*scale, float64(c.width)
		}
		return c.sum[d] + gSum, c.sumsq[d] + gSumSq, float64(c.counter) + gCount
	}
	if c.counter == 0 {
		return 0, 0, 1
	}
	return c.sum[d], c.sumsq[d], float64(c.counter)
}

// Normalize returns a copy of frame with dims [start, start+dim) CMVN'd
// against the current (possibly fused) statistics.
func (c *SlidingCMVN) Normalize(frame []float32) []float32 {
	out := make([]float32, len(frame))
	copy(out, frame)
	start := c.start()
	for i := 0; i < c.dim; i++ {
		idx := start + i
		if idx >= len(out) {
			break
		}
		sum, sumsq, n := c.fusedStats(i)
		mean := sum / n
		v := float64(frame[idx]) - mean
		if c.useVariance {
			variance := sumsq/n - mean*mean
			if variance < 1e-10 {
				variance = 1e-10
			}
			v /= math.Sqrt(variance)
		}
		out[idx] = float32(v)
	}
	return out
}

// Freeze captures the current fused statistics as a ConstantCMVN; later
// calls to Observe/Normalize on the receiver do not affect the returned
// snapshot.
func (c *SlidingCMVN) Freeze() *ConstantCMVN {
	st := NewStats(c.dim)
	var n float64
	for i := 0; i < c.dim; i++ {
		sum, sumsq, fn := c.fusedStats(i)
		st.m.Set(0, i, float32(sum))
		st.m.Set(1, i, float32(sumsq))
		n = fn
	}
	st.m.Set(0, c.dim, float32(n))
	st.m.Set(1, c.dim, float32(n))
	return NewConstantCMVN(st, c.useVariance, c.offset)
}
