// SPDX-License-Identifier: AGPL-3.0-or-later
package dsp

import (
	"math"
	"math/rand/v2"

	"github.com/speechgraph/sgraph/internal/graph"
)

// PreEmphasis1D applies y[0]=x[0]-α·x[0], y[i]=x[i]-α·x[i-1].
func PreEmphasis1D(x []float32, coeff float32) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}
	out[0] = x[0] - coeff*x[0]
	for i := 1; i < len(x); i++ {
		out[i] = x[i] - coeff*x[i-1]
	}
	return out
}

// PreEmphasis2D applies PreEmphasis1D to every row of a batch.
func PreEmphasis2D(x graph.Matrix, coeff float32) graph.Matrix {
	out := graph.NewMatrix(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		copy(out.Row(r), PreEmphasis1D(x.Row(r), coeff))
	}
	return out
}

// Dither1D adds factor·N(0,1) noise using rng, deterministic given a
// caller-seeded source (cfg seeds rng once per stream, not per frame, so
// the dither sequence is reproducible run to run).
func Dither1D(x []float32, factor float32, rng *rand.Rand) []float32 {
	out := make([]float32, len(x))
	if factor == 0 {
		copy(out, x)
		return out
	}
	for i, v := range x {
		out[i] = v + factor*float32(rng.NormFloat64())
	}
	return out
}

// Dither2D applies Dither1D to every row.
func Dither2D(x graph.Matrix, factor float32, rng *rand.Rand) graph.Matrix {
	out := graph.NewMatrix(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		copy(out.Row(r), Dither1D(x.Row(r), factor, rng))
	}
	return out
}

// RemoveDCOffset1D subtracts the frame's own mean.
func RemoveDCOffset1D(x []float32) []float32 {
	out := make([]float32, len(x))
	var sum float64
	for _, v := range x {
		sum += float64(v)
	}
	mean := float32(sum / float64(len(x)))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

// RemoveDCOffset2D subtracts each row's own mean.
func RemoveDCOffset2D(x graph.Matrix) graph.Matrix {
	out := graph.NewMatrix(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		copy(out.Row(r), RemoveDCOffset1D(x.Row(r)))
	}
	return out
}

// LogEnergy1D returns log(max(Σx², floor)).
func LogEnergy1D(x []float32, floor float64) float32 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum < floor {
		sum = floor
	}
	return float32(math.Log(sum))
}

// LogEnergy2D returns one log-energy value per row.
func LogEnergy2D(x graph.Matrix, floor float64) []float32 {
	out := make([]float32, x.Rows)
	for r := 0; r < x.Rows; r++ {
		out[r] = LogEnergy1D(x.Row(r), floor)
	}
	return out
}

// Log applies math.Log to every element after flooring it to floor, the
// shared convention "everywhere a log is taken, values below EPSILON are
// raised to EPSILON".
func Log(x []float32, floor float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		f := float64(v)
		if f < floor {
			f = floor
		}
		out[i] = float32(math.Log(f))
	}
	return out
}

// Sqrt applies math.Sqrt element-wise (negative inputs are floored to 0,
// since a power-spectrum value should never go negative except for
// floating-point noise).
func Sqrt(x []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		if v < 0 {
			v = 0
		}
		out[i] = float32(math.Sqrt(float64(v)))
	}
	return out
}

// Softmax2D applies a numerically-stable softmax to every row.
func Softmax2D(x graph.Matrix) graph.Matrix {
	out := graph.NewMatrix(x.Rows, x.Cols)
	for r := 0; r < x.Rows; r++ {
		row := x.Row(r)
		max := float32(math.Inf(-1))
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		dst := out.Row(r)
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - max))
			dst[i] = float32(e)
			sum += e
		}
		for i := range dst {
			dst[i] = float32(float64(dst[i]) / sum)
		}
	}
	return out
}
