package gaussian

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestKernelNormalized(t *testing.T) {
	for _, sigma := range []float64{0, 0.1, 0.5, 1, 2.5} {
		k := Kernel(sigma)
		require.Len(t, k, 2*Radius(sigma)+1)
		assert.InDelta(t, 1.0, floats.Sum(k), 1e-12, "sigma=%v", sigma)

		// Symmetric and peaked at the center.
		r := len(k) / 2
		for i := 1; i <= r; i++ {
			assert.InDelta(t, k[r-i], k[r+i], 1e-15)
			assert.LessOrEqual(t, k[r+i], k[r+i-1])
		}
	}
}

func TestDerivativeKernelExactOnRamp(t *testing.T) {
	for _, sigma := range []float64{0, 0.3, 1, 2} {
		w := DerivativeKernel(sigma)
		r := len(w) / 2
		acc := 0.0
		for i := -r; i <= r; i++ {
			acc += w[i+r] * (3*float64(i) + 7)
		}
		assert.InDelta(t, 3.0, acc, 1e-12, "sigma=%v", sigma)
	}
	assert.Equal(t, CentralDifference(), DerivativeKernel(0))
}

// TestSmoothPreservesConstant checks the replicate boundary: a constant image
// stays constant everywhere, including at the borders.
func TestSmoothPreservesConstant(t *testing.T) {
	size := []int{7, 5, 4}
	src := make([]float64, 7*5*4*2)
	for i := range src {
		src[i] = 2.5
		if i%2 == 1 {
			src[i] = -1
		}
	}
	out := Smooth(src, size, 2, []float64{1.5, 1, 0.5}, 2)
	for i, v := range out {
		want := 2.5
		if i%2 == 1 {
			want = -1
		}
		require.InDelta(t, want, v, 1e-12)
	}
}

func TestDerivativeOfLinearRamp(t *testing.T) {
	size := []int{32, 16}
	src := make([]float64, 32*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			src[y*32+x] = 0.5*float64(x) - 2*float64(y)
		}
	}
	sigma := []float64{1, 1}
	dx := Derivative(src, size, 1, sigma, 0, 1)
	dy := Derivative(src, size, 1, sigma, 1, 1)

	// Away from the borders the ramp is reproduced exactly.
	r := Radius(1)
	for y := r; y < 16-r; y++ {
		for x := r; x < 32-r; x++ {
			assert.InDelta(t, 0.5, dx[y*32+x], 1e-9)
			assert.InDelta(t, -2.0, dy[y*32+x], 1e-9)
		}
	}
}

func TestSmoothReducesPeak(t *testing.T) {
	size := []int{21, 21}
	src := make([]float64, 21*21)
	src[10*21+10] = 1
	out := Smooth(src, size, 1, []float64{2, 2}, 0)
	assert.InDelta(t, 1.0, floats.Sum(out), 1e-9)
	assert.Less(t, out[10*21+10], 0.1)
	assert.False(t, math.IsNaN(floats.Max(out)))
}
