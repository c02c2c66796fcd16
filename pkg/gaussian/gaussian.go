// Package gaussian implements separable Gaussian smoothing and Gaussian
// derivatives on flat x-fastest buffers with interleaved components.
//
// Sigmas are expressed in pixels. Samples beyond the extent replicate the edge
// pixel, so a constant signal stays constant and has a zero derivative.
package gaussian

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"lbrdiffusion/internal/parallel"
	"lbrdiffusion/pkg/raster"
)

// truncation is the kernel half-width in standard deviations.
const truncation = 4.0

// Radius returns the half-width of the kernels built for sigma.
func Radius(sigma float64) int {
	r := int(math.Ceil(truncation * sigma))
	if r < 1 {
		r = 1
	}
	return r
}

func samples(sigma float64) []float64 {
	r := Radius(sigma)
	g := make([]float64, 2*r+1)
	if sigma <= 0 {
		g[r] = 1
		return g
	}
	for i := -r; i <= r; i++ {
		x := float64(i) / sigma
		g[i+r] = math.Exp(-0.5 * x * x)
	}
	return g
}

// Kernel returns a normalized sampled Gaussian of standard deviation sigma.
// A non-positive sigma yields the identity kernel.
func Kernel(sigma float64) []float64 {
	g := samples(sigma)
	floats.Scale(1/floats.Sum(g), g)
	return g
}

// DerivativeKernel returns first-derivative weights w such that
// sum_i w[i+r]*f(x+i) is exact for affine f. For small sigma it reduces to
// the central difference (f(x+1)-f(x-1))/2.
func DerivativeKernel(sigma float64) []float64 {
	g := samples(sigma)
	r := len(g) / 2
	if sigma <= 0 {
		g[r-1], g[r+1] = 1, 1
	}
	norm := 0.0
	for i := -r; i <= r; i++ {
		norm += float64(i*i) * g[i+r]
	}
	w := make([]float64, len(g))
	for i := -r; i <= r; i++ {
		w[i+r] = float64(i) * g[i+r] / norm
	}
	return w
}

// CentralDifference is the derivative kernel used without pre-smoothing.
func CentralDifference() []float64 { return []float64{-0.5, 0, 0.5} }

// ConvolveAxis correlates every line along axis with kernel (odd length,
// centered), writing into dst. src and dst must not alias.
func ConvolveAxis(dst, src []float64, size []int, comps, axis int, kernel []float64, workers int) {
	strides := raster.Strides(size)
	stride := strides[axis]
	n := size[axis]
	r := len(kernel) / 2
	lines := len(src) / comps / n

	parallel.Each(workers, lines, func(start, end int) {
		line := make([]float64, n)
		for l := start; l < end; l++ {
			inner, outer := l%stride, l/stride
			base := outer*stride*n + inner
			for c := 0; c < comps; c++ {
				for i := 0; i < n; i++ {
					line[i] = src[(base+i*stride)*comps+c]
				}
				for i := 0; i < n; i++ {
					acc := 0.0
					for k := -r; k <= r; k++ {
						j := i + k
						if j < 0 {
							j = 0
						} else if j >= n {
							j = n - 1
						}
						acc += kernel[k+r] * line[j]
					}
					dst[(base+i*stride)*comps+c] = acc
				}
			}
		}
	})
}

// Smooth returns src convolved with a Gaussian of per-axis standard
// deviation sigma (in pixels).
func Smooth(src []float64, size []int, comps int, sigma []float64, workers int) []float64 {
	cur := append([]float64(nil), src...)
	tmp := make([]float64, len(src))
	for axis := range size {
		ConvolveAxis(tmp, cur, size, comps, axis, Kernel(sigma[axis]), workers)
		cur, tmp = tmp, cur
	}
	return cur
}

// Derivative returns the Gaussian-regularized partial derivative of src along
// axis, in units of value per pixel.
func Derivative(src []float64, size []int, comps int, sigma []float64, axis, workers int) []float64 {
	cur := append([]float64(nil), src...)
	tmp := make([]float64, len(src))
	for a := range size {
		k := Kernel(sigma[a])
		if a == axis {
			k = DerivativeKernel(sigma[a])
		}
		ConvolveAxis(tmp, cur, size, comps, a, k, workers)
		cur, tmp = tmp, cur
	}
	return cur
}
