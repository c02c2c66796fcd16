// Package metrics compares a diffused image with its input.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lbrdiffusion/pkg/raster"
)

// Range is the closed interval spanned by a set of values.
type Range struct {
	Min, Max float64
}

// Contains reports whether r lies inside o, up to tol.
func (r Range) Contains(o Range, tol float64) bool {
	return o.Min >= r.Min-tol && o.Max <= r.Max+tol
}

// Summary groups the quality measures reported after a run.
type Summary struct {
	// RMSE is the root mean square difference between input and output.
	RMSE float64

	// SSIM is the global structural similarity, 1 for identical images.
	SSIM float64

	// EntropyDiff is the absolute difference of the 256-bin Shannon entropies.
	// Diffusion lowers entropy as it removes texture.
	EntropyDiff float64

	// EdgePreservation correlates the gradient magnitude maps of both images.
	EdgePreservation float64

	Input  Range
	Output Range
}

// Compare computes every measure of Summary. Both images must share extent
// and channel count.
func Compare(before, after *raster.Image) Summary {
	in, out := ValueRange(before.Pix), ValueRange(after.Pix)
	dynamic := math.Max(in.Max, out.Max) - math.Min(in.Min, out.Min)
	return Summary{
		RMSE:             RMSE(before.Pix, after.Pix),
		SSIM:             SSIM(before.Pix, after.Pix, dynamic),
		EntropyDiff:      math.Abs(Entropy(before.Pix) - Entropy(after.Pix)),
		EdgePreservation: EdgePreservation(before, after),
		Input:            in,
		Output:           out,
	}
}

// ValueRange returns the smallest and largest value of data.
func ValueRange(data []float64) Range {
	if len(data) == 0 {
		return Range{}
	}
	return Range{Min: floats.Min(data), Max: floats.Max(data)}
}

// RMSE returns the root mean square difference, or 0 on length mismatch.
func RMSE(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

// SSIM computes a single-window structural similarity with the given
// dynamic range; a non-positive range is treated as 1.
func SSIM(a, b []float64, dynamicRange float64) float64 {
	const k1, k2 = 0.01, 0.03
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	if dynamicRange <= 0 {
		dynamicRange = 1
	}
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muA, varA := stat.MeanVariance(a, nil)
	muB, varB := stat.MeanVariance(b, nil)
	cov := stat.Covariance(a, b, nil)

	num := (2*muA*muB + c1) * (2*cov + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// Entropy returns the Shannon entropy, in bits, of a 256-bin histogram of data.
func Entropy(data []float64) float64 {
	const bins = 256
	r := ValueRange(data)
	if !(r.Max > r.Min) {
		return 0
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, r.Min, r.Max)
	// The last divider is exclusive in stat.Histogram.
	dividers[bins] = math.Nextafter(r.Max, math.Inf(1))

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	hist := stat.Histogram(nil, dividers, sorted, nil)

	n := float64(len(data))
	h := 0.0
	for _, c := range hist {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

// GradientMagnitude returns the per-pixel Euclidean norm of the central
// difference gradient, in physical units, summed over channels. One-sided
// differences are used on the borders.
func GradientMagnitude(img *raster.Image) []float64 {
	d := img.Dim()
	k := img.Channels
	strides := raster.Strides(img.Size)
	idx := make([]int, d)
	out := make([]float64, img.Len())
	for p := range out {
		raster.Unravel(img.Size, p, idx)
		sq := 0.0
		for a := 0; a < d; a++ {
			lo, hi := p, p
			span := 0.0
			if idx[a] > 0 {
				lo -= strides[a]
				span++
			}
			if idx[a] < img.Size[a]-1 {
				hi += strides[a]
				span++
			}
			if span == 0 {
				continue
			}
			for c := 0; c < k; c++ {
				g := (img.Pix[hi*k+c] - img.Pix[lo*k+c]) / (span * img.Spacing[a])
				sq += g * g
			}
		}
		out[p] = math.Sqrt(sq)
	}
	return out
}

// EdgePreservation is the correlation of the gradient magnitude maps. It is
// 0 when either map is constant.
func EdgePreservation(before, after *raster.Image) float64 {
	a, b := GradientMagnitude(before), GradientMagnitude(after)
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	if stat.Variance(a, nil) == 0 || stat.Variance(b, nil) == 0 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}
