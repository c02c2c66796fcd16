// Package structuretensor estimates the smoothed gradient outer product
// field of an image, which encodes local orientation and coherence.
package structuretensor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"lbrdiffusion/internal/parallel"
	"lbrdiffusion/pkg/gaussian"
	"lbrdiffusion/pkg/raster"
)

// ErrInvalidScale indicates a noise or feature scale that is not finite and positive.
var ErrInvalidScale = errors.New("structuretensor: scales must be finite and positive")

// GradientMode selects how the regularized gradient is computed.
type GradientMode int

const (
	// GaussianDerivative convolves with the derivative of a Gaussian.
	GaussianDerivative GradientMode = iota
	// SmoothThenDifference smooths with a Gaussian, then takes central differences.
	SmoothThenDifference
)

var gradientModeNames = map[GradientMode]string{
	GaussianDerivative:   "gaussian-derivative",
	SmoothThenDifference: "smooth-then-difference",
}

func (m GradientMode) String() string {
	if s, ok := gradientModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("GradientMode(%d)", int(m))
}

// ParseGradientMode is the inverse of String.
func ParseGradientMode(s string) (GradientMode, error) {
	for m, name := range gradientModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("structuretensor: unknown gradient mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m GradientMode) MarshalText() ([]byte, error) {
	if _, ok := gradientModeNames[m]; !ok {
		return nil, fmt.Errorf("structuretensor: unknown gradient mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *GradientMode) UnmarshalText(text []byte) error {
	v, err := ParseGradientMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Estimator computes structure tensors. Scales are physical standard
// deviations, converted to pixels with the image spacing.
type Estimator struct {
	// NoiseScale (σ) regularizes the gradient.
	NoiseScale float64

	// FeatureScale (ρ) smooths the outer products.
	FeatureScale float64

	// RescaleForUnitMaximumTrace divides the field by its largest trace.
	RescaleForUnitMaximumTrace bool

	Gradient GradientMode
	Workers  int
}

// Result holds the tensor field and the factor it was multiplied by
// (1 unless rescaling was requested and the field is nonzero).
type Result struct {
	Tensors       *raster.TensorField
	RescaleFactor float64
}

// Estimate computes Σ_channels ∇u⊗∇u, smoothed at the feature scale.
func (e *Estimator) Estimate(img *raster.Image) (*Result, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	for _, s := range []float64{e.NoiseScale, e.FeatureScale} {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: noise %v, feature %v", ErrInvalidScale, e.NoiseScale, e.FeatureScale)
		}
	}

	d := img.Dim()
	sigma := make([]float64, d)
	rho := make([]float64, d)
	for a := 0; a < d; a++ {
		sigma[a] = e.NoiseScale / img.Spacing[a]
		rho[a] = e.FeatureScale / img.Spacing[a]
	}

	grads := e.gradient(img, sigma)

	tf, err := raster.NewTensorField(img.Size, img.Spacing)
	if err != nil {
		return nil, err
	}
	k := img.Channels
	nc := tf.Components()
	parallel.Each(e.Workers, tf.Len(), func(start, end int) {
		for p := start; p < end; p++ {
			t := tf.At(p)
			for c := 0; c < k; c++ {
				for i := 0; i < d; i++ {
					gi := grads[i][p*k+c]
					for j := i; j < d; j++ {
						t.Set(i, j, t.At(i, j)+gi*grads[j][p*k+c])
					}
				}
			}
		}
	})

	tf.Data = gaussian.Smooth(tf.Data, tf.Size, nc, rho, e.Workers)

	res := &Result{Tensors: tf, RescaleFactor: 1}
	if e.RescaleForUnitMaximumTrace {
		maxTrace := 0.0
		for p := 0; p < tf.Len(); p++ {
			maxTrace = math.Max(maxTrace, tf.At(p).Trace())
		}
		if maxTrace > 0 {
			res.RescaleFactor = 1 / maxTrace
			floats.Scale(res.RescaleFactor, tf.Data)
		}
	}
	return res, nil
}

// gradient returns one buffer per axis holding the physical partial
// derivative of every channel.
func (e *Estimator) gradient(img *raster.Image, sigma []float64) [][]float64 {
	d := img.Dim()
	grads := make([][]float64, d)

	var smoothed []float64
	if e.Gradient == SmoothThenDifference {
		smoothed = gaussian.Smooth(img.Pix, img.Size, img.Channels, sigma, e.Workers)
	}
	for a := 0; a < d; a++ {
		if e.Gradient == SmoothThenDifference {
			grads[a] = make([]float64, len(img.Pix))
			gaussian.ConvolveAxis(grads[a], smoothed, img.Size, img.Channels, a, gaussian.CentralDifference(), e.Workers)
		} else {
			grads[a] = gaussian.Derivative(img.Pix, img.Size, img.Channels, sigma, a, e.Workers)
		}
		floats.Scale(1/img.Spacing[a], grads[a])
	}
	return grads
}

// Estimate is the plain-function form of Estimator.Estimate with the default
// gradient mode.
func Estimate(img *raster.Image, noiseScale, featureScale float64, rescale bool) (*raster.TensorField, float64, error) {
	e := &Estimator{
		NoiseScale:                 noiseScale,
		FeatureScale:               featureScale,
		RescaleForUnitMaximumTrace: rescale,
	}
	res, err := e.Estimate(img)
	if err != nil {
		return nil, 0, err
	}
	return res.Tensors, res.RescaleFactor, nil
}
