package diffusion

import (
	"errors"
	"fmt"
	"math"

	"lbrdiffusion/pkg/lineardiffusion"
	"lbrdiffusion/pkg/structuretensor"
)

// ErrInvalidConfig indicates a configuration rejected before any computation.
var ErrInvalidConfig = errors.New("diffusion: invalid configuration")

// Config holds the parameters of a nonlinear diffusion run.
type Config struct {
	// DiffusionTime is the total time to diffuse for.
	DiffusionTime float64
	// Lambda is the contrast threshold of the eigenvalue remap.
	Lambda      float64
	Enhancement Enhancement
	// NoiseScale and FeatureScale are the σ and ρ of the structure tensor, in
	// physical units (after adimensionization when enabled).
	NoiseScale   float64
	FeatureScale float64
	Exponent     float64
	// Alpha is the floor of the remap, in ]0, 1[.
	Alpha                            float64
	RatioToMaxStableTimeStep         float64
	MaxTimeStepsBetweenTensorUpdates int
	// Adimensionize divides the spacing by its smallest component for the
	// duration of the run.
	Adimensionize bool
	Gradient      structuretensor.GradientMode
	// Workers bounds per-stage parallelism; <= 0 uses one per CPU.
	Workers int
}

// DefaultConfig returns the parameters used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		DiffusionTime:                    2,
		Lambda:                           0.05,
		Enhancement:                      CED,
		NoiseScale:                       1,
		FeatureScale:                     2,
		Exponent:                         2,
		Alpha:                            0.01,
		RatioToMaxStableTimeStep:         lineardiffusion.DefaultRatio,
		MaxTimeStepsBetweenTensorUpdates: 5,
		Adimensionize:                    true,
		Gradient:                         structuretensor.GaussianDerivative,
	}
}

// Transform returns the eigenvalue remap described by c.
func (c Config) Transform() EigenTransform {
	return EigenTransform{Mode: c.Enhancement, Lambda: c.Lambda, Exponent: c.Exponent, Alpha: c.Alpha}
}

// Validate reports the first invalid parameter, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"diffusion time", c.DiffusionTime},
		{"lambda", c.Lambda},
		{"noise scale", c.NoiseScale},
		{"feature scale", c.FeatureScale},
		{"exponent", c.Exponent},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 1) {
			return fmt.Errorf("%w: %s must be finite and positive, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return fmt.Errorf("%w: alpha must lie in ]0,1[, got %v", ErrInvalidConfig, c.Alpha)
	}
	if !(c.RatioToMaxStableTimeStep > 0 && c.RatioToMaxStableTimeStep <= 1) {
		return fmt.Errorf("%w: ratio to max stable time step must lie in ]0,1], got %v", ErrInvalidConfig, c.RatioToMaxStableTimeStep)
	}
	if c.MaxTimeStepsBetweenTensorUpdates <= 0 {
		return fmt.Errorf("%w: max time steps between tensor updates must be positive, got %d", ErrInvalidConfig, c.MaxTimeStepsBetweenTensorUpdates)
	}
	if !c.Enhancement.Valid() {
		return fmt.Errorf("%w: %w: %d", ErrInvalidConfig, ErrUnknownEnhancement, int(c.Enhancement))
	}
	if _, err := c.Gradient.MarshalText(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
