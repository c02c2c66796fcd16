// Package lineardiffusion advances an image under a fixed anisotropic
// diffusion operator with explicit, maximum-principle-preserving time steps.
package lineardiffusion

import (
	"errors"
	"fmt"
	"math"

	"lbrdiffusion/internal/parallel"
	"lbrdiffusion/pkg/raster"
	"lbrdiffusion/pkg/stencil"
)

const (
	// DefaultRatio is the default fraction of the maximum stable time step.
	DefaultRatio = 0.7
	// DefaultMaxSteps is the default step budget of a single linear run.
	DefaultMaxSteps = 10
)

var (
	// ErrInvalidTime indicates a requested diffusion time that is not finite and positive.
	ErrInvalidTime = errors.New("lineardiffusion: diffusion time must be finite and positive")
	// ErrInvalidMaxSteps indicates a non-positive step budget.
	ErrInvalidMaxSteps = errors.New("lineardiffusion: max number of time steps must be positive")
	// ErrInvalidRatio indicates a ratio to the maximum stable time step outside ]0, 1].
	ErrInvalidRatio = errors.New("lineardiffusion: ratio to max stable time step must lie in ]0,1]")
	// ErrImageMismatch indicates an image whose extent differs from the stencil field.
	ErrImageMismatch = errors.New("lineardiffusion: image does not match stencil field")
)

// ProgressCallback receives the fraction of the run completed, in [0, 1].
type ProgressCallback func(fraction float64)

// Plan is the time stepping chosen for a requested diffusion time.
type Plan struct {
	TimeStep      float64
	Steps         int
	EffectiveTime float64
}

// MaxStableTimeStep returns 1/max(diagonal). Any step up to this value makes
// each update a convex combination of the previous values. A field with no
// diffusion at all yields +Inf.
func MaxStableTimeStep(f *stencil.Field) float64 {
	m := f.MaxDiagonal()
	if !(m > 0) {
		return math.Inf(1)
	}
	return 1 / m
}

// PlanSteps splits requested into steps of at most ratio*stepMax. When more
// than maxSteps would be needed, the run is cut at maxSteps full steps and the
// effective time falls short of the request.
func PlanSteps(stepMax, requested float64, maxSteps int, ratio float64) Plan {
	if math.IsInf(stepMax, 1) {
		return Plan{TimeStep: math.Inf(1), Steps: 0, EffectiveTime: requested}
	}
	delta := stepMax * ratio
	steps := math.Ceil(requested / delta)
	if steps > float64(maxSteps) {
		return Plan{TimeStep: delta, Steps: maxSteps, EffectiveTime: float64(maxSteps) * delta}
	}
	n := int(steps)
	if n < 1 {
		n = 1
	}
	return Plan{TimeStep: requested / float64(n), Steps: n, EffectiveTime: requested}
}

// Result is the outcome of a linear diffusion run.
type Result struct {
	Image          *raster.Image
	RequestedTime  float64
	EffectiveTime  float64
	EffectiveSteps int
	TimeStep       float64
}

// UnderShoot reports whether the step budget stopped the run early.
func (r *Result) UnderShoot() bool { return r.EffectiveTime < r.RequestedTime }

// Stepper runs explicit diffusion steps against one stencil field. The field
// is only read, so one Stepper may serve concurrent runs.
type Stepper struct {
	field    *stencil.Field
	workers  int
	progress ProgressCallback
}

// NewStepper creates a stepper for field.
func NewStepper(field *stencil.Field) *Stepper {
	return &Stepper{field: field}
}

// SetWorkers bounds the number of goroutines per step; <= 0 uses one per CPU.
func (s *Stepper) SetWorkers(n int) { s.workers = n }

// SetProgressCallback installs an optional progress sink, called after each step.
func (s *Stepper) SetProgressCallback(callback ProgressCallback) { s.progress = callback }

// Advance diffuses img for requestedTime, taking at most maxSteps steps of at
// most ratio times the maximum stable step. img is left untouched; the
// advanced image is returned in the result.
func (s *Stepper) Advance(img *raster.Image, requestedTime float64, maxSteps int, ratio float64) (*Result, error) {
	if !(requestedTime > 0) || math.IsInf(requestedTime, 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTime, requestedTime)
	}
	if maxSteps <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxSteps, maxSteps)
	}
	if !(ratio > 0 && ratio <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	if err := s.checkImage(img); err != nil {
		return nil, err
	}

	plan := PlanSteps(MaxStableTimeStep(s.field), requestedTime, maxSteps, ratio)

	prev := img.Clone()
	next := img.NewLike()
	for k := 0; k < plan.Steps; k++ {
		s.step(next, prev, plan.TimeStep)
		prev, next = next, prev
		// Fraction of the stepping alone; diffusion.Linear maps it onto 0.5..1.
		if s.progress != nil {
			s.progress(float64(k+1) / float64(plan.Steps))
		}
	}

	return &Result{
		Image:          prev,
		RequestedTime:  requestedTime,
		EffectiveTime:  plan.EffectiveTime,
		EffectiveSteps: plan.Steps,
		TimeStep:       plan.TimeStep,
	}, nil
}

// Advance is a one-shot Stepper run.
func Advance(img *raster.Image, field *stencil.Field, requestedTime float64, maxSteps int, ratio float64) (*Result, error) {
	return NewStepper(field).Advance(img, requestedTime, maxSteps, ratio)
}

// Step writes one explicit update of src with time step delta into dst:
//
//	dst[p] = delta * Σ_q w_pq src[q] + (1 - delta*diag[p]) * src[p]
//
// No bound is enforced on delta; beyond MaxStableTimeStep the update stops
// being a convex combination.
func Step(dst, src *raster.Image, field *stencil.Field, delta float64, workers int) error {
	s := &Stepper{field: field, workers: workers}
	if err := s.checkImage(src); err != nil {
		return err
	}
	if err := s.checkImage(dst); err != nil {
		return err
	}
	if dst.Channels != src.Channels {
		return fmt.Errorf("%w: %d channels into %d", ErrImageMismatch, src.Channels, dst.Channels)
	}
	s.step(dst, src, delta)
	return nil
}

func (s *Stepper) step(dst, src *raster.Image, delta float64) {
	k := src.Channels
	in, out := src.Pix, dst.Pix
	diag := s.field.Diagonal
	parallel.Each(s.workers, s.field.Len(), func(start, end int) {
		acc := make([]float64, k)
		for p := start; p < end; p++ {
			for c := range acc {
				acc[c] = 0
			}
			for _, e := range s.field.Row(p) {
				base := e.Index * k
				for c := 0; c < k; c++ {
					acc[c] += e.Weight * in[base+c]
				}
			}
			keep := 1 - delta*diag[p]
			for c := 0; c < k; c++ {
				out[p*k+c] = delta*acc[c] + keep*in[p*k+c]
			}
		}
	})
}

func (s *Stepper) checkImage(img *raster.Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrImageMismatch, err)
	}
	if len(img.Size) != len(s.field.Size) {
		return fmt.Errorf("%w: image %v, field %v", ErrImageMismatch, img.Size, s.field.Size)
	}
	for i := range img.Size {
		if img.Size[i] != s.field.Size[i] {
			return fmt.Errorf("%w: image %v, field %v", ErrImageMismatch, img.Size, s.field.Size)
		}
	}
	return nil
}
