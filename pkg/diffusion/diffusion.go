// Package diffusion runs anisotropic nonlinear diffusion: the diffusion
// tensors are recomputed from the structure tensor of the evolving image
// between short runs of the linear stepper.
package diffusion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"lbrdiffusion/pkg/lineardiffusion"
	"lbrdiffusion/pkg/raster"
	"lbrdiffusion/pkg/stencil"
	"lbrdiffusion/pkg/structuretensor"
)

// ProgressCallback receives the fraction of the run completed, in [0, 1].
type ProgressCallback func(fraction float64)

type options struct {
	logger   zerolog.Logger
	progress ProgressCallback
	workers  int
}

// Option configures Run and Linear.
type Option func(*options)

// WithLogger sends run diagnostics to logger. The default discards them.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProgress installs a progress sink.
func WithProgress(callback ProgressCallback) Option {
	return func(o *options) { o.progress = callback }
}

// WithWorkers overrides Config.Workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func newOptions(workers int, opts []Option) *options {
	o := &options{logger: zerolog.Nop(), workers: workers}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) report(fraction float64) {
	if o.progress != nil {
		o.progress(fraction)
	}
}

// CycleLog records one tensor update followed by a linear run.
type CycleLog struct {
	Cycle          int
	EffectiveTime  float64
	EffectiveSteps int
	TimeStep       float64
	RemainingTime  float64
	// NonConverged counts pixels whose stencil reduction hit the iteration budget.
	NonConverged  int
	RescaleFactor float64
}

// Result is the outcome of Run.
type Result struct {
	Image *raster.Image
	// Tensors is the diffusion tensor field of the last cycle, or nil if no
	// cycle ran.
	Tensors       *raster.TensorField
	Cycles        []CycleLog
	RequestedTime float64
	RemainingTime float64
}

// Run diffuses img for cfg.DiffusionTime. img is not modified. Cancellation
// is checked between cycles; a cancelled run returns the partial result
// together with ctx.Err().
func Run(ctx context.Context, img *raster.Image, cfg Config, opts ...Option) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	o := newOptions(cfg.Workers, opts)
	log := o.logger.With().Str("component", "diffusion").Logger()

	work := img.Clone()
	origSpacing := append([]float64(nil), img.Spacing...)
	if cfg.Adimensionize {
		floats.Scale(1/floats.Min(work.Spacing), work.Spacing)
	}

	estimator := &structuretensor.Estimator{
		NoiseScale:                 cfg.NoiseScale,
		FeatureScale:               cfg.FeatureScale,
		RescaleForUnitMaximumTrace: cfg.Adimensionize,
		Gradient:                   cfg.Gradient,
		Workers:                    o.workers,
	}
	transform := cfg.Transform()

	res := &Result{RequestedTime: cfg.DiffusionTime, RemainingTime: cfg.DiffusionTime}
	finish := func() *Result {
		copy(work.Spacing, origSpacing)
		if res.Tensors != nil {
			copy(res.Tensors.Spacing, origSpacing)
		}
		res.Image = work
		return res
	}

	log.Info().
		Ints("size", img.Size).
		Int("channels", img.Channels).
		Stringer("enhancement", cfg.Enhancement).
		Float64("time", cfg.DiffusionTime).
		Msg("nonlinear diffusion started")
	started := time.Now()

	for res.RemainingTime > 0 {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Float64("remaining", res.RemainingTime).Msg("nonlinear diffusion interrupted")
			return finish(), err
		}

		st, err := estimator.Estimate(work)
		if err != nil {
			return nil, err
		}
		tensors, err := DiffusionTensors(st.Tensors, transform, o.workers)
		if err != nil {
			return nil, err
		}
		field, err := stencil.Assemble(tensors, work.Spacing, work.Size, stencil.WithWorkers(o.workers))
		if err != nil {
			return nil, err
		}
		if field.NonConverged > 0 {
			log.Warn().Int("pixels", field.NonConverged).Msg("stencil reduction did not converge")
		}

		stepper := lineardiffusion.NewStepper(field)
		stepper.SetWorkers(o.workers)
		lr, err := stepper.Advance(work, res.RemainingTime, cfg.MaxTimeStepsBetweenTensorUpdates, cfg.RatioToMaxStableTimeStep)
		if err != nil {
			return nil, err
		}

		before := res.RemainingTime
		res.RemainingTime -= lr.EffectiveTime
		if res.RemainingTime < 0 {
			res.RemainingTime = 0
		}
		work = lr.Image
		res.Tensors = tensors
		entry := CycleLog{
			Cycle:          len(res.Cycles),
			EffectiveTime:  lr.EffectiveTime,
			EffectiveSteps: lr.EffectiveSteps,
			TimeStep:       lr.TimeStep,
			RemainingTime:  res.RemainingTime,
			NonConverged:   field.NonConverged,
			RescaleFactor:  st.RescaleFactor,
		}
		res.Cycles = append(res.Cycles, entry)
		log.Debug().
			Int("cycle", entry.Cycle).
			Float64("effective_time", entry.EffectiveTime).
			Int("steps", entry.EffectiveSteps).
			Float64("time_step", entry.TimeStep).
			Float64("remaining", entry.RemainingTime).
			Msg("cycle")
		o.report(1 - res.RemainingTime/cfg.DiffusionTime)

		if !(res.RemainingTime < before) {
			log.Warn().Float64("remaining", res.RemainingTime).Msg("linear diffusion made no progress")
			break
		}
	}

	log.Info().
		Int("cycles", len(res.Cycles)).
		Dur("elapsed", time.Since(started)).
		Msg("nonlinear diffusion finished")
	return finish(), nil
}

// Linear diffuses img for diffusionTime under the fixed tensor field tf,
// which must cover img's extent. Progress is reported as 0.5 once the
// stencils are assembled, then rises to 1 with the steps.
func Linear(img *raster.Image, tf *raster.TensorField, diffusionTime float64, maxSteps int, ratio float64, opts ...Option) (*lineardiffusion.Result, error) {
	o := newOptions(0, opts)
	log := o.logger.With().Str("component", "diffusion").Logger()

	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	field, err := stencil.Assemble(tf, img.Spacing, img.Size, stencil.WithWorkers(o.workers))
	if err != nil {
		return nil, err
	}
	if field.NonConverged > 0 {
		log.Warn().Int("pixels", field.NonConverged).Msg("stencil reduction did not converge")
	}
	o.report(0.5)

	stepper := lineardiffusion.NewStepper(field)
	stepper.SetWorkers(o.workers)
	stepper.SetProgressCallback(func(f float64) { o.report(0.5 + 0.5*f) })
	res, err := stepper.Advance(img, diffusionTime, maxSteps, ratio)
	if err != nil {
		return nil, err
	}
	if res.EffectiveSteps == 0 {
		o.report(1)
	}
	if res.UnderShoot() {
		log.Warn().
			Float64("requested", res.RequestedTime).
			Float64("effective", res.EffectiveTime).
			Msg("step budget reached before the requested time")
	}
	return res, nil
}
