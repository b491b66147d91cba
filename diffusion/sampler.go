// sampler.go - Rueckwaertsprozess (Sampling)
//
// Dieses Modul enthaelt:
// - Predictor / UpdateRule: Schnittstellen zu Netz und Scheduler
// - Denoise: iteriert x_T -> x_0 ueber die Zeitschritte der UpdateRule
// - Sample: Denoise plus Nachbearbeitung zu 8-Bit-Bildern
//
// HINWEISE:
// - Der Praediktor laeuft waehrend des Samplings im Inferenzmodus; der
//   vorherige Modus wird auf jedem Rueckweg wiederhergestellt.
// - Zwischen zwei Zeitschritten wird ctx auf Abbruch geprueft.
package diffusion

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/ollama/ddpm/logutil"
	"github.com/ollama/ddpm/ml"
)

// Predictor estimates the noise contained in x at timesteps t. The result
// must have the same shape as x.
type Predictor interface {
	Predict(x *ml.Tensor, t []int) (*ml.Tensor, error)

	// SetTraining switches between training and evaluation behaviour
	// (dropout and similar).
	SetTraining(training bool)
	Training() bool
}

// UpdateRule maps (predicted noise, t, x_t) to x_{t-1}.
type UpdateRule interface {
	// Timesteps lists the timesteps the reverse loop visits, descending.
	Timesteps() []int

	// Step computes the previous sample. noise supplies any fresh Gaussian
	// draws the rule needs.
	Step(predictedNoise *ml.Tensor, t int, sample *ml.Tensor, noise ml.NoiseSource) (*ml.Tensor, error)
}

// StepFunc observes the sample after each reverse step. step counts from 1.
type StepFunc func(step, t int, x *ml.Tensor)

type sampleOptions struct {
	init   *ml.Tensor
	onStep StepFunc
}

// SampleOption customises a single Denoise or Sample call.
type SampleOption func(*sampleOptions)

// WithStepFunc registers an observer called after every reverse step.
func WithStepFunc(fn StepFunc) SampleOption {
	return func(o *sampleOptions) { o.onStep = fn }
}

// WithInitialNoise starts the reverse loop from x instead of fresh noise.
// x is not modified.
func WithInitialNoise(x *ml.Tensor) SampleOption {
	return func(o *sampleOptions) { o.init = x }
}

// Denoise runs the reverse process for n samples and returns the raw x_0.
func (d *Diffusion) Denoise(ctx context.Context, model Predictor, rule UpdateRule, n int, opts ...SampleOption) (*ml.Tensor, error) {
	var o sampleOptions
	for _, opt := range opts {
		opt(&o)
	}

	if n <= 0 {
		return nil, &ConfigurationError{Field: "n", Reason: "must be positive"}
	}

	timesteps := rule.Timesteps()
	for _, t := range timesteps {
		if err := CheckTimestep(t, d.cfg.NoiseSteps); err != nil {
			return nil, err
		}
	}

	x := o.init
	if x == nil {
		x = ml.RandN(d.cfg.Device, d.noise, d.SampleShape(n)...)
	} else {
		if x.Device() != d.cfg.Device {
			return nil, ml.ErrDeviceMismatch
		}
		if x.Batch() != n {
			return nil, &ShapeError{Op: "denoise", Want: d.SampleShape(n), Got: x.Shape()}
		}
		if err := d.checkShape("denoise", x); err != nil {
			return nil, err
		}
	}

	restore := InferenceMode(model)
	defer restore()

	start := time.Now()
	stepStart := start
	ts := make([]int, n)
	for i, t := range timesteps {
		select {
		case <-ctx.Done():
			return nil, &SamplingFailure{Step: i, Timestep: t, Err: ctx.Err()}
		default:
		}

		for j := range ts {
			ts[j] = t
		}

		eps, err := model.Predict(x, ts)
		if err != nil {
			return nil, &SamplingFailure{Step: i, Timestep: t, Err: err}
		}
		if !eps.SameShape(x) {
			return nil, &SamplingFailure{Step: i, Timestep: t, Err: &ShapeError{Op: "predict", Want: x.Shape(), Got: eps.Shape()}}
		}

		x, err = rule.Step(eps, t, x, d.noise)
		if err != nil {
			return nil, &SamplingFailure{Step: i, Timestep: t, Err: err}
		}

		slog.Debug("denoise", "step", i+1, "total", len(timesteps), "t", t, "elapsed", time.Since(stepStart))
		logutil.Trace("denoise sample", "t", t, "x", x)
		stepStart = time.Now()

		if o.onStep != nil {
			o.onStep(i+1, t, x)
		}
	}

	if len(timesteps) > 0 {
		elapsed := time.Since(start)
		slog.Info("denoised", "samples", n, "steps", len(timesteps), "elapsed", elapsed, "per_step", elapsed/time.Duration(len(timesteps)))
	}
	return x, nil
}

// Sample generates n images: Denoise followed by clamping to [-1, 1] and
// mapping to 8-bit intensities.
func (d *Diffusion) Sample(ctx context.Context, model Predictor, rule UpdateRule, n int, opts ...SampleOption) (*Images, error) {
	x, err := d.Denoise(ctx, model, rule, n, opts...)
	if err != nil {
		return nil, err
	}
	return ToImages(x)
}

// Trajectory runs Denoise and returns every intermediate sample, x_T first.
func (d *Diffusion) Trajectory(ctx context.Context, model Predictor, rule UpdateRule, n int, opts ...SampleOption) ([]*ml.Tensor, error) {
	if n <= 0 {
		return nil, &ConfigurationError{Field: "n", Reason: "must be positive"}
	}

	var traj []*ml.Tensor
	record := func(_, _ int, x *ml.Tensor) { traj = append(traj, x.Clone()) }

	var o sampleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.init == nil {
		o.init = ml.RandN(d.cfg.Device, d.noise, d.SampleShape(n)...)
	}
	traj = append(traj, o.init.Clone())

	opts = append(slices.Clone(opts), WithInitialNoise(o.init), WithStepFunc(func(step, t int, x *ml.Tensor) {
		record(step, t, x)
		if o.onStep != nil {
			o.onStep(step, t, x)
		}
	}))
	if _, err := d.Denoise(ctx, model, rule, n, opts...); err != nil {
		return nil, err
	}
	return traj, nil
}
