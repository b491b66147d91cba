// Package scheduler provides the update rules that turn a predicted noise
// tensor into the previous sample of the reverse process.
//
// Three rules are available:
//
//   - ddpm: the posterior step of the diffusers DDPMScheduler
//   - ancestral: the closed form sampler of Ho et al.
//   - ddim: the DDIM step with optional eta noise
package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
)

// Rule names accepted by New and FromSchedule.
const (
	DDPM      = "ddpm"
	Ancestral = "ancestral"
	DDIM      = "ddim"
)

// Names lists the available update rules.
func Names() []string {
	return []string{DDPM, Ancestral, DDIM}
}

// New builds the named update rule with its own beta schedule.
func New(name string, cfg Config) (diffusion.UpdateRule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	betas, err := cfg.Betas()
	if err != nil {
		return nil, err
	}
	return build(name, diffusion.NewSchedule(betas), cfg)
}

// FromSchedule builds the named update rule on top of an existing engine
// schedule. cfg.NumTrainTimesteps is taken from sched.
func FromSchedule(name string, sched *diffusion.Schedule, cfg Config) (diffusion.UpdateRule, error) {
	cfg.NumTrainTimesteps = sched.Steps()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(name, sched, cfg)
}

func build(name string, sched *diffusion.Schedule, cfg Config) (diffusion.UpdateRule, error) {
	b := newBase(sched, cfg)
	slog.Debug("scheduler", "rule", name, "train_steps", cfg.NumTrainTimesteps, "inference_steps", len(b.timesteps))

	switch strings.ToLower(name) {
	case DDPM, "":
		return &DDPMRule{base: b}, nil
	case Ancestral:
		return &AncestralRule{base: b}, nil
	case DDIM:
		return &DDIMRule{base: b}, nil
	default:
		return nil, &diffusion.ConfigurationError{Field: "scheduler", Reason: fmt.Sprintf("unknown scheduler %q (available: %s)", name, strings.Join(Names(), ", "))}
	}
}

// base carries the schedule views every rule needs.
type base struct {
	cfg       Config
	alphaHat  []float64
	timesteps []int
	stride    int
}

func newBase(sched *diffusion.Schedule, cfg Config) base {
	ts := leadingTimesteps(cfg.NumTrainTimesteps, cfg.NumInferenceSteps)
	return base{
		cfg:       cfg,
		alphaHat:  sched.AlphaHat(),
		timesteps: ts,
		stride:    cfg.NumTrainTimesteps / len(ts),
	}
}

// Timesteps returns the descending timesteps visited by the reverse loop.
func (b *base) Timesteps() []int { return slices.Clone(b.timesteps) }

func (b *base) check(pred *ml.Tensor, t int, sample *ml.Tensor) error {
	if err := diffusion.CheckTimestep(t, len(b.alphaHat)); err != nil {
		return err
	}
	if !pred.SameShape(sample) {
		return &diffusion.ShapeError{Op: "scheduler step", Want: sample.Shape(), Got: pred.Shape()}
	}
	return nil
}

// coefficients returns alpha_hat at t and at the previous visited timestep.
// final is used when the previous timestep falls below zero.
func (b *base) coefficients(t int, final float64) (prev int, alphaHatT, alphaHatPrev float64) {
	prev = t - b.stride
	alphaHatT = b.alphaHat[t]
	alphaHatPrev = final
	if prev >= 0 {
		alphaHatPrev = b.alphaHat[prev]
	}
	return prev, alphaHatT, alphaHatPrev
}

// predictOriginal estimates x_0 from x_t and the predicted noise, clipped
// to the configured range.
func (b *base) predictOriginal(pred *ml.Tensor, sample *ml.Tensor, alphaHatT float64) (*ml.Tensor, error) {
	s := math.Sqrt(alphaHatT)
	x0, err := ml.Axpby(1/s, sample, -math.Sqrt(1-alphaHatT)/s, pred)
	if err != nil {
		return nil, err
	}
	if b.cfg.ClipSample {
		x0 = x0.Clamp(-b.cfg.ClipSampleRange, b.cfg.ClipSampleRange)
	}
	return x0, nil
}

// addNoise returns x + std*z for fresh z drawn from noise.
func addNoise(x *ml.Tensor, std float64, noise ml.NoiseSource) (*ml.Tensor, error) {
	if std == 0 {
		return x, nil
	}
	z := ml.RandN(x.Device(), noise, x.Shape()...)
	return ml.Axpby(1, x, std, z)
}
