// config.go - Scheduler-Konfiguration
//
// Dieses Modul enthaelt:
// - Config mit den Standardwerten des diffusers DDPMScheduler
// - Beta-Schedules: linear, scaled_linear, squaredcos_cap_v2
// - Zeitschritt-Abstaende ("leading")
package scheduler

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/ollama/ddpm/diffusion"
)

// Beta schedules.
const (
	BetaLinear       = "linear"
	BetaScaledLinear = "scaled_linear"
	BetaSquaredCos   = "squaredcos_cap_v2"
)

// Variance types for the ddpm rule.
const (
	VarianceFixedSmall = "fixed_small"
	VarianceFixedLarge = "fixed_large"
)

// Config holds the settings shared by all update rules.
type Config struct {
	NumTrainTimesteps int     `json:"num_train_timesteps"` // 1000
	BetaStart         float64 `json:"beta_start"`          // 0.0001
	BetaEnd           float64 `json:"beta_end"`            // 0.02
	BetaSchedule      string  `json:"beta_schedule"`       // linear
	ClipSample        bool    `json:"clip_sample"`         // true
	ClipSampleRange   float64 `json:"clip_sample_range"`   // 1.0
	VarianceType      string  `json:"variance_type"`       // fixed_small

	// NumInferenceSteps is the number of reverse steps. 0 visits every
	// training timestep.
	NumInferenceSteps int `json:"num_inference_steps"`

	// Eta scales the DDIM noise; 0 is fully deterministic.
	Eta float64 `json:"eta"`

	// SetAlphaToOne makes the final DDIM step use alpha_hat = 1 instead of
	// alpha_hat[0].
	SetAlphaToOne bool `json:"set_alpha_to_one"`
}

// DefaultConfig returns the diffusers DDPMScheduler defaults.
func DefaultConfig() Config {
	return Config{
		NumTrainTimesteps: 1000,
		BetaStart:         1e-4,
		BetaEnd:           0.02,
		BetaSchedule:      BetaLinear,
		ClipSample:        true,
		ClipSampleRange:   1.0,
		VarianceType:      VarianceFixedSmall,
		SetAlphaToOne:     true,
	}
}

// Validate reports the first invalid field as a *diffusion.ConfigurationError.
func (c Config) Validate() error {
	switch {
	case c.NumTrainTimesteps <= 0:
		return &diffusion.ConfigurationError{Field: "num_train_timesteps", Reason: fmt.Sprintf("must be positive, got %d", c.NumTrainTimesteps)}
	case c.NumInferenceSteps < 0 || c.NumInferenceSteps > c.NumTrainTimesteps:
		return &diffusion.ConfigurationError{Field: "num_inference_steps", Reason: fmt.Sprintf("must be in [0, %d], got %d", c.NumTrainTimesteps, c.NumInferenceSteps)}
	case c.ClipSample && c.ClipSampleRange <= 0:
		return &diffusion.ConfigurationError{Field: "clip_sample_range", Reason: fmt.Sprintf("must be positive, got %g", c.ClipSampleRange)}
	case c.Eta < 0:
		return &diffusion.ConfigurationError{Field: "eta", Reason: fmt.Sprintf("must not be negative, got %g", c.Eta)}
	}

	switch c.VarianceType {
	case "", VarianceFixedSmall, VarianceFixedLarge:
	default:
		return &diffusion.ConfigurationError{Field: "variance_type", Reason: fmt.Sprintf("unknown variance type %q", c.VarianceType)}
	}
	return nil
}

// Betas builds the beta sequence described by c.
func (c Config) Betas() ([]float64, error) {
	switch c.BetaSchedule {
	case "", BetaLinear:
		return diffusion.PrepareNoiseSchedule(c.NumTrainTimesteps, c.BetaStart, c.BetaEnd), nil
	case BetaScaledLinear:
		betas := diffusion.PrepareNoiseSchedule(c.NumTrainTimesteps, math.Sqrt(c.BetaStart), math.Sqrt(c.BetaEnd))
		floats.Mul(betas, betas)
		return betas, nil
	case BetaSquaredCos:
		return squaredCosBetas(c.NumTrainTimesteps, 0.999), nil
	default:
		return nil, &diffusion.ConfigurationError{Field: "beta_schedule", Reason: fmt.Sprintf("unknown beta schedule %q", c.BetaSchedule)}
	}
}

// squaredCosBetas discretises the cosine alpha_bar of Nichol & Dhariwal.
func squaredCosBetas(n int, maxBeta float64) []float64 {
	alphaBar := func(t float64) float64 {
		c := math.Cos((t + 0.008) / 1.008 * math.Pi / 2)
		return c * c
	}

	betas := make([]float64, n)
	for i := range betas {
		t1 := float64(i) / float64(n)
		t2 := float64(i+1) / float64(n)
		betas[i] = min(1-alphaBar(t2)/alphaBar(t1), maxBeta)
	}
	return betas
}

// leadingTimesteps spaces inference steps evenly from 0, returned in
// descending order: reverse(arange(0, inference) * train/inference).
func leadingTimesteps(train, inference int) []int {
	if inference == 0 {
		inference = train
	}
	ratio := train / inference

	ts := make([]int, inference)
	for i := range ts {
		ts[i] = i * ratio
	}
	slices.Reverse(ts)
	return ts
}
