// forward.go - Vorwaertsprozess und Zeitschritt-Ziehung
//
// Dieses Modul enthaelt:
// - NoiseImages: x_t = sqrt(alpha_hat_t) * x + sqrt(1 - alpha_hat_t) * eps
// - SampleTimesteps: gleichverteilte Zeitschritte in [1, noise_steps)
package diffusion

import (
	"fmt"
	"math"

	"github.com/ollama/ddpm/ml"
)

// NoiseImages noises a clean batch x to the per-entry timesteps t in one
// shot. It returns the noisy batch and the exact noise that was added.
func (d *Diffusion) NoiseImages(x *ml.Tensor, t []int) (noisy, noise *ml.Tensor, err error) {
	if x.Device() != d.cfg.Device {
		return nil, nil, fmt.Errorf("noise images: %w: input on %s, engine on %s", ml.ErrDeviceMismatch, x.Device(), d.cfg.Device)
	}
	if err := d.checkShape("noise images", x); err != nil {
		return nil, nil, err
	}
	if len(t) != x.Batch() {
		return nil, nil, &ShapeError{Op: "noise images", Want: []int{x.Batch()}, Got: []int{len(t)}}
	}

	alphaHat, err := d.schedule.gather(t)
	if err != nil {
		return nil, nil, err
	}

	signal := make([]float64, len(alphaHat))
	spread := make([]float64, len(alphaHat))
	for i, a := range alphaHat {
		signal[i] = math.Sqrt(a)
		spread[i] = math.Sqrt(1 - a)
	}

	noise = ml.RandN(d.cfg.Device, d.noise, x.Shape()...)
	noisy, err = ml.Combine(signal, x, spread, noise)
	if err != nil {
		return nil, nil, fmt.Errorf("noise images: %w", err)
	}
	return noisy, noise, nil
}

// SampleTimesteps draws n timesteps uniformly from [1, noise_steps). It
// panics when that range is empty; training rejects such engines up front.
func (d *Diffusion) SampleTimesteps(n int) []int {
	steps := d.cfg.NoiseSteps
	if steps < 2 {
		panic(&TimestepError{T: 1, Steps: steps})
	}

	t := make([]int, n)
	for i := range t {
		t[i] = 1 + d.rng.IntN(steps-1)
	}
	return t
}
