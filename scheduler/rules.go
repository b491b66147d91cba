package scheduler

import (
	"math"

	"github.com/ollama/ddpm/ml"
)

// DDPMRule is the diffusers DDPMScheduler step for epsilon prediction.
type DDPMRule struct {
	base
}

// Step estimates x_0, forms the posterior mean of q(x_{t-1} | x_t, x_0) and
// adds posterior noise for t > 0.
func (r *DDPMRule) Step(pred *ml.Tensor, t int, sample *ml.Tensor, noise ml.NoiseSource) (*ml.Tensor, error) {
	if err := r.check(pred, t, sample); err != nil {
		return nil, err
	}

	_, alphaHatT, alphaHatPrev := r.coefficients(t, 1)
	betaProdT := 1 - alphaHatT
	betaProdPrev := 1 - alphaHatPrev
	alphaT := alphaHatT / alphaHatPrev
	betaT := 1 - alphaT

	x0, err := r.predictOriginal(pred, sample, alphaHatT)
	if err != nil {
		return nil, err
	}

	x0Coeff := math.Sqrt(alphaHatPrev) * betaT / betaProdT
	sampleCoeff := math.Sqrt(alphaT) * betaProdPrev / betaProdT
	prev, err := ml.Axpby(x0Coeff, x0, sampleCoeff, sample)
	if err != nil {
		return nil, err
	}

	if t == 0 {
		return prev, nil
	}

	variance := betaT
	if r.cfg.VarianceType != VarianceFixedLarge {
		variance = max(betaProdPrev/betaProdT*betaT, 1e-20)
	}
	return addNoise(prev, math.Sqrt(variance), noise)
}

// AncestralRule is the sampler of Ho et al.:
//
//	x_{t-1} = 1/sqrt(a_t) * (x_t - b_t/sqrt(1-ah_t) * eps) + sqrt(b_t) * z
//
// With a reduced number of inference steps a_t and b_t span the whole
// stride between two visited timesteps.
type AncestralRule struct {
	base
}

func (r *AncestralRule) Step(pred *ml.Tensor, t int, sample *ml.Tensor, noise ml.NoiseSource) (*ml.Tensor, error) {
	if err := r.check(pred, t, sample); err != nil {
		return nil, err
	}

	_, alphaHatT, alphaHatPrev := r.coefficients(t, 1)
	alphaT := alphaHatT / alphaHatPrev
	betaT := 1 - alphaT

	s := 1 / math.Sqrt(alphaT)
	prev, err := ml.Axpby(s, sample, -s*betaT/math.Sqrt(1-alphaHatT), pred)
	if err != nil {
		return nil, err
	}

	if t == 0 {
		return prev, nil
	}
	return addNoise(prev, math.Sqrt(betaT), noise)
}

// DDIMRule is the DDIM step. With Eta = 0 it is deterministic.
type DDIMRule struct {
	base
}

func (r *DDIMRule) Step(pred *ml.Tensor, t int, sample *ml.Tensor, noise ml.NoiseSource) (*ml.Tensor, error) {
	if err := r.check(pred, t, sample); err != nil {
		return nil, err
	}

	final := r.alphaHat[0]
	if r.cfg.SetAlphaToOne {
		final = 1
	}
	_, alphaHatT, alphaHatPrev := r.coefficients(t, final)

	x0, err := r.predictOriginal(pred, sample, alphaHatT)
	if err != nil {
		return nil, err
	}

	variance := (1 - alphaHatPrev) / (1 - alphaHatT) * (1 - alphaHatT/alphaHatPrev)
	std := r.cfg.Eta * math.Sqrt(variance)

	direction := math.Sqrt(max(1-alphaHatPrev-std*std, 0))
	prev, err := ml.Axpby(math.Sqrt(alphaHatPrev), x0, direction, pred)
	if err != nil {
		return nil, err
	}
	return addNoise(prev, std, noise)
}
