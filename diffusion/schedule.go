// schedule.go - Linearer Rausch-Schedule
//
// Dieses Modul enthaelt:
// - PrepareNoiseSchedule: beta linear von beta_start bis beta_end (beide inklusive)
// - Schedule: beta, alpha = 1-beta, alpha_hat = kumulatives Produkt von alpha
package diffusion

import (
	"slices"

	"gonum.org/v1/gonum/floats"
)

// PrepareNoiseSchedule returns noiseSteps betas spaced linearly from
// betaStart to betaEnd, both inclusive.
func PrepareNoiseSchedule(noiseSteps int, betaStart, betaEnd float64) []float64 {
	beta := make([]float64, noiseSteps)
	if noiseSteps == 1 {
		beta[0] = betaStart
		return beta
	}
	return floats.Span(beta, betaStart, betaEnd)
}

// Schedule holds the per-timestep noise coefficients. It is immutable after
// construction; accessors hand out copies.
type Schedule struct {
	beta     []float64
	alpha    []float64
	alphaHat []float64
}

// NewSchedule derives alpha and alpha_hat from a beta sequence.
func NewSchedule(beta []float64) *Schedule {
	alpha := make([]float64, len(beta))
	for i, b := range beta {
		alpha[i] = 1 - b
	}

	return &Schedule{
		beta:     slices.Clone(beta),
		alpha:    alpha,
		alphaHat: floats.CumProd(make([]float64, len(alpha)), alpha),
	}
}

// Steps returns the number of timesteps in the schedule.
func (s *Schedule) Steps() int { return len(s.beta) }

func (s *Schedule) Beta() []float64     { return slices.Clone(s.beta) }
func (s *Schedule) Alpha() []float64    { return slices.Clone(s.alpha) }
func (s *Schedule) AlphaHat() []float64 { return slices.Clone(s.alphaHat) }

// At returns beta, alpha and alpha_hat for timestep t.
func (s *Schedule) At(t int) (beta, alpha, alphaHat float64, err error) {
	if err := CheckTimestep(t, len(s.beta)); err != nil {
		return 0, 0, 0, err
	}
	return s.beta[t], s.alpha[t], s.alphaHat[t], nil
}

// gather returns alpha_hat[t[i]] for every batch entry.
func (s *Schedule) gather(t []int) ([]float64, error) {
	out := make([]float64, len(t))
	for i, ti := range t {
		if err := CheckTimestep(ti, len(s.alphaHat)); err != nil {
			return nil, err
		}
		out[i] = s.alphaHat[ti]
	}
	return out, nil
}
