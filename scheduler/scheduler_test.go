package scheduler

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
)

type constNoise float64

func (c constNoise) NormFloat64() float64 { return float64(c) }

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.NumTrainTimesteps = 10
	return cfg
}

func randTensor(t *testing.T, seed uint64) *ml.Tensor {
	t.Helper()
	return ml.RandN(ml.CPU, ml.NewNoiseSource(seed), 2, 1, 3, 3)
}

func TestLeadingTimesteps(t *testing.T) {
	cases := []struct {
		train, inference int
		want             []int
	}{
		{10, 0, []int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
		{10, 5, []int{8, 6, 4, 2, 0}},
		{1000, 4, []int{750, 500, 250, 0}},
		{10, 3, []int{6, 3, 0}},
	}

	for _, tt := range cases {
		cfg := DefaultConfig()
		cfg.NumTrainTimesteps = tt.train
		cfg.NumInferenceSteps = tt.inference
		rule, err := New(DDPM, cfg)
		require.NoError(t, err)
		if diff := cmp.Diff(tt.want, rule.Timesteps()); diff != "" {
			t.Errorf("timesteps(%d, %d) mismatch (-want +got):\n%s", tt.train, tt.inference, diff)
		}
	}
}

func TestBetaSchedules(t *testing.T) {
	cfg := smallConfig()

	cfg.BetaSchedule = BetaScaledLinear
	betas, err := cfg.Betas()
	require.NoError(t, err)
	assert.InDelta(t, cfg.BetaStart, betas[0], 1e-12)
	assert.InDelta(t, cfg.BetaEnd, betas[len(betas)-1], 1e-12)

	cfg.BetaSchedule = BetaSquaredCos
	betas, err = cfg.Betas()
	require.NoError(t, err)
	require.Len(t, betas, 10)
	for i, b := range betas {
		assert.Greater(t, b, 0.0, "beta %d", i)
		assert.LessOrEqual(t, b, 0.999, "beta %d", i)
	}

	cfg.BetaSchedule = "quadratic"
	_, err = cfg.Betas()
	assert.ErrorIs(t, err, diffusion.ErrConfiguration)
}

func TestNewErrors(t *testing.T) {
	_, err := New("euler", smallConfig())
	assert.ErrorIs(t, err, diffusion.ErrConfiguration)

	cfg := smallConfig()
	cfg.NumInferenceSteps = 11
	_, err = New(DDPM, cfg)
	assert.ErrorIs(t, err, diffusion.ErrConfiguration)

	cfg = smallConfig()
	cfg.VarianceType = "learned"
	_, err = New(DDPM, cfg)
	assert.ErrorIs(t, err, diffusion.ErrConfiguration)
}

func TestStepErrors(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			rule, err := New(name, smallConfig())
			require.NoError(t, err)

			x := randTensor(t, 1)
			_, err = rule.Step(x, 10, x, ml.ZeroNoise{})
			assert.ErrorIs(t, err, diffusion.ErrTimestep)
			_, err = rule.Step(x, -1, x, ml.ZeroNoise{})
			assert.ErrorIs(t, err, diffusion.ErrTimestep)

			_, err = rule.Step(ml.Zeros(ml.CPU, 2, 1, 3, 2), 5, x, ml.ZeroNoise{})
			assert.ErrorIs(t, err, diffusion.ErrShape)

			other := ml.Zeros(ml.Device{DeviceID: ml.DeviceID{Library: "cpu", ID: 1}}, 2, 1, 3, 3)
			_, err = rule.Step(other, 5, x, ml.ZeroNoise{})
			assert.True(t, errors.Is(err, ml.ErrDeviceMismatch))
		})
	}
}

func TestAncestralMatchesClosedForm(t *testing.T) {
	cfg := smallConfig()
	rule, err := New(Ancestral, cfg)
	require.NoError(t, err)

	betas, err := cfg.Betas()
	require.NoError(t, err)
	sched := diffusion.NewSchedule(betas)
	alpha, alphaHat := sched.Alpha(), sched.AlphaHat()

	x := randTensor(t, 1)
	eps := randTensor(t, 2)

	for _, step := range []int{9, 4, 0} {
		got, err := rule.Step(eps, step, x, constNoise(0.5))
		require.NoError(t, err)

		want := make([]float64, x.Len())
		for i := range want {
			want[i] = 1 / math.Sqrt(alpha[step]) * (x.Floats()[i] - betas[step]/math.Sqrt(1-alphaHat[step])*eps.Floats()[i])
			if step > 0 {
				want[i] += math.Sqrt(betas[step]) * 0.5
			}
		}
		if diff := cmp.Diff(want, got.Floats(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("t=%d mismatch (-want +got):\n%s", step, diff)
		}
	}
}

func TestDDPMPosteriorMeanEqualsAncestral(t *testing.T) {
	cfg := smallConfig()
	cfg.ClipSample = false

	ddpm, err := New(DDPM, cfg)
	require.NoError(t, err)
	ancestral, err := New(Ancestral, cfg)
	require.NoError(t, err)

	x := randTensor(t, 3)
	eps := randTensor(t, 4)
	for _, step := range ddpm.Timesteps() {
		a, err := ddpm.Step(eps, step, x, ml.ZeroNoise{})
		require.NoError(t, err)
		b, err := ancestral.Step(eps, step, x, ml.ZeroNoise{})
		require.NoError(t, err)
		assert.InDeltaSlice(t, b.Floats(), a.Floats(), 1e-9, "t=%d", step)
	}
}

func TestDDPMVariance(t *testing.T) {
	cfg := smallConfig()
	cfg.ClipSample = false

	betas, err := cfg.Betas()
	require.NoError(t, err)
	alphaHat := diffusion.NewSchedule(betas).AlphaHat()

	x := randTensor(t, 5)
	eps := randTensor(t, 6)

	for _, variance := range []string{VarianceFixedSmall, VarianceFixedLarge} {
		cfg.VarianceType = variance
		rule, err := New(DDPM, cfg)
		require.NoError(t, err)

		const step = 5
		quiet, err := rule.Step(eps, step, x, ml.ZeroNoise{})
		require.NoError(t, err)
		noisy, err := rule.Step(eps, step, x, constNoise(1))
		require.NoError(t, err)

		beta := 1 - alphaHat[step]/alphaHat[step-1]
		want := beta
		if variance == VarianceFixedSmall {
			want = (1 - alphaHat[step-1]) / (1 - alphaHat[step]) * beta
		}
		for i := range quiet.Floats() {
			assert.InDelta(t, math.Sqrt(want), noisy.Floats()[i]-quiet.Floats()[i], 1e-12, variance)
		}

		// no noise on the last step
		last, err := rule.Step(eps, 0, x, constNoise(1))
		require.NoError(t, err)
		lastQuiet, err := rule.Step(eps, 0, x, ml.ZeroNoise{})
		require.NoError(t, err)
		assert.Equal(t, lastQuiet.Floats(), last.Floats())
	}
}

func TestDDPMClipsOriginal(t *testing.T) {
	cfg := smallConfig()
	rule, err := New(DDPM, cfg)
	require.NoError(t, err)

	// at t=0 with alpha_hat_prev = 1 the step returns the clipped x_0 estimate
	x, err := ml.FromFloats(ml.CPU, []float64{5, -5, 0.5, 0}, 1, 1, 2, 2)
	require.NoError(t, err)
	got, err := rule.Step(ml.Zeros(ml.CPU, 1, 1, 2, 2), 0, x, ml.ZeroNoise{})
	require.NoError(t, err)

	betas, _ := cfg.Betas()
	s := math.Sqrt(1 - betas[0])
	assert.InDeltaSlice(t, []float64{1, -1, 0.5 / s, 0}, got.Floats(), 1e-12)
}

func TestDDIMDeterministicRecoversTrajectory(t *testing.T) {
	cfg := smallConfig()
	cfg.ClipSample = false
	cfg.NumInferenceSteps = 5

	rule, err := New(DDIM, cfg)
	require.NoError(t, err)

	betas, err := cfg.Betas()
	require.NoError(t, err)
	alphaHat := diffusion.NewSchedule(betas).AlphaHat()

	x0 := randTensor(t, 7)
	eps := randTensor(t, 8)
	at := func(ah float64) *ml.Tensor {
		x, err := ml.Axpby(math.Sqrt(ah), x0, math.Sqrt(1-ah), eps)
		require.NoError(t, err)
		return x
	}

	// with the true noise DDIM moves exactly along q(x_t | x_0)
	for _, step := range rule.Timesteps() {
		got, err := rule.Step(eps, step, at(alphaHat[step]), constNoise(3))
		require.NoError(t, err)

		prev := 1.0
		if step-2 >= 0 {
			prev = alphaHat[step-2]
		}
		assert.InDeltaSlice(t, at(prev).Floats(), got.Floats(), 1e-9, "t=%d", step)
	}
}

func TestDDIMEta(t *testing.T) {
	cfg := smallConfig()
	cfg.Eta = 1
	rule, err := New(DDIM, cfg)
	require.NoError(t, err)

	x := randTensor(t, 9)
	eps := randTensor(t, 10)
	a, err := rule.Step(eps, 5, x, ml.ZeroNoise{})
	require.NoError(t, err)
	b, err := rule.Step(eps, 5, x, constNoise(1))
	require.NoError(t, err)
	assert.NotEqual(t, a.Floats(), b.Floats())
}

func TestFromScheduleUsesEngineSchedule(t *testing.T) {
	sched := diffusion.NewSchedule(diffusion.PrepareNoiseSchedule(20, 1e-4, 0.02))
	cfg := DefaultConfig()
	cfg.NumInferenceSteps = 4

	rule, err := FromSchedule(DDPM, sched, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{15, 10, 5, 0}, rule.Timesteps())

	_, err = rule.Step(randTensor(t, 1), 19, randTensor(t, 2), ml.ZeroNoise{})
	require.NoError(t, err)
	_, err = rule.Step(randTensor(t, 1), 20, randTensor(t, 2), ml.ZeroNoise{})
	assert.ErrorIs(t, err, diffusion.ErrTimestep)
}
