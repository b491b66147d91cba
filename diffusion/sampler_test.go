package diffusion_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/scheduler"
)

// stubPredictor returns zero noise and records its mode on every call.
type stubPredictor struct {
	training bool
	calls    int
	modes    []bool
	failAt   int
	panicAt  int
	shape    []int
	nan      bool
}

func (p *stubPredictor) Predict(x *ml.Tensor, t []int) (*ml.Tensor, error) {
	p.calls++
	p.modes = append(p.modes, p.training)
	if p.calls == p.failAt {
		return nil, errors.New("predictor exploded")
	}
	if p.calls == p.panicAt {
		panic("predictor panicked")
	}
	if p.shape != nil {
		return ml.Zeros(x.Device(), p.shape...), nil
	}
	if p.nan {
		out := ml.Zeros(x.Device(), x.Shape()...)
		for i := range out.Floats() {
			out.Floats()[i] = math.NaN()
		}
		return out, nil
	}
	return ml.Zeros(x.Device(), x.Shape()...), nil
}

func (p *stubPredictor) SetTraining(training bool) { p.training = training }
func (p *stubPredictor) Training() bool            { return p.training }

func toyEngine(t *testing.T, opts ...diffusion.Option) *diffusion.Diffusion {
	t.Helper()
	d, err := diffusion.New(diffusion.Config{
		NoiseSteps: 10,
		BetaStart:  1e-4,
		BetaEnd:    0.02,
		ImageSize:  4,
		Channels:   1,
		Device:     ml.CPU,
	}, opts...)
	require.NoError(t, err)
	return d
}

func toyRule(t *testing.T, d *diffusion.Diffusion, name string) diffusion.UpdateRule {
	t.Helper()
	rule, err := scheduler.FromSchedule(name, d.Schedule(), scheduler.DefaultConfig())
	require.NoError(t, err)
	return rule
}

func TestSampleEndToEnd(t *testing.T) {
	d := toyEngine(t, diffusion.WithSeed(3))
	model := &stubPredictor{training: true}

	imgs, err := d.Sample(t.Context(), model, toyRule(t, d, scheduler.DDPM), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 4, 4}, imgs.Shape())
	assert.Len(t, imgs.Pix, 5*16)
	assert.Equal(t, 10, model.calls)

	all, err := imgs.All()
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 4, all[0].Bounds().Dy())
}

func TestZeroPredictorTrajectory(t *testing.T) {
	d := toyEngine(t, diffusion.WithNoiseSource(ml.ZeroNoise{}))
	rule := toyRule(t, d, scheduler.Ancestral)

	xT := ml.RandN(ml.CPU, ml.NewNoiseSource(11), 2, 1, 4, 4)
	traj, err := d.Trajectory(t.Context(), &stubPredictor{}, rule, 2, diffusion.WithInitialNoise(xT))
	require.NoError(t, err)
	require.Len(t, traj, 11)

	// with eps = 0 and z = 0 every step divides by sqrt(alpha_t)
	alpha := d.Schedule().Alpha()
	scale := 1.0
	for k, step := range rule.Timesteps() {
		scale /= math.Sqrt(alpha[step])
		want := xT.Scale(scale)
		assert.InDeltaSlice(t, want.Floats(), traj[k+1].Floats(), 1e-12, "step %d (t=%d)", k+1, step)
	}
	assert.Equal(t, xT.Floats(), traj[0].Floats())
}

func TestSampleRestoresMode(t *testing.T) {
	for _, training := range []bool{true, false} {
		d := toyEngine(t)
		model := &stubPredictor{training: training}

		_, err := d.Sample(t.Context(), model, toyRule(t, d, scheduler.DDPM), 2)
		require.NoError(t, err)
		assert.Equal(t, training, model.Training())
		for _, m := range model.modes {
			assert.False(t, m, "predictor must run in inference mode")
		}
	}
}

func TestSampleFailureRestoresMode(t *testing.T) {
	d := toyEngine(t)
	model := &stubPredictor{training: true, failAt: 3}

	_, err := d.Sample(t.Context(), model, toyRule(t, d, scheduler.DDPM), 2)
	require.Error(t, err)

	var sf *diffusion.SamplingFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, 2, sf.Step)
	assert.Equal(t, 7, sf.Timestep)
	assert.EqualError(t, sf.Err, "predictor exploded")

	assert.Equal(t, 3, model.calls, "no retry")
	assert.True(t, model.Training())
}

func TestSamplePanicRestoresMode(t *testing.T) {
	d := toyEngine(t)
	model := &stubPredictor{training: true, panicAt: 2}

	assert.Panics(t, func() {
		_, _ = d.Sample(t.Context(), model, toyRule(t, d, scheduler.DDPM), 2)
	})
	assert.True(t, model.Training())
}

func TestSampleCancel(t *testing.T) {
	d := toyEngine(t)
	model := &stubPredictor{training: true}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	_, err := d.Sample(ctx, model, toyRule(t, d, scheduler.DDPM), 2, diffusion.WithStepFunc(func(step, _ int, _ *ml.Tensor) {
		if step == 2 {
			cancel()
		}
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, model.calls)
	assert.True(t, model.Training())
}

func TestSampleValidation(t *testing.T) {
	d := toyEngine(t)

	_, err := d.Sample(t.Context(), &stubPredictor{}, toyRule(t, d, scheduler.DDPM), 0)
	assert.ErrorIs(t, err, diffusion.ErrConfiguration)

	// a rule built for 1000 training steps visits timesteps the engine does not have
	wide, err := scheduler.New(scheduler.DDPM, scheduler.DefaultConfig())
	require.NoError(t, err)
	_, err = d.Sample(t.Context(), &stubPredictor{}, wide, 1)
	assert.ErrorIs(t, err, diffusion.ErrTimestep)

	model := &stubPredictor{shape: []int{1, 1, 2, 2}}
	_, err = d.Sample(t.Context(), model, toyRule(t, d, scheduler.DDPM), 1)
	assert.ErrorIs(t, err, diffusion.ErrShape)
	var sf *diffusion.SamplingFailure
	assert.True(t, errors.As(err, &sf))

	_, err = d.Denoise(t.Context(), &stubPredictor{}, toyRule(t, d, scheduler.DDPM), 2, diffusion.WithInitialNoise(ml.Zeros(ml.CPU, 1, 1, 4, 4)))
	assert.ErrorIs(t, err, diffusion.ErrShape)

	for _, n := range []int{0, -1} {
		traj, err := d.Trajectory(t.Context(), &stubPredictor{}, toyRule(t, d, scheduler.DDPM), n)
		assert.ErrorIs(t, err, diffusion.ErrConfiguration, "n=%d", n)
		assert.Nil(t, traj)
	}
}

func TestSampleNaN(t *testing.T) {
	d := toyEngine(t)

	model := &stubPredictor{training: true, nan: true}
	imgs, err := d.Sample(t.Context(), model, toyRule(t, d, scheduler.Ancestral), 2)
	assert.ErrorIs(t, err, diffusion.ErrNonFinite)
	assert.Nil(t, imgs)
	assert.True(t, model.Training(), "mode restored")

	x, err := ml.FromFloats(ml.CPU, []float64{-2, 0, math.Inf(1), math.NaN()}, 1, 1, 2, 2)
	require.NoError(t, err)
	_, err = diffusion.ToImages(x)
	assert.ErrorIs(t, err, diffusion.ErrNonFinite)

	x, err = ml.FromFloats(ml.CPU, []float64{-2, 0, math.Inf(1), math.Inf(-1)}, 1, 1, 2, 2)
	require.NoError(t, err)
	im, err := diffusion.ToImages(x)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 127, 255, 0}, im.Pix)
}

func TestInferenceMode(t *testing.T) {
	model := &stubPredictor{training: true}
	restore := diffusion.InferenceMode(model)
	assert.False(t, model.Training())
	restore()
	assert.True(t, model.Training())
}
