package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
)

func smallDenoiser(t *testing.T, dropout float64) *Denoiser {
	t.Helper()
	m, err := NewDenoiser(DenoiserConfig{Channels: 1, ImageSize: 2, Hidden: 6, TimeDim: 4, Dropout: dropout, Seed: 5}, ml.CPU)
	require.NoError(t, err)
	return m
}

// objective is sum(pred * r), whose gradient with respect to pred is r.
func objective(t *testing.T, m *Denoiser, x *ml.Tensor, ts []int, r *ml.Tensor) float64 {
	t.Helper()
	pred, err := m.Predict(x, ts)
	require.NoError(t, err)
	return floats.Dot(pred.Floats(), r.Floats())
}

func TestDenoiserGradientCheck(t *testing.T) {
	m := smallDenoiser(t, 0)
	x := ml.RandN(ml.CPU, ml.NewNoiseSource(1), 3, 1, 2, 2)
	r := ml.RandN(ml.CPU, ml.NewNoiseSource(2), 3, 1, 2, 2)
	ts := []int{1, 40, 999}

	m.ZeroGrad()
	objective(t, m, x, ts, r)
	require.NoError(t, m.Backward(r))

	const h = 1e-6
	for _, p := range m.Parameters() {
		for _, i := range []int{0, p.Len() / 2, p.Len() - 1} {
			orig := p.Data[i]
			p.Data[i] = orig + h
			up := objective(t, m, x, ts, r)
			p.Data[i] = orig - h
			down := objective(t, m, x, ts, r)
			p.Data[i] = orig

			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, p.Grad[i], 1e-5*max(1, math.Abs(numeric)), "%s[%d]", p.Name, i)
		}
	}
}

func TestDenoiserShapes(t *testing.T) {
	m := smallDenoiser(t, 0.1)

	pred, err := m.Predict(ml.Zeros(ml.CPU, 4, 1, 2, 2), []int{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 2, 2}, pred.Shape())

	_, err = m.Predict(ml.Zeros(ml.CPU, 4, 3, 2, 2), []int{1, 2, 3, 4})
	assert.ErrorIs(t, err, diffusion.ErrShape)
	_, err = m.Predict(ml.Zeros(ml.CPU, 4, 1, 2, 2), []int{1})
	assert.ErrorIs(t, err, diffusion.ErrShape)

	assert.ErrorIs(t, m.Backward(ml.Zeros(ml.CPU, 2, 1, 2, 2)), diffusion.ErrShape)

	other := ml.Device{DeviceID: ml.DeviceID{Library: "cpu", ID: 1}}
	_, err = m.Predict(ml.Zeros(other, 1, 1, 2, 2), []int{1})
	assert.ErrorIs(t, err, ml.ErrDeviceMismatch)

	fresh := smallDenoiser(t, 0)
	assert.Error(t, fresh.Backward(ml.Zeros(ml.CPU, 1, 1, 2, 2)))
}

func TestDenoiserModes(t *testing.T) {
	m := smallDenoiser(t, 0.5)
	assert.True(t, m.Training())

	x := ml.RandN(ml.CPU, ml.NewNoiseSource(3), 2, 1, 2, 2)
	ts := []int{5, 6}

	m.SetTraining(false)
	a, err := m.Predict(x, ts)
	require.NoError(t, err)
	b, err := m.Predict(x, ts)
	require.NoError(t, err)
	assert.Equal(t, a.Floats(), b.Floats(), "evaluation is deterministic")

	m.SetTraining(true)
	c, err := m.Predict(x, ts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Floats(), c.Floats(), "dropout active in training")
}

func TestDenoiserConfigValidation(t *testing.T) {
	for _, cfg := range []DenoiserConfig{
		{Channels: 0, ImageSize: 2, Hidden: 4, TimeDim: 4},
		{Channels: 1, ImageSize: 2, Hidden: 4, TimeDim: 3},
		{Channels: 1, ImageSize: 2, Hidden: 4, TimeDim: 4, Dropout: 1},
	} {
		_, err := NewDenoiser(cfg, ml.CPU)
		assert.ErrorIs(t, err, diffusion.ErrConfiguration, "%+v", cfg)
	}
}

func TestDropout(t *testing.T) {
	d := NewDropout(0.5, ml.NewNoiseSource(1))
	x := mat.NewDense(10, 10, nil)
	for i := range 10 {
		for j := range 10 {
			x.Set(i, j, 1)
		}
	}

	assert.Same(t, x, d.Forward(x, false))

	y := d.Forward(x, true)
	zeros := 0
	for _, v := range y.RawMatrix().Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected dropout value %v", v)
		}
	}
	assert.Greater(t, zeros, 20)
	assert.Less(t, zeros, 80)
}

func TestTimestepEmbedding(t *testing.T) {
	emb := TimestepEmbedding([]int{0, 3}, 4)
	r, c := emb.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 4, c)

	assert.Equal(t, []float64{0, 0, 1, 1}, emb.RawRowView(0))
	row := emb.RawRowView(1)
	assert.InDelta(t, math.Sin(3), row[0], 1e-12)
	assert.InDelta(t, math.Sin(3*0.01), row[1], 1e-12)
	assert.InDelta(t, math.Cos(3), row[2], 1e-12)
}

func TestAdamW(t *testing.T) {
	p := NewParam("w", 2)
	p.Data[0], p.Data[1] = 1, -2
	p.Grad[0], p.Grad[1] = 0.5, -0.25

	opt := NewAdamW(0.1)
	opt.Step([]*Param{p})
	assert.Equal(t, 1, opt.Steps())

	// first step: m_hat = g, v_hat = g^2, so the update is lr * sign(g)
	assert.InDelta(t, 1*(1-0.1*0.01)-0.1, p.Data[0], 1e-7)
	assert.InDelta(t, -2*(1-0.1*0.01)+0.1, p.Data[1], 1e-7)

	// weight decay alone shrinks parameters without gradient
	q := NewParam("q", 1)
	q.Data[0] = 3
	opt.Step([]*Param{q})
	assert.InDelta(t, 3*(1-0.1*0.01), q.Data[0], 1e-12)
}

func TestAdamWMinimisesQuadratic(t *testing.T) {
	p := NewParam("x", 1)
	p.Data[0] = 5

	opt := NewAdamW(0.1)
	opt.WeightDecay = 0
	for range 500 {
		p.ZeroGrad()
		p.Grad[0] = 2 * (p.Data[0] - 1)
		opt.Step([]*Param{p})
	}
	assert.InDelta(t, 1, p.Data[0], 1e-2)
}
