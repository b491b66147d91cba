package nn

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
)

// DenoiserConfig sizes the reference noise predictor.
type DenoiserConfig struct {
	Channels  int     `json:"channels"`
	ImageSize int     `json:"image_size"`
	Hidden    int     `json:"hidden"`
	TimeDim   int     `json:"time_dim"`
	Dropout   float64 `json:"dropout"`
	Seed      uint64  `json:"seed"`
}

// DefaultDenoiserConfig matches a diffusion engine's channels and image size.
func DefaultDenoiserConfig(channels, imageSize int) DenoiserConfig {
	return DenoiserConfig{
		Channels:  channels,
		ImageSize: imageSize,
		Hidden:    256,
		TimeDim:   32,
		Dropout:   0.01,
	}
}

func (c DenoiserConfig) inputDim() int { return c.Channels * c.ImageSize * c.ImageSize }

func (c DenoiserConfig) validate() error {
	switch {
	case c.Channels <= 0:
		return &diffusion.ConfigurationError{Field: "channels", Reason: "must be positive"}
	case c.ImageSize <= 0:
		return &diffusion.ConfigurationError{Field: "image_size", Reason: "must be positive"}
	case c.Hidden <= 0:
		return &diffusion.ConfigurationError{Field: "hidden", Reason: "must be positive"}
	case c.TimeDim <= 0 || c.TimeDim%2 != 0:
		return &diffusion.ConfigurationError{Field: "time_dim", Reason: fmt.Sprintf("must be positive and even, got %d", c.TimeDim)}
	case c.Dropout < 0 || c.Dropout >= 1:
		return &diffusion.ConfigurationError{Field: "dropout", Reason: fmt.Sprintf("must be in [0, 1), got %g", c.Dropout)}
	}
	return nil
}

// Denoiser is an MLP noise predictor. The flattened image is concatenated
// with the timestep embedding and passed through
// Linear, SiLU, Dropout, Linear, SiLU, Linear.
type Denoiser struct {
	cfg    DenoiserConfig
	device ml.Device

	in, hidden, out *Linear
	act1, act2      SiLU
	drop            *Dropout

	training bool
	shape    []int
}

// NewDenoiser builds a Denoiser in training mode.
func NewDenoiser(cfg DenoiserConfig, device ml.Device) (*Denoiser, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := ml.NewNoiseSource(cfg.Seed)
	d := cfg.inputDim()
	m := &Denoiser{
		cfg:      cfg,
		device:   device,
		in:       NewLinear("in", d+cfg.TimeDim, cfg.Hidden, rng),
		hidden:   NewLinear("hidden", cfg.Hidden, cfg.Hidden, rng),
		out:      NewLinear("out", cfg.Hidden, d, rng),
		drop:     NewDropout(cfg.Dropout, rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))),
		training: true,
	}

	slog.Debug("denoiser", "input", d, "hidden", cfg.Hidden, "time_dim", cfg.TimeDim, "parameters", m.NumParameters())
	return m, nil
}

func (m *Denoiser) Config() DenoiserConfig { return m.cfg }

func (m *Denoiser) SetTraining(training bool) { m.training = training }
func (m *Denoiser) Training() bool            { return m.training }

// Predict estimates the noise in x, a [B, C, S, S] batch, at timesteps t.
func (m *Denoiser) Predict(x *ml.Tensor, t []int) (*ml.Tensor, error) {
	if x.Device() != m.device {
		return nil, fmt.Errorf("denoiser: %w: input on %s, model on %s", ml.ErrDeviceMismatch, x.Device(), m.device)
	}
	want := []int{x.Batch(), m.cfg.Channels, m.cfg.ImageSize, m.cfg.ImageSize}
	if !slices.Equal(x.Shape(), want) || x.Batch() == 0 {
		return nil, &diffusion.ShapeError{Op: "denoiser", Want: want, Got: x.Shape()}
	}
	if len(t) != x.Batch() {
		return nil, &diffusion.ShapeError{Op: "denoiser timesteps", Want: []int{x.Batch()}, Got: []int{len(t)}}
	}

	b, d := x.Batch(), m.cfg.inputDim()
	emb := TimestepEmbedding(t, m.cfg.TimeDim)

	h := mat.NewDense(b, d+m.cfg.TimeDim, nil)
	for i := range b {
		row := h.RawRowView(i)
		copy(row, x.Row(i))
		copy(row[d:], emb.RawRowView(i))
	}

	h = m.in.Forward(h)
	h = m.act1.Forward(h)
	h = m.drop.Forward(h, m.training)
	h = m.hidden.Forward(h)
	h = m.act2.Forward(h)
	h = m.out.Forward(h)

	m.shape = x.Shape()
	return ml.FromFloats(m.device, h.RawMatrix().Data, m.shape...)
}

// Backward propagates dL/dprediction for the last Predict call and
// accumulates parameter gradients.
func (m *Denoiser) Backward(grad *ml.Tensor) error {
	if m.shape == nil {
		return errNoForward
	}
	if !slices.Equal(grad.Shape(), m.shape) {
		return &diffusion.ShapeError{Op: "denoiser backward", Want: m.shape, Got: grad.Shape()}
	}

	b := grad.Batch()
	g := mat.NewDense(b, grad.RowLen(), grad.Floats())

	var err error
	if g, err = m.out.Backward(g); err != nil {
		return err
	}
	if g, err = m.act2.Backward(g); err != nil {
		return err
	}
	if g, err = m.hidden.Backward(g); err != nil {
		return err
	}
	g = m.drop.Backward(g)
	if g, err = m.act1.Backward(g); err != nil {
		return err
	}
	_, err = m.in.Backward(g)
	return err
}

// Parameters lists the trainable tensors in a stable order.
func (m *Denoiser) Parameters() []*Param {
	return slices.Concat(m.in.Parameters(), m.hidden.Parameters(), m.out.Parameters())
}

func (m *Denoiser) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Len()
	}
	return n
}

func (m *Denoiser) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}
