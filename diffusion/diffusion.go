// Package diffusion implements the DDPM process engine: the linear noise
// schedule, the forward (noising) process, timestep sampling for training
// and the reverse (sampling) loop driven by a pluggable UpdateRule.
//
// The engine is read-only after construction. The only mutable state it
// owns is its random source, so an engine must not be shared between
// goroutines that draw noise concurrently.
package diffusion

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/ollama/ddpm/ml"
)

// Config describes the diffusion process and the samples it produces.
type Config struct {
	NoiseSteps int       `json:"noise_steps"`
	BetaStart  float64   `json:"beta_start"`
	BetaEnd    float64   `json:"beta_end"`
	ImageSize  int       `json:"image_size"`
	Channels   int       `json:"channels"`
	Device     ml.Device `json:"device"`
}

// DefaultConfig returns the standard DDPM settings for 64x64 grayscale images.
func DefaultConfig() Config {
	return Config{
		NoiseSteps: 1000,
		BetaStart:  1e-4,
		BetaEnd:    0.02,
		ImageSize:  64,
		Channels:   1,
		Device:     ml.CPU,
	}
}

// Validate reports the first invalid field as a *ConfigurationError.
func (c Config) Validate() error {
	switch {
	case c.NoiseSteps <= 0:
		return &ConfigurationError{Field: "noise_steps", Reason: fmt.Sprintf("must be positive, got %d", c.NoiseSteps)}
	case c.BetaStart <= 0 || c.BetaStart >= 1:
		return &ConfigurationError{Field: "beta_start", Reason: fmt.Sprintf("must be in (0, 1), got %g", c.BetaStart)}
	case c.BetaEnd <= 0 || c.BetaEnd >= 1:
		return &ConfigurationError{Field: "beta_end", Reason: fmt.Sprintf("must be in (0, 1), got %g", c.BetaEnd)}
	case c.BetaStart >= c.BetaEnd:
		return &ConfigurationError{Field: "beta_start", Reason: fmt.Sprintf("must be less than beta_end (%g >= %g)", c.BetaStart, c.BetaEnd)}
	case c.ImageSize <= 0:
		return &ConfigurationError{Field: "image_size", Reason: fmt.Sprintf("must be positive, got %d", c.ImageSize)}
	case c.Channels != 1 && c.Channels != 3:
		return &ConfigurationError{Field: "channels", Reason: fmt.Sprintf("must be 1 or 3, got %d", c.Channels)}
	}

	if _, ok := ml.DeviceInfos(c.Device); !c.Device.IsZero() && !ok {
		return &ConfigurationError{Field: "device", Reason: fmt.Sprintf("unknown device %q", c.Device)}
	}
	return nil
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("noise_steps", c.NoiseSteps),
		slog.Float64("beta_start", c.BetaStart),
		slog.Float64("beta_end", c.BetaEnd),
		slog.Int("image_size", c.ImageSize),
		slog.Int("channels", c.Channels),
		slog.String("device", c.Device.String()),
	)
}

// Option customises a Diffusion at construction.
type Option func(*Diffusion)

// WithSeed makes timestep and noise draws reproducible. Seed 0 keeps the
// time seeded default.
func WithSeed(seed uint64) Option {
	return func(d *Diffusion) {
		if seed == 0 {
			return
		}
		r := ml.NewNoiseSource(seed)
		d.rng = r
		d.noise = r
	}
}

// WithNoiseSource replaces the Gaussian source used for forward noise,
// initial samples and ancestral update noise.
func WithNoiseSource(src ml.NoiseSource) Option {
	return func(d *Diffusion) {
		d.noise = src
	}
}

// Diffusion is the process engine.
type Diffusion struct {
	cfg      Config
	schedule *Schedule

	rng   *rand.Rand
	noise ml.NoiseSource
}

// New validates cfg and precomputes the noise schedule.
func New(cfg Config, opts ...Option) (*Diffusion, error) {
	if cfg.Device.IsZero() {
		cfg.Device = ml.CPU
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := ml.NewNoiseSource(0)
	d := &Diffusion{
		cfg:      cfg,
		schedule: NewSchedule(PrepareNoiseSchedule(cfg.NoiseSteps, cfg.BetaStart, cfg.BetaEnd)),
		rng:      r,
		noise:    r,
	}
	for _, opt := range opts {
		opt(d)
	}

	slog.Debug("diffusion engine ready", "config", cfg)
	return d, nil
}

func (d *Diffusion) Config() Config        { return d.cfg }
func (d *Diffusion) NoiseSteps() int       { return d.cfg.NoiseSteps }
func (d *Diffusion) ImageSize() int        { return d.cfg.ImageSize }
func (d *Diffusion) Channels() int         { return d.cfg.Channels }
func (d *Diffusion) Device() ml.Device     { return d.cfg.Device }
func (d *Diffusion) Schedule() *Schedule   { return d.schedule }
func (d *Diffusion) Noise() ml.NoiseSource { return d.noise }

// SampleShape returns the [n, C, S, S] shape of n samples.
func (d *Diffusion) SampleShape(n int) []int {
	return []int{n, d.cfg.Channels, d.cfg.ImageSize, d.cfg.ImageSize}
}

func (d *Diffusion) checkShape(op string, x *ml.Tensor) error {
	want := d.SampleShape(x.Batch())
	got := x.Shape()
	if len(got) != 4 || got[1] != want[1] || got[2] != want[2] || got[3] != want[3] {
		return &ShapeError{Op: op, Want: want, Got: got}
	}
	return nil
}
