// Package train runs the DDPM training loop: noise a batch at random
// timesteps, regress the predicted noise onto the true noise and
// periodically sample images and checkpoint the model.
package train

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ollama/ddpm/dataset"
	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/nn"
	"github.com/ollama/ddpm/scheduler"
)

// DataSource yields the mini-batches of one epoch.
type DataSource interface {
	Batches(ctx context.Context) iter.Seq2[dataset.Batch, error]
	Len() int
}

// Model is a trainable noise predictor.
type Model interface {
	diffusion.Predictor
	Parameters() []*nn.Param
	ZeroGrad()
	Backward(grad *ml.Tensor) error
}

type Optimizer interface {
	Step(params []*nn.Param)
}

// Checkpointer persists model parameters under name.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, name string, model Model, meta map[string]string) error
}

// ImageSink persists a batch of sampled images under name.
type ImageSink interface {
	SaveImages(ctx context.Context, name string, imgs *diffusion.Images) error
}

type Metrics interface {
	AddScalar(tag string, value float64, step int) error
}

// Config controls the loop. The JSON form is stored with each run.
type Config struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	RunName      string  `json:"run_name"`

	// Images are sampled and a checkpoint written on every epoch with
	// epoch > SampleAfter and epoch % SampleEvery == 0, plus the last epoch
	// when SampleFinal is set.
	SampleEvery int  `json:"sample_every"`
	SampleAfter int  `json:"sample_after"`
	SampleFinal bool `json:"sample_final"`

	// SampleCount is the number of images per sample grid. 0 uses the
	// size of the last batch.
	SampleCount int `json:"sample_count"`

	// Scheduler names the update rule used for sampling.
	Scheduler string `json:"scheduler"`

	// SkipFailedBatches logs a failed optimisation step and continues with
	// the next batch instead of aborting the run.
	SkipFailedBatches bool `json:"skip_failed_batches"`
}

func DefaultConfig() Config {
	return Config{
		Epochs:       10000,
		BatchSize:    5,
		LearningRate: 1e-4,
		RunName:      "DDPM_Unconditional",
		SampleEvery:  50,
		Scheduler:    scheduler.DDPM,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return &diffusion.ConfigurationError{Field: "epochs", Reason: fmt.Sprintf("must be positive, got %d", c.Epochs)}
	case c.BatchSize <= 0:
		return &diffusion.ConfigurationError{Field: "batch_size", Reason: fmt.Sprintf("must be positive, got %d", c.BatchSize)}
	case c.LearningRate <= 0 || math.IsNaN(c.LearningRate):
		return &diffusion.ConfigurationError{Field: "learning_rate", Reason: fmt.Sprintf("must be positive, got %g", c.LearningRate)}
	case c.SampleEvery <= 0:
		return &diffusion.ConfigurationError{Field: "sample_every", Reason: fmt.Sprintf("must be positive, got %d", c.SampleEvery)}
	case c.SampleAfter < 0:
		return &diffusion.ConfigurationError{Field: "sample_after", Reason: fmt.Sprintf("must not be negative, got %d", c.SampleAfter)}
	case c.SampleCount < 0:
		return &diffusion.ConfigurationError{Field: "sample_count", Reason: fmt.Sprintf("must not be negative, got %d", c.SampleCount)}
	}
	return nil
}

// ShouldSample reports whether epoch (0 based) produces samples and a
// checkpoint.
func (c Config) ShouldSample(epoch int) bool {
	if epoch > c.SampleAfter && epoch%c.SampleEvery == 0 {
		return true
	}
	return c.SampleFinal && epoch == c.Epochs-1
}

// Option customises a Trainer.
type Option func(*Trainer)

func WithMetrics(m Metrics) Option { return func(t *Trainer) { t.metrics = m } }

func WithCheckpointer(c Checkpointer) Option { return func(t *Trainer) { t.checkpoints = c } }

func WithImageSink(s ImageSink) Option { return func(t *Trainer) { t.images = s } }

// WithRule overrides the sampling update rule selected by Config.Scheduler.
func WithRule(rule diffusion.UpdateRule) Option { return func(t *Trainer) { t.rule = rule } }

// WithMetadata adds entries to every checkpoint's metadata.
func WithMetadata(meta map[string]string) Option {
	return func(t *Trainer) {
		for k, v := range meta {
			t.meta[k] = v
		}
	}
}

type Trainer struct {
	cfg    Config
	engine *diffusion.Diffusion
	model  Model
	opt    Optimizer
	rule   diffusion.UpdateRule

	metrics     Metrics
	checkpoints Checkpointer
	images      ImageSink
	meta        map[string]string
}

// New prepares a training loop. A nil opt trains with AdamW at
// cfg.LearningRate.
func New(cfg Config, engine *diffusion.Diffusion, model Model, opt Optimizer, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine.NoiseSteps() < 2 {
		return nil, &diffusion.ConfigurationError{Field: "noise_steps", Reason: fmt.Sprintf("training needs at least 2 noise steps, got %d", engine.NoiseSteps())}
	}
	if opt == nil {
		opt = nn.NewAdamW(cfg.LearningRate)
	}

	t := &Trainer{
		cfg:    cfg,
		engine: engine,
		model:  model,
		opt:    opt,
		meta:   make(map[string]string),
	}
	for _, o := range opts {
		o(t)
	}

	if t.rule == nil {
		rule, err := scheduler.FromSchedule(cfg.Scheduler, engine.Schedule(), scheduler.DefaultConfig())
		if err != nil {
			return nil, err
		}
		t.rule = rule
	}
	return t, nil
}

// Session summarises a (possibly interrupted) run.
type Session struct {
	RunName string

	// Epochs is the number of completed epochs.
	Epochs int
	Steps  int

	// EpochLoss holds the mean training loss of every completed epoch.
	EpochLoss []float64
	BestLoss  float64
	BestEpoch int

	// Sampled lists the epochs that produced samples and checkpoints.
	Sampled       []int
	FailedBatches int
}

// Run trains for cfg.Epochs epochs. On cancellation the session so far is
// returned together with ctx.Err().
func (t *Trainer) Run(ctx context.Context, data DataSource) (*Session, error) {
	l := data.Len()
	if l == 0 {
		return nil, dataset.ErrEmpty
	}

	s := &Session{RunName: t.cfg.RunName, BestLoss: math.Inf(1), BestEpoch: -1}

	restore := t.model.Training()
	t.model.SetTraining(true)
	defer t.model.SetTraining(restore)

	for epoch := range t.cfg.Epochs {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		slog.Info("starting epoch", "epoch", epoch, "run", t.cfg.RunName)
		start := time.Now()

		var sum float64
		var n, last int
		i := -1
		for batch, err := range data.Batches(ctx) {
			i++
			if err != nil {
				if ctx.Err() != nil {
					return s, ctx.Err()
				}
				return s, fmt.Errorf("epoch %d: %w", epoch, err)
			}

			loss, err := t.step(batch.Images)
			if err != nil {
				failure := &diffusion.TrainingStepFailure{Epoch: epoch, Batch: i, Err: err}
				if !t.cfg.SkipFailedBatches {
					return s, failure
				}
				slog.Warn("skipping batch", "error", failure)
				s.FailedBatches++
				continue
			}

			step := epoch*l + i
			if err := t.addScalar("MSE", loss, step); err != nil {
				return s, err
			}
			slog.Debug("train step", "epoch", epoch, "batch", i, "step", step, "loss", loss)

			sum += loss
			n++
			last = batch.Images.Batch()
			s.Steps++
		}

		s.Epochs = epoch + 1
		if n == 0 {
			slog.Warn("epoch finished without a successful step", "epoch", epoch)
			continue
		}

		mean := sum / float64(n)
		s.EpochLoss = append(s.EpochLoss, mean)
		if err := t.addScalar("epoch_loss", mean, epoch); err != nil {
			return s, err
		}
		slog.Info("finished epoch", "epoch", epoch, "loss", mean, "batches", n, "elapsed", time.Since(start))

		if mean < s.BestLoss {
			s.BestLoss, s.BestEpoch = mean, epoch
			if err := t.checkpoint(ctx, "best", epoch, mean); err != nil {
				return s, err
			}
		}

		if t.cfg.ShouldSample(epoch) {
			saved, err := t.sample(ctx, epoch, mean, last)
			if err != nil {
				return s, err
			}
			if saved {
				s.Sampled = append(s.Sampled, epoch)
			}
		}
	}

	return s, nil
}

func (t *Trainer) step(x *ml.Tensor) (float64, error) {
	ts := t.engine.SampleTimesteps(x.Batch())
	xt, noise, err := t.engine.NoiseImages(x, ts)
	if err != nil {
		return 0, err
	}

	pred, err := t.model.Predict(xt, ts)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}

	loss, grad, err := MSE(pred, noise)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("loss is %v", loss)
	}

	t.model.ZeroGrad()
	if err := t.model.Backward(grad); err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}
	t.opt.Step(t.model.Parameters())
	return loss, nil
}

func (t *Trainer) addScalar(tag string, value float64, step int) error {
	if t.metrics == nil {
		return nil
	}
	if err := t.metrics.AddScalar(tag, value, step); err != nil {
		return fmt.Errorf("log %s: %w", tag, err)
	}
	return nil
}

func (t *Trainer) checkpoint(ctx context.Context, name string, epoch int, loss float64) error {
	if t.checkpoints == nil {
		return nil
	}

	meta := make(map[string]string, len(t.meta)+2)
	for k, v := range t.meta {
		meta[k] = v
	}
	meta["epoch"] = strconv.Itoa(epoch)
	meta["loss"] = strconv.FormatFloat(loss, 'g', -1, 64)

	if err := t.checkpoints.SaveCheckpoint(ctx, name, t.model, meta); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

// sample reports whether anything was written, which is false when the
// trainer has neither an ImageSink nor a Checkpointer.
func (t *Trainer) sample(ctx context.Context, epoch int, loss float64, last int) (bool, error) {
	if t.images == nil && t.checkpoints == nil {
		return false, nil
	}

	n := t.cfg.SampleCount
	if n == 0 {
		n = last
	}

	if t.images != nil {
		imgs, err := t.engine.Sample(ctx, t.model, t.rule, n)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return false, ctxErr
			}
			return false, fmt.Errorf("sample epoch %d: %w", epoch, err)
		}
		if err := t.images.SaveImages(ctx, strconv.Itoa(epoch), imgs); err != nil {
			return false, fmt.Errorf("save samples epoch %d: %w", epoch, err)
		}
	}

	if err := t.checkpoint(ctx, fmt.Sprintf("ckpt%d", epoch), epoch, loss); err != nil {
		return false, err
	}
	return true, nil
}
