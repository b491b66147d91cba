// cmd_train.go - Train Command
// Hauptfunktionen: TrainHandler
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ollama/ddpm/dataset"
	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/envconfig"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/nn"
	"github.com/ollama/ddpm/runlog"
	"github.com/ollama/ddpm/scheduler"
	"github.com/ollama/ddpm/train"
)

// TrainHandler - Trainiert ein Modell auf einem Bildordner
func TrainHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	datasetPath, _ := flags.GetString("dataset")
	if datasetPath == "" {
		return errors.New("--dataset is required")
	}

	// Engine-Konfiguration
	dcfg := diffusion.DefaultConfig()
	dcfg.NoiseSteps, _ = flags.GetInt("noise-steps")
	dcfg.BetaStart, _ = flags.GetFloat64("beta-start")
	dcfg.BetaEnd, _ = flags.GetFloat64("beta-end")
	dcfg.ImageSize, _ = flags.GetInt("image-size")
	dcfg.Channels, _ = flags.GetInt("channels")

	device, _ := flags.GetString("device")
	if device == "" {
		device = envconfig.Device()
	}
	dev, err := parseDevice(device)
	if err != nil {
		return err
	}
	dcfg.Device = dev

	seed, _ := flags.GetUint64("seed")
	if !flags.Changed("seed") {
		seed = envconfig.Seed()
	}

	engineSeed, modelSeed, loaderSeed := trainSeeds(seed)

	engine, err := diffusion.New(dcfg, diffusion.WithSeed(engineSeed))
	if err != nil {
		return err
	}

	// Trainings-Konfiguration
	tcfg := train.DefaultConfig()
	tcfg.Epochs, _ = flags.GetInt("epochs")
	tcfg.BatchSize, _ = flags.GetInt("batch-size")
	tcfg.LearningRate, _ = flags.GetFloat64("lr")
	tcfg.RunName, _ = flags.GetString("run-name")
	tcfg.SampleEvery, _ = flags.GetInt("sample-every")
	tcfg.SampleAfter, _ = flags.GetInt("sample-after")
	tcfg.SampleFinal, _ = flags.GetBool("sample-final")
	tcfg.SampleCount, _ = flags.GetInt("sample-count")
	tcfg.Scheduler, _ = flags.GetString("scheduler")
	tcfg.SkipFailedBatches, _ = flags.GetBool("skip-failed")
	if err := tcfg.Validate(); err != nil {
		return err
	}

	dtypeName, _ := flags.GetString("dtype")
	dtype, err := ml.ParseDType(dtypeName)
	if err != nil {
		return &diffusion.ConfigurationError{Field: "dtype", Reason: err.Error()}
	}

	scfg := scheduler.DefaultConfig()
	scfg.NumInferenceSteps, _ = flags.GetInt("inference-steps")
	rule, err := scheduler.FromSchedule(tcfg.Scheduler, engine.Schedule(), scfg)
	if err != nil {
		return err
	}

	mcfg := nn.DefaultDenoiserConfig(dcfg.Channels, dcfg.ImageSize)
	mcfg.Hidden, _ = flags.GetInt("hidden")
	mcfg.Seed = modelSeed
	model, err := nn.NewDenoiser(mcfg, dev)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	ds, err := dataset.ImageFolder(ctx, datasetPath, dataset.Options{
		ImageSize: dcfg.ImageSize,
		Channels:  dcfg.Channels,
		Workers:   envconfig.NumWorkers(),
		Device:    dev,
	})
	if err != nil {
		return err
	}
	loader := &dataset.Loader{Dataset: ds, BatchSize: tcfg.BatchSize, Shuffle: true, Seed: loaderSeed}

	output, _ := flags.GetString("output")
	if output == "" {
		output = envconfig.Home()
	}
	store, err := openStore(output)
	if err != nil {
		return err
	}

	runs, err := runlog.Open(envconfig.RunLog())
	if err != nil {
		return err
	}
	defer runs.Close()

	run, err := runs.StartRun(tcfg.RunName, map[string]any{
		"diffusion": dcfg,
		"denoiser":  mcfg,
		"train":     tcfg,
		"dataset":   datasetPath,
		"output":    output,
		"dtype":     dtype.String(),
	})
	if err != nil {
		return err
	}

	meta, err := checkpointMetadata(dcfg, mcfg, tcfg)
	if err != nil {
		return err
	}
	meta[metaRun] = run.ID

	sink := &train.StoreSink{Store: store, RunName: tcfg.RunName, DType: dtype}
	trainer, err := train.New(tcfg, engine, model, nn.NewAdamW(tcfg.LearningRate),
		train.WithMetrics(run),
		train.WithCheckpointer(sink),
		train.WithImageSink(sink),
		train.WithRule(rule),
		train.WithMetadata(meta),
	)
	if err != nil {
		return errors.Join(err, run.Finish(err))
	}

	slog.Info("training", "run", tcfg.RunName, "id", run.ID, "images", ds.Len(), "classes", len(ds.Classes), "parameters", model.NumParameters(), "diffusion", dcfg)

	session, err := trainer.Run(ctx, loader)
	if finishErr := run.Finish(err); finishErr != nil {
		slog.Warn("could not finish run", "error", finishErr)
	}
	if session != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s): %d epochs, %d steps, best loss %.6f at epoch %d\n",
			session.RunName, run.ID, session.Epochs, session.Steps, session.BestLoss, session.BestEpoch)
	}
	return err
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	def := diffusion.DefaultConfig()
	tdef := train.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a noise predictor on a folder of images",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}

	cmd.Flags().String("dataset", "", "Directory of training images, one subdirectory per class")
	cmd.Flags().String("run-name", tdef.RunName, "Name of the run, used for results/ and models/")
	cmd.Flags().Int("epochs", tdef.Epochs, "Number of epochs")
	cmd.Flags().Int("batch-size", tdef.BatchSize, "Images per batch")
	cmd.Flags().Float64("lr", tdef.LearningRate, "AdamW learning rate")
	cmd.Flags().Int("image-size", def.ImageSize, "Side length images are resized and cropped to")
	cmd.Flags().Int("channels", def.Channels, "Image channels (1 or 3)")
	cmd.Flags().Int("noise-steps", def.NoiseSteps, "Number of diffusion timesteps")
	cmd.Flags().Float64("beta-start", def.BetaStart, "First beta of the linear schedule")
	cmd.Flags().Float64("beta-end", def.BetaEnd, "Last beta of the linear schedule")
	cmd.Flags().String("device", "", "Compute device (default $DDPM_DEVICE or cpu)")
	cmd.Flags().String("scheduler", tdef.Scheduler, fmt.Sprintf("Update rule for samples (%v)", scheduler.Names()))
	cmd.Flags().Int("inference-steps", 0, "Reverse steps when sampling, 0 uses every timestep")
	cmd.Flags().Int("sample-every", tdef.SampleEvery, "Sample and checkpoint every n epochs")
	cmd.Flags().Int("sample-after", tdef.SampleAfter, "Only sample after this epoch")
	cmd.Flags().Bool("sample-final", false, "Also sample and checkpoint after the last epoch")
	cmd.Flags().Int("sample-count", 0, "Images per sample grid, 0 uses the batch size")
	cmd.Flags().Bool("skip-failed", false, "Log and skip failed batches instead of aborting")
	cmd.Flags().Int("hidden", nn.DefaultDenoiserConfig(1, 1).Hidden, "Hidden width of the denoiser")
	cmd.Flags().Uint64("seed", 0, "Seed for all randomness, 0 seeds from the clock (default $DDPM_SEED)")
	cmd.Flags().String("dtype", "f32", "Checkpoint dtype (f64, f32, f16, bf16)")
	cmd.Flags().String("output", "", "Local directory or s3://bucket/prefix for results/ and models/ (default $DDPM_HOME)")

	return cmd
}
