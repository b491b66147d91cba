// cmd_sample.go - Sample Command
// Hauptfunktionen: SampleHandler, loadModel
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/ddpm/checkpoint"
	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/envconfig"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/nn"
	"github.com/ollama/ddpm/scheduler"
	"github.com/ollama/ddpm/vision"
)

// loadModel - Baut Engine und Denoiser aus einem Checkpoint wieder auf
func loadModel(ctx context.Context, uri string, dev ml.Device, seed uint64) (*diffusion.Diffusion, *nn.Denoiser, error) {
	rc, err := readObject(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	f, err := checkpoint.Load(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", uri, err)
	}

	dcfg, mcfg, err := configsFromMetadata(f.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", uri, err)
	}
	dcfg.Device = dev

	engine, err := diffusion.New(dcfg, diffusion.WithSeed(seed))
	if err != nil {
		return nil, nil, err
	}

	model, err := nn.NewDenoiser(mcfg, dev)
	if err != nil {
		return nil, nil, err
	}
	if err := f.Into(model.Parameters()); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", uri, err)
	}

	slog.Info("loaded checkpoint", "path", uri, "epoch", f.Metadata["epoch"], "loss", f.Metadata["loss"], "diffusion", dcfg)
	return engine, model, nil
}

// SampleHandler - Erzeugt Bilder aus einem Checkpoint
func SampleHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	ckpt, _ := flags.GetString("checkpoint")
	if ckpt == "" {
		return errors.New("--checkpoint is required")
	}

	n, _ := flags.GetInt("n")
	output, _ := flags.GetString("output")
	each, _ := flags.GetBool("each")
	nrow, _ := flags.GetInt("nrow")

	device, _ := flags.GetString("device")
	if device == "" {
		device = envconfig.Device()
	}
	dev, err := parseDevice(device)
	if err != nil {
		return err
	}

	seed, _ := flags.GetUint64("seed")
	if !flags.Changed("seed") {
		seed = envconfig.Seed()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	engine, model, err := loadModel(ctx, ckpt, dev, seed)
	if err != nil {
		return err
	}

	name, _ := flags.GetString("scheduler")
	scfg := scheduler.DefaultConfig()
	scfg.NumInferenceSteps, _ = flags.GetInt("inference-steps")
	scfg.Eta, _ = flags.GetFloat64("eta")
	rule, err := scheduler.FromSchedule(name, engine.Schedule(), scfg)
	if err != nil {
		return err
	}

	var opts []diffusion.SampleOption
	onStep, done := stepProgress(len(rule.Timesteps()))
	if onStep != nil {
		opts = append(opts, diffusion.WithStepFunc(onStep))
	}

	imgs, err := engine.Sample(ctx, model, rule, n, opts...)
	done()
	if err != nil {
		return err
	}

	all, err := imgs.All()
	if err != nil {
		return err
	}

	if each {
		for i, img := range all {
			var buf bytes.Buffer
			if err := vision.Encode(&buf, img, vision.FormatPNG); err != nil {
				return err
			}
			if err := writeObject(ctx, joinOutput(output, fmt.Sprintf("image_%d.png", i+1)), buf.Bytes()); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d images to %s\n", len(all), output)
		return nil
	}

	format := vision.FormatFromPath(output)
	if format == vision.FormatUnknown || format == vision.FormatWebP {
		return fmt.Errorf("%w: %s", vision.ErrUnsupportedFormat, output)
	}

	var buf bytes.Buffer
	if err := vision.SaveGrid(&buf, all, nrow, vision.DefaultGridPadding, format); err != nil {
		return err
	}
	if err := writeObject(ctx, output, buf.Bytes()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", len(all), output)
	return nil
}

func joinOutput(dir, name string) string {
	if strings.HasPrefix(dir, "s3://") {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

// newSampleCmd - Erstellt den sample Command
func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate images from a checkpoint",
		Args:  cobra.NoArgs,
		RunE:  SampleHandler,
	}

	cmd.Flags().String("checkpoint", "", "Checkpoint file or s3:// object written by train")
	cmd.Flags().Int("n", 8, "Number of images")
	cmd.Flags().String("scheduler", scheduler.DDPM, fmt.Sprintf("Update rule (%v)", scheduler.Names()))
	cmd.Flags().Int("inference-steps", 0, "Reverse steps, 0 uses every timestep")
	cmd.Flags().Float64("eta", 0, "DDIM noise scale")
	cmd.Flags().String("output", "samples.png", "Grid image (.png, .jpg, .bmp) or directory with --each")
	cmd.Flags().Bool("each", false, "Write one PNG per image into the output directory")
	cmd.Flags().Int("nrow", vision.DefaultGridRow, "Images per grid row")
	cmd.Flags().String("device", "", "Compute device (default $DDPM_DEVICE or cpu)")
	cmd.Flags().Uint64("seed", 0, "Seed for the sampling noise (default $DDPM_SEED)")

	return cmd
}
