package train

import (
	"bytes"
	"context"
	"path"

	"github.com/ollama/ddpm/checkpoint"
	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/storage"
	"github.com/ollama/ddpm/vision"
)

// StoreSink writes checkpoints to models/<run>/<name>.safetensors and
// sample grids to results/<run>/<name>.<ext> in a storage.Store.
type StoreSink struct {
	Store   storage.Store
	RunName string

	// DType is the checkpoint storage type, F32 when unset.
	DType ml.DType

	// Format is the grid image format, JPEG when unset.
	Format  vision.ImageFormat
	GridRow int
}

var (
	_ Checkpointer = (*StoreSink)(nil)
	_ ImageSink    = (*StoreSink)(nil)
)

func (s *StoreSink) CheckpointKey(name string) string {
	return path.Join("models", s.RunName, name+".safetensors")
}

func (s *StoreSink) ImageKey(name string) string {
	return path.Join("results", s.RunName, name+s.format().Extension())
}

func (s *StoreSink) format() vision.ImageFormat {
	if s.Format == "" {
		return vision.FormatJPEG
	}
	return s.Format
}

func (s *StoreSink) SaveCheckpoint(ctx context.Context, name string, model Model, meta map[string]string) error {
	dtype := s.DType
	if dtype == ml.DTypeOther {
		dtype = ml.DTypeF32
	}

	var buf bytes.Buffer
	if err := checkpoint.Save(&buf, model.Parameters(), dtype, meta); err != nil {
		return err
	}
	return s.Store.Put(ctx, s.CheckpointKey(name), &buf)
}

func (s *StoreSink) SaveImages(ctx context.Context, name string, imgs *diffusion.Images) error {
	all, err := imgs.All()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := vision.SaveGrid(&buf, all, s.GridRow, vision.DefaultGridPadding, s.format()); err != nil {
		return err
	}
	return s.Store.Put(ctx, s.ImageKey(name), &buf)
}
