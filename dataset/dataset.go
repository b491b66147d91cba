// Package dataset loads training images and serves them in shuffled
// mini-batches.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/vision"
)

// ErrEmpty is returned when a dataset contains no images.
var ErrEmpty = errors.New("dataset is empty")

// Dataset is a random access collection of CHW images with labels.
type Dataset interface {
	Len() int
	// Item returns the pixels of image i (normalised to [-1, 1]) and its label.
	Item(i int) ([]float64, int)
	// Shape returns the [C, H, W] shape shared by all items.
	Shape() []int
	Device() ml.Device
}

// Options control how images are decoded.
type Options struct {
	ImageSize int
	Channels  int
	Workers   int
	Device    ml.Device
}

// Folder is an in-memory dataset decoded from a directory tree. The first
// directory level below the root names the class of each image.
type Folder struct {
	Root    string
	Classes []string

	opts   Options
	pixels [][]float64
	labels []int
	paths  []string
}

// ImageFolder decodes every supported image below root. Images are
// resized to cover ImageSize x ImageSize, center cropped and converted to
// Channels channels.
func ImageFolder(ctx context.Context, root string, opts Options) (*Folder, error) {
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", opts.ImageSize)
	}
	if opts.Channels != 1 && opts.Channels != 3 {
		return nil, fmt.Errorf("channels must be 1 or 3, got %d", opts.Channels)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Device.IsZero() {
		opts.Device = ml.CPU
	}

	start := time.Now()
	paths, classOf, err := scan(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrEmpty)
	}

	seen := make(map[string]struct{})
	for _, c := range classOf {
		seen[c] = struct{}{}
	}
	classes := slices.Sorted(maps.Keys(seen))

	f := &Folder{
		Root:    root,
		Classes: classes,
		opts:    opts,
		pixels:  make([][]float64, len(paths)),
		labels:  make([]int, len(paths)),
		paths:   paths,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, path := range paths {
		f.labels[i] = slices.Index(classes, classOf[i])
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			px, err := decode(path, opts.ImageSize, opts.Channels)
			if err != nil {
				return err
			}
			f.pixels[i] = px
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("loaded dataset", "root", root, "images", len(paths), "classes", len(classes), "workers", opts.Workers, "elapsed", time.Since(start))
	return f, nil
}

func scan(root string) (paths, classes []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if vision.FormatFromPath(path) == vision.FormatUnknown {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		class := "."
		if dir, _, ok := strings.Cut(filepath.ToSlash(rel), "/"); ok {
			class = dir
		}

		paths = append(paths, path)
		classes = append(classes, class)
		return nil
	})
	return paths, classes, err
}

func decode(path string, size, channels int) ([]float64, error) {
	img, err := vision.LoadImage(path)
	if err != nil {
		return nil, err
	}
	img, err = vision.ResizeCover(vision.Composite(img), size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vision.ToTensorCHW(img, channels)
}

func (f *Folder) Len() int                    { return len(f.pixels) }
func (f *Folder) Item(i int) ([]float64, int) { return f.pixels[i], f.labels[i] }
func (f *Folder) Path(i int) string           { return f.paths[i] }
func (f *Folder) Device() ml.Device           { return f.opts.Device }

func (f *Folder) Shape() []int {
	return []int{f.opts.Channels, f.opts.ImageSize, f.opts.ImageSize}
}

// Tensors is a Dataset backed by a [N, C, H, W] tensor.
type Tensors struct {
	x      *ml.Tensor
	labels []int
}

// FromTensor wraps x. labels may be nil, in which case every label is 0.
func FromTensor(x *ml.Tensor, labels []int) (*Tensors, error) {
	if len(x.Shape()) != 4 {
		return nil, fmt.Errorf("want a [N, C, H, W] tensor, got shape %v", x.Shape())
	}
	if labels == nil {
		labels = make([]int, x.Batch())
	}
	if len(labels) != x.Batch() {
		return nil, fmt.Errorf("%d labels for %d images", len(labels), x.Batch())
	}
	return &Tensors{x: x, labels: labels}, nil
}

func (t *Tensors) Len() int                    { return t.x.Batch() }
func (t *Tensors) Item(i int) ([]float64, int) { return t.x.Row(i), t.labels[i] }
func (t *Tensors) Shape() []int                { return t.x.Shape()[1:] }
func (t *Tensors) Device() ml.Device           { return t.x.Device() }
