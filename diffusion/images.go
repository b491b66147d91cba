package diffusion

import (
	"fmt"
	"image"
	"math"

	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/vision"
)

// Images is a batch of generated 8-bit images in [N, C, H, W] layout.
type Images struct {
	N, C, H, W int
	Pix        []uint8
}

// ToImages clamps x to [-1, 1] and maps it to [0, 255]. Fractional
// intensities are truncated, not rounded. A NaN element is reported as
// ErrNonFinite; infinities clamp like any other value.
func ToImages(x *ml.Tensor) (*Images, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, &ShapeError{Op: "to images", Want: []int{-1, -1, -1, -1}, Got: shape}
	}

	for i, v := range x.Floats() {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: element %d is NaN", ErrNonFinite, i)
		}
	}

	data := x.Clamp(-1, 1).Floats()
	pix := make([]uint8, len(data))
	for i, v := range data {
		pix[i] = uint8((v + 1) / 2 * 255)
	}

	return &Images{N: shape[0], C: shape[1], H: shape[2], W: shape[3], Pix: pix}, nil
}

// Shape returns [N, C, H, W].
func (im *Images) Shape() []int { return []int{im.N, im.C, im.H, im.W} }

// Planes returns the CHW pixels of image i.
func (im *Images) Planes(i int) []uint8 {
	n := im.C * im.H * im.W
	return im.Pix[i*n : (i+1)*n]
}

// Image converts image i to a *image.Gray or *image.RGBA.
func (im *Images) Image(i int) (image.Image, error) {
	return vision.FromCHW(im.Planes(i), im.C, im.H, im.W)
}

// All converts every image in the batch.
func (im *Images) All() ([]image.Image, error) {
	out := make([]image.Image, im.N)
	for i := range out {
		img, err := im.Image(i)
		if err != nil {
			return nil, err
		}
		out[i] = img
	}
	return out, nil
}
