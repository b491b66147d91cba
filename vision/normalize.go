// MODUL: normalize
// ZWECK: Normalisierung und Tensor-Konvertierung fuer Diffusionsmodelle
// INPUT: ImageInput, Kanalzahl (1 = Luma, 3 = RGB), Normalisierungs-Parameter (mean, std)
// OUTPUT: float64-Tensoren in HWC oder CHW Layout, 8-Bit-Bilder aus CHW-Ebenen
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Standard ist mean = std = 0.5, d.h. Pixel landen in [-1, 1]

package vision

import (
	"fmt"
	"image"
	"image/color"
)

// Standard-Normalisierungswerte
var (
	// Diffusion Standard (normalisiert auf [-1, 1])
	StandardMean = [3]float64{0.5, 0.5, 0.5}
	StandardStd  = [3]float64{0.5, 0.5, 0.5}

	// Keine Normalisierung (nur Skalierung auf [0,1])
	NoNormMean = [3]float64{0.0, 0.0, 0.0}
	NoNormStd  = [3]float64{1.0, 1.0, 1.0}
)

// ToTensorCHW konvertiert ein Bild in ein auf [-1, 1] normalisiertes
// CHW-Array mit channels Kanaelen
func ToTensorCHW(img *ImageInput, channels int) ([]float64, error) {
	return NormalizeCHW(img, channels, StandardMean, StandardStd)
}

// NormalizeCHW normalisiert ein Bild mit gegebenen mean/std Werten
// Gibt einen float64-Slice im CHW Format zurueck (Channel-First)
func NormalizeCHW(img *ImageInput, channels int, mean, std [3]float64) ([]float64, error) {
	hwc, err := ToFloatTensor(img, channels)
	if err != nil {
		return nil, err
	}

	for i := range hwc {
		ch := i % channels
		hwc[i] = (hwc[i] - mean[ch]) / std[ch]
	}

	return CHWTensorLayout(hwc, img.Height, img.Width, channels), nil
}

// extractRGB holt RGB-Werte als float64 im Bereich [0,1]
func extractRGB(img *ImageInput, x, y int) (float64, float64, float64) {
	c := img.Image.RGBAAt(x, y)
	return float64(c.R) / 255.0, float64(c.G) / 255.0, float64(c.B) / 255.0
}

// extractLuma holt den Grauwert nach ITU-R 601 im Bereich [0,1]
func extractLuma(img *ImageInput, x, y int) float64 {
	g := color.GrayModel.Convert(img.Image.RGBAAt(x, y)).(color.Gray)
	return float64(g.Y) / 255.0
}

// ToFloatTensor konvertiert ein Bild zu einem float64-Slice im HWC Format
// Werte werden auf [0,1] skaliert ohne Normalisierung
func ToFloatTensor(img *ImageInput, channels int) ([]float64, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("ungueltige Kanalzahl: %d", channels)
	}

	bounds := img.Image.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()

	// HWC Layout: Height x Width x Channels
	result := make([]float64, h*w*channels)
	idx := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if channels == 1 {
				result[idx] = extractLuma(img, x, y)
				idx++
				continue
			}
			r, g, b := extractRGB(img, x, y)
			result[idx] = r
			result[idx+1] = g
			result[idx+2] = b
			idx += 3
		}
	}

	return result, nil
}

// CHWTensorLayout konvertiert HWC zu CHW Layout
// Input: hwc Tensor mit Dimensionen [h, w, c]
// Output: chw Tensor mit Dimensionen [c, h, w]
func CHWTensorLayout[T uint8 | float64](hwc []T, h, w, c int) []T {
	if len(hwc) != h*w*c {
		return nil
	}

	chw := make([]T, len(hwc))
	planeSize := h * w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcIdx := (y*w + x) * c
			dstBase := y*w + x

			for ch := 0; ch < c; ch++ {
				chw[ch*planeSize+dstBase] = hwc[srcIdx+ch]
			}
		}
	}

	return chw
}

// HWCTensorLayout konvertiert CHW zu HWC Layout
// Input: chw Tensor mit Dimensionen [c, h, w]
// Output: hwc Tensor mit Dimensionen [h, w, c]
func HWCTensorLayout[T uint8 | float64](chw []T, c, h, w int) []T {
	if len(chw) != c*h*w {
		return nil
	}

	hwc := make([]T, len(chw))
	planeSize := h * w

	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				srcIdx := ch*planeSize + y*w + x
				dstIdx := (y*w+x)*c + ch
				hwc[dstIdx] = chw[srcIdx]
			}
		}
	}

	return hwc
}

// FromCHW baut aus 8-Bit CHW-Ebenen ein Bild: 1 Kanal ergibt *image.Gray,
// 3 Kanaele ein deckendes *image.RGBA
func FromCHW(pix []uint8, c, h, w int) (image.Image, error) {
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("ungueltige Kanalzahl: %d", c)
	}
	if len(pix) != c*h*w {
		return nil, fmt.Errorf("pixelanzahl %d passt nicht zu %dx%dx%d", len(pix), c, h, w)
	}

	rect := image.Rect(0, 0, w, h)
	if c == 1 {
		gray := image.NewGray(rect)
		copy(gray.Pix, pix)
		return gray, nil
	}

	hwc := HWCTensorLayout(pix, c, h, w)
	rgba := image.NewRGBA(rect)
	for i := 0; i < h*w; i++ {
		copy(rgba.Pix[i*4:i*4+3], hwc[i*3:i*3+3])
		rgba.Pix[i*4+3] = 0xFF
	}
	return rgba, nil
}

// TensorShape gibt die CHW Tensor-Form fuer channels Kanaele zurueck
func (img *ImageInput) TensorShape(channels int) []int {
	return []int{channels, img.Height, img.Width}
}
