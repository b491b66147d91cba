// MODUL: image
// ZWECK: Bild-Lade- und Verarbeitungsfunktionen fuer Trainingsdaten
// INPUT: Dateipfad, Bytes oder io.Reader
// OUTPUT: ImageInput Struktur mit dekodiertem Bild
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image/draw, webp, bmp (extern), image/jpeg, image/png
// HINWEISE: Alle Bilder werden als RGBA konvertiert

package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageInput enthaelt ein dekodiertes Bild mit Metadaten
type ImageInput struct {
	Image  *image.RGBA
	Width  int
	Height int
	Format ImageFormat
}

// LoadImage laedt ein Bild von einem Dateipfad
func LoadImage(path string) (*ImageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}
	img, err := LoadImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageFromBytes dekodiert ein Bild aus Byte-Daten
func LoadImageFromBytes(data []byte) (*ImageInput, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	reader := bytes.NewReader(data)
	return decodeWithFormat(reader, format)
}

// DecodeImage dekodiert ein Bild aus einem io.Reader
func DecodeImage(reader io.Reader) (*ImageInput, error) {
	// Erst Daten puffern fuer Format-Erkennung
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("daten lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// decodeWithFormat dekodiert und konvertiert zu RGBA
func decodeWithFormat(reader io.Reader, format ImageFormat) (*ImageInput, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	rgba := toRGBA(img)
	bounds := rgba.Bounds()

	return &ImageInput{
		Image:  rgba,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}, nil
}

// toRGBA konvertiert ein beliebiges image.Image zu *image.RGBA mit Ursprung (0,0)
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// ResizeImage skaliert ein Bild auf die angegebene Groesse
func ResizeImage(img *ImageInput, width, height int) (*ImageInput, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.Image, img.Image.Bounds(), draw.Over, nil)

	return &ImageInput{
		Image:  dst,
		Width:  width,
		Height: height,
		Format: img.Format,
	}, nil
}

// ResizeCover skaliert so, dass das Bild size x size vollstaendig bedeckt,
// und schneidet danach zentriert auf size x size zu.
func ResizeCover(img *ImageInput, size int) (*ImageInput, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", size, size)
	}
	if img.Width == size && img.Height == size {
		return img, nil
	}

	newW, newH := calculateCoverSize(img.Width, img.Height, size)
	resized, err := ResizeImage(img, newW, newH)
	if err != nil {
		return nil, err
	}
	return CenterCrop(resized, size, size)
}

// calculateCoverSize berechnet die kleinste Groesse mit Seitenverhaeltnis,
// deren kuerzere Seite size ist
func calculateCoverSize(srcW, srcH, size int) (int, int) {
	if srcW <= srcH {
		return size, max(size, int(float64(srcH)*float64(size)/float64(srcW)+0.5))
	}
	return max(size, int(float64(srcW)*float64(size)/float64(srcH)+0.5)), size
}

// Composite entfernt Alpha-Kanal durch weissen Hintergrund
func Composite(img *ImageInput) *ImageInput {
	return CompositeWithColor(img, color.White)
}

// CompositeWithColor entfernt Alpha-Kanal mit gegebener Hintergrundfarbe
func CompositeWithColor(img *ImageInput, bgColor color.Color) *ImageInput {
	bounds := img.Image.Bounds()
	dst := image.NewRGBA(bounds)

	// Hintergrund fuellen
	draw.Draw(dst, bounds, &image.Uniform{bgColor}, image.Point{}, draw.Src)
	// Bild darueber zeichnen
	draw.Draw(dst, bounds, img.Image, bounds.Min, draw.Over)

	return &ImageInput{
		Image:  dst,
		Width:  img.Width,
		Height: img.Height,
		Format: img.Format,
	}
}

// CenterCrop schneidet einen zentrierten Bereich aus
func CenterCrop(img *ImageInput, width, height int) (*ImageInput, error) {
	if width > img.Width || height > img.Height {
		return nil, fmt.Errorf("crop groesser als bild: %dx%d > %dx%d", width, height, img.Width, img.Height)
	}

	offsetX := (img.Width - width) / 2
	offsetY := (img.Height - height) / 2

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	srcRect := image.Rect(offsetX, offsetY, offsetX+width, offsetY+height)

	draw.Draw(dst, dst.Bounds(), img.Image, srcRect.Min, draw.Src)

	return &ImageInput{
		Image:  dst,
		Width:  width,
		Height: height,
		Format: img.Format,
	}, nil
}
