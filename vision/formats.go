// MODUL: formats
// ZWECK: Bildformat-Erkennung, Validierung und Kodierung
// INPUT: Bild-Bytes, Format-String oder Dateiname
// OUTPUT: ImageFormat, kodierte Bilddaten, Fehler bei ungueltigem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: golang.org/x/image/bmp (extern), image/jpeg, image/png
// HINWEISE: Magic-Bytes-basierte Erkennung, unterstuetzt JPEG/PNG/WebP/BMP;
//           WebP kann nur gelesen werden

package vision

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
)

// ImageFormat repraesentiert ein unterstuetztes Bildformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatBMP     ImageFormat = "bmp"
	FormatUnknown ImageFormat = "unknown"
)

// Magic-Byte-Signaturen fuer Bildformate
var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicWebP = []byte{0x52, 0x49, 0x46, 0x46} // "RIFF" header
	magicBMP  = []byte{'B', 'M'}
)

// JPEGQuality ist die Qualitaet fuer gespeicherte JPEG-Bilder
const JPEGQuality = 95

// ErrUnknownFormat wird zurueckgegeben wenn Format nicht erkannt wurde
var ErrUnknownFormat = errors.New("unbekanntes Bildformat")

// ErrUnsupportedFormat wird zurueckgegeben bei ungueltigem Format
var ErrUnsupportedFormat = errors.New("nicht unterstuetztes Bildformat")

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	if len(data) < 4 {
		return FormatUnknown
	}

	if matchesMagic(data, magicJPEG) {
		return FormatJPEG
	}

	if matchesMagic(data, magicPNG) {
		return FormatPNG
	}

	if matchesMagic(data, magicWebP) && isValidWebP(data) {
		return FormatWebP
	}

	if matchesMagic(data, magicBMP) && len(data) >= 14 {
		return FormatBMP
	}

	return FormatUnknown
}

// FormatFromPath bestimmt das Format anhand der Dateiendung
func FormatFromPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	case ".bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// matchesMagic prueft ob die Daten mit der Signatur beginnen
func matchesMagic(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i, b := range magic {
		if data[i] != b {
			return false
		}
	}
	return true
}

// isValidWebP prueft auf "WEBP" Marker nach RIFF Header
func isValidWebP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// RIFF....WEBP
	return data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P'
}

// ValidateFormat prueft ob ein Format unterstuetzt wird
func ValidateFormat(format ImageFormat) error {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP, FormatBMP:
		return nil
	case FormatUnknown:
		return ErrUnknownFormat
	default:
		return ErrUnsupportedFormat
	}
}

// Encode schreibt img im gegebenen Format
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case FormatBMP:
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s kann nicht geschrieben werden", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("bild kodieren fehlgeschlagen (%s): %w", format, err)
	}
	return nil
}

// MimeType gibt den MIME-Type fuer ein Format zurueck
func (f ImageFormat) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Extension gibt die Dateiendung fuer ein Format zurueck
func (f ImageFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	case FormatBMP:
		return ".bmp"
	default:
		return ".bin"
	}
}

// String implementiert Stringer Interface
func (f ImageFormat) String() string {
	return string(f)
}
