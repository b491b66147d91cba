// MODUL: grid
// ZWECK: Mehrere Bilder zu einem Raster zusammensetzen und speichern
// INPUT: Liste von image.Image, Spaltenzahl, Rand in Pixeln
// OUTPUT: *image.RGBA Raster, kodierte Bilddatei
// NEBENEFFEKTE: Dateisystem-Schreibzugriff bei SaveImages
// ABHAENGIGKEITEN: golang.org/x/image/draw (extern)
// HINWEISE: Layout wie torchvision make_grid: schwarzer Rand, Zeilen werden
//           von links nach rechts gefuellt

package vision

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// Standardwerte fuer das Raster
const (
	DefaultGridRow     = 8
	DefaultGridPadding = 2
)

// MakeGrid setzt gleich grosse Bilder in ein Raster mit nrow Spalten
func MakeGrid(imgs []image.Image, nrow, padding int) (*image.RGBA, error) {
	if len(imgs) == 0 {
		return nil, errors.New("keine bilder fuer raster")
	}
	if nrow <= 0 {
		nrow = DefaultGridRow
	}
	if padding < 0 {
		return nil, fmt.Errorf("ungueltiger rand: %d", padding)
	}

	size := imgs[0].Bounds().Size()
	for i, img := range imgs {
		if img.Bounds().Size() != size {
			return nil, fmt.Errorf("bild %d hat groesse %v, erwartet %v", i, img.Bounds().Size(), size)
		}
	}

	cols := min(nrow, len(imgs))
	rows := (len(imgs) + cols - 1) / cols
	cellW, cellH := size.X+padding, size.Y+padding

	grid := image.NewRGBA(image.Rect(0, 0, cols*cellW+padding, rows*cellH+padding))
	draw.Draw(grid, grid.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	for i, img := range imgs {
		x := (i%cols)*cellW + padding
		y := (i/cols)*cellH + padding
		r := image.Rect(x, y, x+size.X, y+size.Y)
		draw.Draw(grid, r, img, img.Bounds().Min, draw.Src)
	}

	return grid, nil
}

// SaveGrid schreibt das Raster der Bilder im gegebenen Format nach w
func SaveGrid(w io.Writer, imgs []image.Image, nrow, padding int, format ImageFormat) error {
	grid, err := MakeGrid(imgs, nrow, padding)
	if err != nil {
		return err
	}
	return Encode(w, grid, format)
}

// SaveImages speichert die Bilder als Raster unter path; das Format ergibt
// sich aus der Dateiendung (.png, .jpg/.jpeg, .bmp)
func SaveImages(path string, imgs []image.Image, nrow int) error {
	format := FormatFromPath(path)
	if format == FormatUnknown || format == FormatWebP {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("datei erstellen fehlgeschlagen: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := SaveGrid(bw, imgs, nrow, DefaultGridPadding, format); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
