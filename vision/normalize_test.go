// MODUL: normalize_test
// ZWECK: Tests fuer Normalisierungs- und Tensor-Funktionen
// INPUT: Synthetische Bilder
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing, image
// HINWEISE: Testet CHW/HWC Konvertierung, Luma und den Wertebereich [-1, 1]

package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// createTestImage erzeugt ein einfaches Testbild
func createTestImage(w, h int, c color.Color) *ImageInput {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.Set(x, y, c)
		}
	}
	return &ImageInput{
		Image:  rgba,
		Width:  w,
		Height: h,
		Format: FormatPNG,
	}
}

func TestToFloatTensor(t *testing.T) {
	// Rotes 2x2 Bild
	img := createTestImage(2, 2, color.RGBA{255, 0, 0, 255})
	tensor, err := ToFloatTensor(img, 3)
	if err != nil {
		t.Fatalf("ToFloatTensor() error = %v", err)
	}

	// Erwarte 2*2*3 = 12 Werte im HWC Format
	expectedLen := 12
	if len(tensor) != expectedLen {
		t.Errorf("Tensor Laenge = %d, erwartet %d", len(tensor), expectedLen)
	}

	// Erstes Pixel sollte [1.0, 0.0, 0.0] sein
	if tensor[0] != 1.0 {
		t.Errorf("R-Kanal = %f, erwartet 1.0", tensor[0])
	}
	if tensor[1] != 0.0 {
		t.Errorf("G-Kanal = %f, erwartet 0.0", tensor[1])
	}
	if tensor[2] != 0.0 {
		t.Errorf("B-Kanal = %f, erwartet 0.0", tensor[2])
	}

	if _, err := ToFloatTensor(img, 2); err == nil {
		t.Error("Erwartet Fehler bei 2 Kanaelen")
	}
}

func TestToFloatTensorLuma(t *testing.T) {
	img := createTestImage(3, 2, color.White)
	tensor, err := ToFloatTensor(img, 1)
	if err != nil {
		t.Fatalf("ToFloatTensor() error = %v", err)
	}

	if len(tensor) != 6 {
		t.Fatalf("Tensor Laenge = %d, erwartet 6", len(tensor))
	}
	for i, v := range tensor {
		if v != 1.0 {
			t.Errorf("Luma[%d] = %f, erwartet 1.0", i, v)
		}
	}
}

func TestToTensorCHWRange(t *testing.T) {
	tests := []struct {
		name     string
		c        color.Color
		expected float64
	}{
		{"Schwarz", color.Black, -1},
		{"Weiss", color.White, 1},
		{"Grau", color.RGBA{127, 127, 127, 255}, 127.0/255.0*2 - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := createTestImage(2, 2, tt.c)
			for _, channels := range []int{1, 3} {
				chw, err := ToTensorCHW(img, channels)
				if err != nil {
					t.Fatalf("ToTensorCHW() error = %v", err)
				}
				if len(chw) != channels*4 {
					t.Errorf("Tensor Laenge = %d, erwartet %d", len(chw), channels*4)
				}
				for i, v := range chw {
					if math.Abs(v-tt.expected) > 1e-9 {
						t.Errorf("Wert[%d] = %f, erwartet %f", i, v, tt.expected)
					}
				}
			}
		})
	}
}

func TestCHWTensorLayout(t *testing.T) {
	// HWC: [R0, G0, B0, R1, G1, B1, R2, G2, B2, R3, G3, B3] fuer 2x2 Bild
	hwc := []float64{
		1, 2, 3, // Pixel 0,0
		4, 5, 6, // Pixel 1,0
		7, 8, 9, // Pixel 0,1
		10, 11, 12, // Pixel 1,1
	}

	chw := CHWTensorLayout(hwc, 2, 2, 3)

	// CHW: [R0, R1, R2, R3, G0, G1, G2, G3, B0, B1, B2, B3]
	expectedR := []float64{1, 4, 7, 10}
	expectedG := []float64{2, 5, 8, 11}
	expectedB := []float64{3, 6, 9, 12}

	// Pruefe R-Kanal
	for i, v := range expectedR {
		if chw[i] != v {
			t.Errorf("R-Kanal[%d] = %f, erwartet %f", i, chw[i], v)
		}
	}
	// Pruefe G-Kanal
	for i, v := range expectedG {
		if chw[4+i] != v {
			t.Errorf("G-Kanal[%d] = %f, erwartet %f", i, chw[4+i], v)
		}
	}
	// Pruefe B-Kanal
	for i, v := range expectedB {
		if chw[8+i] != v {
			t.Errorf("B-Kanal[%d] = %f, erwartet %f", i, chw[8+i], v)
		}
	}
}

func TestHWCTensorLayout(t *testing.T) {
	// CHW: [R0, R1, R2, R3, G0, G1, G2, G3, B0, B1, B2, B3]
	chw := []uint8{
		1, 4, 7, 10, // R-Kanal
		2, 5, 8, 11, // G-Kanal
		3, 6, 9, 12, // B-Kanal
	}

	hwc := HWCTensorLayout(chw, 3, 2, 2)

	// HWC: [R0, G0, B0, R1, G1, B1, ...]
	expected := []uint8{
		1, 2, 3, // Pixel 0,0
		4, 5, 6, // Pixel 1,0
		7, 8, 9, // Pixel 0,1
		10, 11, 12, // Pixel 1,1
	}

	for i, v := range expected {
		if hwc[i] != v {
			t.Errorf("HWC[%d] = %d, erwartet %d", i, hwc[i], v)
		}
	}
}

func TestFromCHW(t *testing.T) {
	gray, err := FromCHW([]uint8{0, 64, 128, 255}, 1, 2, 2)
	if err != nil {
		t.Fatalf("FromCHW() error = %v", err)
	}
	if g, ok := gray.(*image.Gray); !ok || g.GrayAt(1, 1).Y != 255 {
		t.Errorf("FromCHW(1 Kanal) = %T, erwartet *image.Gray mit Pixel (1,1) = 255", gray)
	}

	rgb, err := FromCHW([]uint8{10, 20, 30, 40, 50, 60}, 3, 1, 2)
	if err != nil {
		t.Fatalf("FromCHW() error = %v", err)
	}
	got := rgb.(*image.RGBA).RGBAAt(1, 0)
	want := color.RGBA{20, 40, 60, 255}
	if got != want {
		t.Errorf("Pixel (1,0) = %v, erwartet %v", got, want)
	}

	if _, err := FromCHW([]uint8{1, 2, 3}, 1, 2, 2); err == nil {
		t.Error("Erwartet Fehler bei falscher Pixelanzahl")
	}
}

func TestImageInputTensorShape(t *testing.T) {
	img := createTestImage(100, 50, color.White)

	chw := img.TensorShape(3)
	if chw[0] != 3 || chw[1] != 50 || chw[2] != 100 {
		t.Errorf("TensorShape(3) = %v, erwartet [3, 50, 100]", chw)
	}

	gray := img.TensorShape(1)
	if gray[0] != 1 {
		t.Errorf("TensorShape(1) = %v, erwartet [1, 50, 100]", gray)
	}
}

func TestCHWHWCRoundtrip(t *testing.T) {
	// Originales HWC
	hwc := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	// Hin- und Rueckkonvertierung
	chw := CHWTensorLayout(hwc, 2, 2, 3)
	result := HWCTensorLayout(chw, 3, 2, 2)

	for i, v := range hwc {
		if result[i] != v {
			t.Errorf("Roundtrip[%d] = %f, erwartet %f", i, result[i], v)
		}
	}
}
