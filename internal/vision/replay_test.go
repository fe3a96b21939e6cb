package vision

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestImage(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func TestImageSourceServesOnce(t *testing.T) {
	path := writeTestImage(t, 100, 80)

	source, err := NewImageSource(path)
	if err != nil {
		t.Fatalf("NewImageSource failed: %v", err)
	}
	defer source.Close()

	frame, err := source.ReadFrame()
	if err != nil {
		t.Fatalf("first ReadFrame failed: %v", err)
	}
	if want := image.Rect(0, 0, 100, 80); frame.Img.Bounds() != want {
		t.Errorf("frame bounds = %v, want %v", frame.Img.Bounds(), want)
	}

	if _, err := source.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadFrame = %v, want io.EOF", err)
	}

	source.Reset()
	if _, err := source.ReadFrame(); err != nil {
		t.Errorf("ReadFrame after Reset failed: %v", err)
	}
}

func TestImageSourceMissingFile(t *testing.T) {
	if _, err := NewImageSource(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("NewImageSource should fail for a missing file")
	}
}

func TestVideoSourceMissingFile(t *testing.T) {
	if _, err := NewVideoSource(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("NewVideoSource should fail for a missing file")
	}
}
