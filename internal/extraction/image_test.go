package extraction

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	apperrors "receipt-reconciliation-service/pkg/errors"
)

// twoToneImage is dark on the left half and light on the right
func twoToneImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(50)
			if x >= w/2 {
				v = 200
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "c.pdf", "d.heic", "notes.txt", "e.HEIF", "f.gif", "g.jpeg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.png"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	images, err := ListImages(dir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"a.png", "b.JPG", "c.pdf", "d.heic", "e.HEIF", "f.gif", "g.jpeg"}
	if len(images) != len(expected) {
		t.Fatalf("Expected %d images, got %d: %v", len(expected), len(images), images)
	}
	for i, name := range expected {
		if images[i] != filepath.Join(dir, name) {
			t.Errorf("Image %d: expected %s, got %s", i, name, images[i])
		}
	}
}

func TestListImages_Errors(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644)

	_, err := ListImages(dir)
	rerr, ok := apperrors.AsReconcilerError(err)
	if !ok || rerr.Code != apperrors.CodeNoImages {
		t.Errorf("Expected no images error, got %v", err)
	}

	_, err = ListImages(filepath.Join(dir, "missing"))
	rerr, ok = apperrors.AsReconcilerError(err)
	if !ok || rerr.Code != apperrors.CodeFileNotFound {
		t.Errorf("Expected file not found error, got %v", err)
	}
}

func TestPrepareImage(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "receipt.png")
	jpgPath := filepath.Join(dir, "receipt.jpg")
	writePNG(t, pngPath, twoToneImage(8, 4))
	writeJPEG(t, jpgPath, twoToneImage(8, 4))

	t.Run("png passes through", func(t *testing.T) {
		original, _ := os.ReadFile(pngPath)
		data, err := PrepareImage(pngPath, false)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !bytes.Equal(original, data) {
			t.Error("Expected PNG bytes to be returned unchanged")
		}
	})

	t.Run("jpeg is converted to png", func(t *testing.T) {
		data, err := PrepareImage(jpgPath, false)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		img, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Output does not decode: %v", err)
		}
		if format != "png" {
			t.Errorf("Expected png output, got %s", format)
		}
		if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
			t.Errorf("Unexpected bounds %v", img.Bounds())
		}
	})

	t.Run("binarize yields black and white", func(t *testing.T) {
		data, err := PrepareImage(pngPath, true)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Output does not decode: %v", err)
		}
		left := color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y
		right := color.GrayModel.Convert(img.At(7, 0)).(color.Gray).Y
		if left != 0 || right != 255 {
			t.Errorf("Expected left black and right white, got %d and %d", left, right)
		}
	})

	t.Run("unsupported content", func(t *testing.T) {
		bad := filepath.Join(dir, "broken.jpg")
		os.WriteFile(bad, []byte("not an image"), 0644)

		_, err := PrepareImage(bad, false)
		rerr, ok := apperrors.AsReconcilerError(err)
		if !ok || rerr.Code != apperrors.CodeUnsupportedImage {
			t.Errorf("Expected unsupported image error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := PrepareImage(filepath.Join(dir, "missing.jpg"), false); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}

func TestOtsuThreshold(t *testing.T) {
	var hist [256]int
	hist[50] = 10
	hist[200] = 10

	threshold := otsuThreshold(hist, 20)
	if threshold < 50 || threshold >= 200 {
		t.Errorf("Expected threshold between the two classes, got %d", threshold)
	}

	var flat [256]int
	flat[128] = 5
	if got := otsuThreshold(flat, 5); got != 0 {
		t.Errorf("Expected 0 for a single-level image, got %d", got)
	}
}

func TestIsHEICFormat(t *testing.T) {
	header := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
	if !isHEICFormat(header) {
		t.Error("Expected heic brand to be detected")
	}
	if isHEICFormat([]byte("\x89PNG\r\n\x1a\n0000")) {
		t.Error("Expected PNG header not to be detected as HEIC")
	}
}
