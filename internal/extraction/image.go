package extraction

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	apperrors "receipt-reconciliation-service/pkg/errors"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".heic": true,
	".heif": true,
	".pdf":  true,
}

// IsSupportedImage reports whether path has a receipt image extension
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListImages returns the supported files of dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.FileError(apperrors.CodeFileNotFound, dir, err)
		}
		return nil, apperrors.FileError(apperrors.CodeDirectoryError, dir, err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSupportedImage(entry.Name()) {
			continue
		}
		images = append(images, filepath.Join(dir, entry.Name()))
	}

	if len(images) == 0 {
		return nil, apperrors.ExtractionError(apperrors.CodeNoImages, dir, nil)
	}
	return images, nil
}

// PrepareImage reads the receipt at path and returns it as PNG. PDFs are
// rendered from their first page. With binarize the image is converted to
// black and white first.
func PrepareImage(path string, binarize bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileNotFound, path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".png" && !binarize {
		return data, nil
	}

	img, err := decodeImage(data, ext)
	if err != nil {
		return nil, apperrors.ExtractionError(apperrors.CodeUnsupportedImage, path, err)
	}

	if binarize {
		img = Binarize(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte, ext string) (image.Image, error) {
	switch {
	case ext == ".pdf":
		return pdfFirstPage(data)
	case ext == ".heic" || ext == ".heif" || isHEICFormat(data):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return img, nil
	}
}

func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks the ftyp box brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// Binarize converts img to grayscale and thresholds it with Otsu's method.
// Pixels above the threshold become white, the rest black.
func Binarize(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)

	var hist [256]int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			gray.SetGray(x, y, g)
			hist[g.Y]++
		}
	}

	threshold := otsuThreshold(hist, bounds.Dx()*bounds.Dy())
	for i, v := range gray.Pix {
		if v > threshold {
			gray.Pix[i] = 255
		} else {
			gray.Pix[i] = 0
		}
	}
	return gray
}

// otsuThreshold picks the level that maximizes between-class variance
func otsuThreshold(hist [256]int, total int) uint8 {
	if total == 0 {
		return 0
	}

	var sum float64
	for level, count := range hist {
		sum += float64(level * count)
	}

	var sumBack, weightBack, bestVariance float64
	threshold := 0
	for level := 0; level < 256; level++ {
		weightBack += float64(hist[level])
		if weightBack == 0 {
			continue
		}
		weightFore := float64(total) - weightBack
		if weightFore == 0 {
			break
		}

		sumBack += float64(level * hist[level])
		meanBack := sumBack / weightBack
		meanFore := (sum - sumBack) / weightFore

		variance := weightBack * weightFore * (meanBack - meanFore) * (meanBack - meanFore)
		if variance > bestVariance {
			bestVariance = variance
			threshold = level
		}
	}
	return uint8(threshold)
}
