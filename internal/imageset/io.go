package imageset

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/image/draw"

	// Decoders beyond the ones imaging registers by default.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedFormats returns the image extensions Load accepts.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".gif"}
}

// IsSupportedFormat checks the path's extension.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// LoadImage decodes one image, optionally converting it to 8-bit gray.
func LoadImage(path string, gray bool) (image.Image, error) {
	if !IsSupportedFormat(path) {
		return nil, errors.Errorf("%s: unsupported image format", path)
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", path)
	}
	if gray {
		return ToGray(img), nil
	}
	return img, nil
}

// Load decodes every path in order. Every unreadable file is reported, not
// only the first.
func Load(paths []string, gray bool) ([]image.Image, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyList
	}
	images := make([]image.Image, len(paths))
	var errs error
	for i, path := range paths {
		img, err := LoadImage(path, gray)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		images[i] = img
	}
	if errs != nil {
		return nil, errs
	}
	return images, nil
}

// ToGray converts to *image.Gray with its origin at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Save writes img to dir/name, creating dir. The format follows name's extension.
func Save(dir, name string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}
	path := filepath.Join(dir, name)
	if err := imaging.Save(img, path); err != nil {
		return "", errors.Wrapf(err, "saving %s", path)
	}
	return path, nil
}
