// Package undistort builds rectification maps from a calibrated camera model
// and resamples images through them.
package undistort

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/camera"
	"camera-calib/pkg/geometry"
)

// Map resamples images of one size from distorted to undistorted.
type Map interface {
	Size() geometry.Size
	Remap(img image.Image) (image.Image, error)
}

// MapBuilder builds a Map that undistorts images taken with model and
// reprojects them with target.
type MapBuilder interface {
	BuildMap(model *camera.Model, target mat.Matrix, size geometry.Size) (Map, error)
}

// PixelMapBuilder builds PixelMaps.
type PixelMapBuilder struct{}

// BuildMap implements MapBuilder.
func (PixelMapBuilder) BuildMap(model *camera.Model, target mat.Matrix, size geometry.Size) (Map, error) {
	m, err := NewPixelMap(model, target, size)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PixelMap stores, for every destination pixel, the source coordinate to sample.
type PixelMap struct {
	size geometry.Size
	srcX []float32
	srcY []float32
}

// NewPixelMap computes the lookup table. Each destination pixel (u, v) is
// back-projected through the inverse of target onto the normalized image
// plane, pushed through the lens distortion, and projected with the
// model's own camera matrix.
func NewPixelMap(model *camera.Model, target mat.Matrix, size geometry.Size) (*PixelMap, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if !size.Valid() {
		return nil, errors.Errorf("invalid map size %s", size)
	}
	if target == nil {
		target = model.Matrix
	}
	var inv mat.Dense
	if err := inv.Inverse(target); err != nil {
		return nil, errors.Wrap(err, "target camera matrix is not invertible")
	}

	fx, fy, cx, cy := model.Fx(), model.Fy(), model.Cx(), model.Cy()
	skew := model.Matrix.At(0, 1)

	m := &PixelMap{
		size: size,
		srcX: make([]float32, size.Area()),
		srcY: make([]float32, size.Area()),
	}
	for v := 0; v < size.Height; v++ {
		for u := 0; u < size.Width; u++ {
			uf, vf := float64(u), float64(v)
			x := inv.At(0, 0)*uf + inv.At(0, 1)*vf + inv.At(0, 2)
			y := inv.At(1, 0)*uf + inv.At(1, 1)*vf + inv.At(1, 2)
			w := inv.At(2, 0)*uf + inv.At(2, 1)*vf + inv.At(2, 2)
			if w != 0 {
				x /= w
				y /= w
			}
			xd, yd := camera.Distort(model.Distortion, x, y)
			i := v*size.Width + u
			m.srcX[i] = float32(fx*xd + skew*yd + cx)
			m.srcY[i] = float32(fy*yd + cy)
		}
	}
	return m, nil
}

// Size implements Map.
func (m *PixelMap) Size() geometry.Size {
	return m.size
}

// Source returns the source coordinate sampled for destination pixel (u, v).
func (m *PixelMap) Source(u, v int) geometry.Point2D {
	i := v*m.size.Width + u
	return geometry.NewPoint2D(float64(m.srcX[i]), float64(m.srcY[i]))
}

// Remap implements Map with bilinear interpolation. Samples outside the
// source are black. Gray sources stay gray, everything else becomes RGBA.
func (m *PixelMap) Remap(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if got := geometry.SizeOf(img); got != m.size {
		return nil, errors.Errorf("image is %s, map was built for %s", got, m.size)
	}
	b := img.Bounds()
	dstRect := image.Rect(0, 0, m.size.Width, m.size.Height)

	if gray, ok := img.(*image.Gray); ok {
		dst := image.NewGray(dstRect)
		for v := 0; v < m.size.Height; v++ {
			for u := 0; u < m.size.Width; u++ {
				i := v*m.size.Width + u
				var px [4]float64
				sampleBilinear(gray, b, float64(m.srcX[i]), float64(m.srcY[i]), &px)
				dst.Pix[v*dst.Stride+u] = clamp8(px[0])
			}
		}
		return dst, nil
	}

	dst := image.NewRGBA(dstRect)
	for v := 0; v < m.size.Height; v++ {
		for u := 0; u < m.size.Width; u++ {
			i := v*m.size.Width + u
			var px [4]float64
			sampleBilinear(img, b, float64(m.srcX[i]), float64(m.srcY[i]), &px)
			o := v*dst.Stride + u*4
			dst.Pix[o] = clamp8(px[0])
			dst.Pix[o+1] = clamp8(px[1])
			dst.Pix[o+2] = clamp8(px[2])
			dst.Pix[o+3] = clamp8(px[3])
		}
	}
	return dst, nil
}

// sampleBilinear writes the interpolated RGBA value (0-255 range) at the
// bounds-relative position (x, y) into out.
func sampleBilinear(img image.Image, b image.Rectangle, x, y float64, out *[4]float64) {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	ax := x - float64(x0)
	ay := y - float64(y0)

	weights := [4]float64{(1 - ax) * (1 - ay), ax * (1 - ay), (1 - ax) * ay, ax * ay}
	offsets := [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	for k, off := range offsets {
		if weights[k] == 0 {
			continue
		}
		px, py := x0+off[0], y0+off[1]
		if px < 0 || py < 0 || px >= b.Dx() || py >= b.Dy() {
			continue
		}
		r, g, bl, a := rgba8(img.At(b.Min.X+px, b.Min.Y+py))
		out[0] += weights[k] * r
		out[1] += weights[k] * g
		out[2] += weights[k] * bl
		out[3] += weights[k] * a
	}
}

func rgba8(c color.Color) (float64, float64, float64, float64) {
	r, g, b, a := c.RGBA()
	return float64(r >> 8), float64(g >> 8), float64(b >> 8), float64(a >> 8)
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
