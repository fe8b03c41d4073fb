package camera

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"camera-calib/pkg/geometry"
)

// RegionEstimator derives the camera matrix to undistort into and the region
// of the undistorted image that only contains real source pixels.
//
// alpha = 0 keeps only valid pixels (the image is zoomed in), alpha = 1 keeps
// every source pixel (black borders may appear and are cropped by the region).
type RegionEstimator interface {
	OptimalNewMatrix(model *Model, size geometry.Size, alpha float64) (*mat.Dense, image.Rectangle, error)
}

// GridEstimator implements RegionEstimator by undistorting a regular grid of
// sample points over the image border and interior.
type GridEstimator struct {
	// Samples per axis, 9 when zero.
	Samples int
}

// OptimalNewMatrix implements RegionEstimator.
func (g GridEstimator) OptimalNewMatrix(model *Model, size geometry.Size, alpha float64) (*mat.Dense, image.Rectangle, error) {
	if err := model.CheckValid(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if !size.Valid() {
		return nil, image.Rectangle{}, errors.Errorf("invalid image size %s", size)
	}
	if alpha < 0 || alpha > 1 {
		return nil, image.Rectangle{}, errors.Errorf("alpha %v outside [0, 1]", alpha)
	}
	n := g.Samples
	if n < 2 {
		n = 9
	}
	return OptimalNewMatrix(model, size, alpha, n)
}

type frect struct {
	x, y, w, h float64
}

// OptimalNewMatrix interpolates between the matrix that maps the inner
// (all-valid) rectangle of the undistorted sample grid onto the full image
// and the one that maps the outer (all-source) rectangle onto it.
func OptimalNewMatrix(model *Model, size geometry.Size, alpha float64, samples int) (*mat.Dense, image.Rectangle, error) {
	w, h := float64(size.Width), float64(size.Height)

	// Step 1: rectangles in normalized coordinates
	inner, outer := sampleRectangles(model, size, samples, nil)
	if inner.w <= 0 || inner.h <= 0 || outer.w <= 0 || outer.h <= 0 {
		return nil, image.Rectangle{}, errors.Wrap(ErrOutOfRange, "distortion folds the image border")
	}

	fx0, fy0 := w/inner.w, h/inner.h
	cx0, cy0 := -fx0*inner.x, -fy0*inner.y
	fx1, fy1 := w/outer.w, h/outer.h
	cx1, cy1 := -fx1*outer.x, -fy1*outer.y

	newMatrix := NewMatrix(
		fx0*(1-alpha)+fx1*alpha,
		fy0*(1-alpha)+fy1*alpha,
		cx0*(1-alpha)+cx1*alpha,
		cy0*(1-alpha)+cy1*alpha,
	)

	// Step 2: valid region in the new image
	validInner, _ := sampleRectangles(model, size, samples, newMatrix)
	const slack = 1e-6
	x0 := int(math.Ceil(validInner.x - slack))
	y0 := int(math.Ceil(validInner.y - slack))
	roi := image.Rect(x0, y0,
		x0+int(math.Floor(validInner.w+slack)),
		y0+int(math.Floor(validInner.h+slack)),
	).Intersect(image.Rect(0, 0, size.Width, size.Height))

	return newMatrix, roi, nil
}

// sampleRectangles undistorts a samples x samples grid spanning the image.
// The outer rectangle bounds every undistorted sample; the inner one is
// bounded by the innermost samples of each image edge. With target nil the
// rectangles are in normalized coordinates, otherwise they are projected
// with target.
func sampleRectangles(model *Model, size geometry.Size, samples int, target *mat.Dense) (inner, outer frect) {
	iX0, iX1 := math.Inf(-1), math.Inf(1)
	iY0, iY1 := math.Inf(-1), math.Inf(1)
	oX0, oX1 := math.Inf(1), math.Inf(-1)
	oY0, oY1 := math.Inf(1), math.Inf(-1)

	fx, fy, cx, cy := model.Fx(), model.Fy(), model.Cx(), model.Cy()
	skew := model.Matrix.At(0, 1)
	last := float64(samples - 1)

	for yi := 0; yi < samples; yi++ {
		for xi := 0; xi < samples; xi++ {
			u := float64(xi) * float64(size.Width) / last
			v := float64(yi) * float64(size.Height) / last

			yd := (v - cy) / fy
			xd := (u - cx - skew*yd) / fx
			x, y := Undistort(model.Distortion, xd, yd)
			if target != nil {
				x = target.At(0, 0)*x + target.At(0, 2)
				y = target.At(1, 1)*y + target.At(1, 2)
			}

			oX0 = math.Min(oX0, x)
			oX1 = math.Max(oX1, x)
			oY0 = math.Min(oY0, y)
			oY1 = math.Max(oY1, y)

			if xi == 0 {
				iX0 = math.Max(iX0, x)
			}
			if xi == samples-1 {
				iX1 = math.Min(iX1, x)
			}
			if yi == 0 {
				iY0 = math.Max(iY0, y)
			}
			if yi == samples-1 {
				iY1 = math.Min(iY1, y)
			}
		}
	}
	inner = frect{x: iX0, y: iY0, w: iX1 - iX0, h: iY1 - iY0}
	outer = frect{x: oX0, y: oY0, w: oX1 - oX0, h: oY1 - oY0}
	return inner, outer
}
