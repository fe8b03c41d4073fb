// Package cvbackend implements the detection, refinement, solve and
// remapping collaborators on top of OpenCV through gocv.
package cvbackend

import (
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/imageset"
	"camera-calib/pkg/geometry"
)

// grayMat converts any image into an 8-bit single channel Mat.
func grayMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), errors.New("nil image")
	}
	m, err := gocv.ImageGrayToMatGray(imageset.ToGray(img))
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "converting image to gray mat")
	}
	return m, nil
}

// imageMat keeps gray images single channel, everything else becomes BGR.
func imageMat(img image.Image) (gocv.Mat, error) {
	if _, ok := img.(*image.Gray); ok {
		return grayMat(img)
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "converting image to mat")
	}
	return m, nil
}

// pointsFromMat reads an Nx1 CV_32FC2 or Nx2 CV_32F point Mat.
func pointsFromMat(m gocv.Mat) []geometry.Point2D {
	if m.Empty() {
		return nil
	}
	if m.Cols() == 2 && m.Channels() == 1 {
		return lo.Times(m.Rows(), func(i int) geometry.Point2D {
			return geometry.NewPoint2D(float64(m.GetFloatAt(i, 0)), float64(m.GetFloatAt(i, 1)))
		})
	}
	return lo.Times(m.Rows(), func(i int) geometry.Point2D {
		v := m.GetVecfAt(i, 0)
		return geometry.NewPoint2D(float64(v[0]), float64(v[1]))
	})
}

// pointsToMat builds an Nx2 CV_32F Mat.
func pointsToMat(points []geometry.Point2D) gocv.Mat {
	m := gocv.NewMatWithSize(len(points), 2, gocv.MatTypeCV32F)
	for i, p := range points {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

// denseToMat copies a gonum matrix into a CV_64F Mat.
func denseToMat(d mat.Matrix) gocv.Mat {
	r, c := d.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV64F)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.SetDoubleAt(i, j, d.At(i, j))
		}
	}
	return m
}

// matToDense copies a CV_64F Mat into a gonum matrix.
func matToDense(m gocv.Mat) *mat.Dense {
	d := mat.NewDense(m.Rows(), m.Cols(), nil)
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			d.Set(i, j, m.GetDoubleAt(i, j))
		}
	}
	return d
}

// distortionToMat returns a 1xN CV_64F row.
func distortionToMat(d []float64) gocv.Mat {
	if len(d) == 0 {
		return gocv.NewMat()
	}
	m := gocv.NewMatWithSize(1, len(d), gocv.MatTypeCV64F)
	for i, v := range d {
		m.SetDoubleAt(0, i, v)
	}
	return m
}

// distortionFromMat flattens a 1xN or Nx1 CV_64F Mat.
func distortionFromMat(m gocv.Mat) []float64 {
	n := m.Rows() * m.Cols()
	return lo.Times(n, func(i int) float64 {
		if m.Rows() == 1 {
			return m.GetDoubleAt(0, i)
		}
		return m.GetDoubleAt(i, 0)
	})
}
