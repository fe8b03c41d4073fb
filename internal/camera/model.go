// Package camera holds the intrinsic camera model produced by calibration and
// the pinhole projection with lens distortion used to score and apply it.
package camera

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/pattern"
)

// MaxDistortionCoefficients is the length of the rational distortion model
// (k1, k2, p1, p2, k3, k4, k5, k6).
const MaxDistortionCoefficients = 8

// ErrOutOfRange is returned when a model contains non-finite or nonsensical values.
var ErrOutOfRange = errors.New("camera model out of range")

// Model is the intrinsic model of a camera.
//
// Camera matrix:
//
//	[[fx  s cx],
//	 [ 0 fy cy],
//	 [ 0  0  1]]
//
// OptimalMatrix and ValidRegion are derived after a successful solve and are
// only used for undistortion.
type Model struct {
	Matrix     *mat.Dense
	Distortion []float64
	Pattern    pattern.Type

	OptimalMatrix *mat.Dense
	ValidRegion   image.Rectangle
}

// NewModel returns an identity camera matrix with eight zero distortion coefficients.
func NewModel(p pattern.Type) *Model {
	return &Model{
		Matrix:     identity(),
		Distortion: make([]float64, MaxDistortionCoefficients),
		Pattern:    p,
	}
}

// NewMatrix builds a camera matrix from focal lengths and principal point.
func NewMatrix(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})
}

func identity() *mat.Dense {
	return NewMatrix(1, 1, 0, 0)
}

// Fx returns the horizontal focal length in pixels.
func (m *Model) Fx() float64 { return m.Matrix.At(0, 0) }

// Fy returns the vertical focal length in pixels.
func (m *Model) Fy() float64 { return m.Matrix.At(1, 1) }

// Cx returns the principal point x coordinate.
func (m *Model) Cx() float64 { return m.Matrix.At(0, 2) }

// Cy returns the principal point y coordinate.
func (m *Model) Cy() float64 { return m.Matrix.At(1, 2) }

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := &Model{
		Pattern:     m.Pattern,
		ValidRegion: m.ValidRegion,
		Distortion:  append([]float64(nil), m.Distortion...),
	}
	if m.Matrix != nil {
		out.Matrix = mat.DenseCopyOf(m.Matrix)
	}
	if m.OptimalMatrix != nil {
		out.OptimalMatrix = mat.DenseCopyOf(m.OptimalMatrix)
	}
	return out
}

// CheckValid checks that the camera matrix is 3x3, every entry and distortion
// coefficient is finite, and both focal lengths are positive.
func (m *Model) CheckValid() error {
	if m == nil || m.Matrix == nil {
		return errors.Wrap(ErrOutOfRange, "camera matrix missing")
	}
	if r, c := m.Matrix.Dims(); r != 3 || c != 3 {
		return errors.Wrapf(ErrOutOfRange, "camera matrix is %dx%d, expected 3x3", r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if v := m.Matrix.At(i, j); !finite(v) {
				return errors.Wrapf(ErrOutOfRange, "camera matrix (%d,%d) = %v", i, j, v)
			}
		}
	}
	if m.Fx() <= 0 || m.Fy() <= 0 {
		return errors.Wrapf(ErrOutOfRange, "focal length fx=%v fy=%v", m.Fx(), m.Fy())
	}
	if len(m.Distortion) > MaxDistortionCoefficients {
		return errors.Wrapf(ErrOutOfRange, "%d distortion coefficients, at most %d supported",
			len(m.Distortion), MaxDistortionCoefficients)
	}
	for i, v := range m.Distortion {
		if !finite(v) {
			return errors.Wrapf(ErrOutOfRange, "distortion coefficient %d = %v", i, v)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MatrixRows returns the matrix as row-major values, the persisted layout.
func MatrixRows(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
