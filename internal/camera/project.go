package camera

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"camera-calib/pkg/geometry"
)

// Pose is the position of the calibration board relative to the camera for
// one view. Rotation is a Rodrigues vector (axis scaled by angle in radians).
type Pose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// Vector returns the pose as (rx, ry, rz, tx, ty, tz), one row of the
// persisted extrinsic parameters.
func (p Pose) Vector() [6]float64 {
	return [6]float64{
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
		p.Translation.X, p.Translation.Y, p.Translation.Z,
	}
}

// PoseFromVector is the inverse of Pose.Vector.
func PoseFromVector(v [6]float64) Pose {
	return Pose{
		Rotation:    r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Translation: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
}

// RotationMatrix converts the Rodrigues vector to a 3x3 rotation matrix:
//
//	R = cos(θ)I + (1-cos(θ))kkᵀ + sin(θ)[k]×
func (p Pose) RotationMatrix() *mat.Dense {
	theta := p.Rotation.Norm()
	if theta < 1e-12 {
		// first order: R ≈ I + [r]×
		r := p.Rotation
		return mat.NewDense(3, 3, []float64{
			1, -r.Z, r.Y,
			r.Z, 1, -r.X,
			-r.Y, r.X, 1,
		})
	}
	k := p.Rotation.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// Apply transforms a board point into camera coordinates.
func (p Pose) Apply(pt r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(p.RotationMatrix(), mat.NewVecDense(3, []float64{pt.X, pt.Y, pt.Z}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}.Add(p.Translation)
}

// Projector maps board points through a pose and intrinsic model to pixels.
type Projector interface {
	Project(points []r3.Vector, pose Pose, matrix mat.Matrix, distortion []float64) []geometry.Point2D
}

// PinholeProjector is the default Projector backed by Project.
type PinholeProjector struct{}

// Project implements Projector.
func (PinholeProjector) Project(points []r3.Vector, pose Pose, matrix mat.Matrix, distortion []float64) []geometry.Point2D {
	return Project(points, pose, matrix, distortion)
}

// Project applies the pose, the perspective division, the lens
// distortion and finally the camera matrix to every point. Points on the
// camera plane (z=0) are not divided.
func Project(points []r3.Vector, pose Pose, matrix mat.Matrix, distortion []float64) []geometry.Point2D {
	rot := pose.RotationMatrix()
	fx, skew, cx := matrix.At(0, 0), matrix.At(0, 1), matrix.At(0, 2)
	fy, cy := matrix.At(1, 1), matrix.At(1, 2)

	out := make([]geometry.Point2D, len(points))
	in := mat.NewVecDense(3, nil)
	var cam mat.VecDense
	for i, pt := range points {
		in.SetVec(0, pt.X)
		in.SetVec(1, pt.Y)
		in.SetVec(2, pt.Z)
		cam.MulVec(rot, in)

		x := cam.AtVec(0) + pose.Translation.X
		y := cam.AtVec(1) + pose.Translation.Y
		z := cam.AtVec(2) + pose.Translation.Z
		if z != 0 {
			x /= z
			y /= z
		}

		xd, yd := Distort(distortion, x, y)
		out[i] = geometry.Point2D{
			X: fx*xd + skew*yd + cx,
			Y: fy*yd + cy,
		}
	}
	return out
}
