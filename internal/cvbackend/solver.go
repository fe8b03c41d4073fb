package cvbackend

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"camera-calib/internal/calib"
	"camera-calib/internal/camera"
	"camera-calib/pkg/geometry"
)

// Solver runs calibrateCamera. gocv does not expose the termination
// criteria, so OpenCV's default of 30 iterations or machine epsilon always
// applies; that is also calib.DefaultCriteria.
type Solver struct{}

// Solve implements calib.Solver.
func (Solver) Solve(ctx context.Context, in calib.SolveInput) (out calib.SolveOutput, err error) {
	if err := ctx.Err(); err != nil {
		return calib.SolveOutput{}, err
	}
	if len(in.ObjectPoints) == 0 || len(in.ObjectPoints) != len(in.ImagePoints) {
		return calib.SolveOutput{}, errors.Errorf("%d object point sets for %d image point sets",
			len(in.ObjectPoints), len(in.ImagePoints))
	}

	objectPoints := gocv.NewPoints3fVectorFromPoints(lo.Map(in.ObjectPoints, func(view []r3.Vector, _ int) []gocv.Point3f {
		return lo.Map(view, func(p r3.Vector, _ int) gocv.Point3f {
			return gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
		})
	}))
	imagePoints := gocv.NewPoints2fVectorFromPoints(lo.Map(in.ImagePoints, func(view []geometry.Point2D, _ int) []gocv.Point2f {
		return lo.Map(view, func(p geometry.Point2D, _ int) gocv.Point2f {
			return gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		})
	}))
	defer objectPoints.Close()
	defer imagePoints.Close()

	var cameraMatrix gocv.Mat
	if in.InitialMatrix != nil {
		cameraMatrix = denseToMat(in.InitialMatrix)
	} else {
		cameraMatrix = gocv.NewMat()
	}
	distCoeffs := distortionToMat(in.InitialDistortion)
	rvecs := gocv.NewMat()
	tvecs := gocv.NewMat()
	defer func() {
		err = multierr.Combine(err, cameraMatrix.Close(), distCoeffs.Close(), rvecs.Close(), tvecs.Close())
	}()

	rms := gocv.CalibrateCamera(objectPoints, imagePoints, in.ImageSize.Point(),
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(in.Flags))
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return calib.SolveOutput{}, errors.Errorf("solver diverged, rms %v", rms)
	}
	if cameraMatrix.Rows() != 3 || cameraMatrix.Cols() != 3 {
		return calib.SolveOutput{}, errors.Errorf("solver returned a %dx%d camera matrix", cameraMatrix.Rows(), cameraMatrix.Cols())
	}
	if rvecs.Rows() != len(in.ImagePoints) || tvecs.Rows() != len(in.ImagePoints) {
		return calib.SolveOutput{}, errors.Errorf("solver returned %d rotations and %d translations for %d views",
			rvecs.Rows(), tvecs.Rows(), len(in.ImagePoints))
	}

	poses := lo.Times(rvecs.Rows(), func(i int) camera.Pose {
		r := rvecs.GetVecdAt(i, 0)
		t := tvecs.GetVecdAt(i, 0)
		return camera.Pose{
			Rotation:    r3.Vector{X: r[0], Y: r[1], Z: r[2]},
			Translation: r3.Vector{X: t[0], Y: t[1], Z: t[2]},
		}
	})
	return calib.SolveOutput{
		Matrix:     matToDense(cameraMatrix),
		Distortion: distortionFromMat(distCoeffs),
		Poses:      poses,
		RMS:        rms,
	}, nil
}

var _ calib.Solver = Solver{}
