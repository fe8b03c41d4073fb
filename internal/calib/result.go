package calib

import (
	"time"

	"camera-calib/internal/camera"
	"camera-calib/internal/landmark"
	"camera-calib/internal/pattern"
	"camera-calib/internal/reprojection"
	"camera-calib/pkg/geometry"
)

// Result is the outcome of one successful calibration run. It is built once,
// persisted, and not modified afterwards.
type Result struct {
	CalibratedAt time.Time

	ImageSize  geometry.Size
	BoardSize  geometry.Size
	SquareSize float64
	Pattern    pattern.Type
	Flags      Flags

	// Model holds the solved camera matrix and distortion coefficients.
	Model *camera.Model

	// SolverRMS is the error reported by the solver itself; Errors is the
	// independently recomputed reprojection error.
	SolverRMS float64
	Errors    reprojection.Errors

	// Poses and ImagePoints are index aligned with Errors.PerView.
	Poses       []camera.Pose
	ImagePoints [][]geometry.Point2D

	Acquisition landmark.Report
}

// Views returns the number of accepted views.
func (r *Result) Views() int {
	return len(r.Poses)
}
