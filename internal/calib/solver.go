// Package calib runs a calibration session: landmark acquisition, the
// intrinsic solve, validation, scoring, persistence and the derivation of
// undistortion parameters.
package calib

import (
	"context"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/camera"
	"camera-calib/pkg/geometry"
)

// Flags is a solver flag bitmask. Values match OpenCV's CALIB_* constants so
// they can be passed straight to an OpenCV backend and persisted as-is.
type Flags int

// Solver flags.
const (
	UseIntrinsicGuess Flags = 1 << 0
	FixAspectRatio    Flags = 1 << 1
	FixPrincipalPoint Flags = 1 << 2
	ZeroTangentDist   Flags = 1 << 3
	FixFocalLength    Flags = 1 << 4
	FixK1             Flags = 1 << 5
	FixK2             Flags = 1 << 6
	FixK3             Flags = 1 << 7
	FixK4             Flags = 1 << 11
	FixK5             Flags = 1 << 12
	FixK6             Flags = 1 << 13
	RationalModel     Flags = 1 << 14
)

// DefaultFlags keeps the two highest order radial terms out of the fit.
const DefaultFlags = FixK4 | FixK5

var flagNames = []struct {
	flag Flags
	name string
}{
	{UseIntrinsicGuess, "use_intrinsic_guess"},
	{FixAspectRatio, "fix_aspect_ratio"},
	{FixPrincipalPoint, "fix_principal_point"},
	{ZeroTangentDist, "zero_tangent_dist"},
	{FixFocalLength, "fix_focal_length"},
	{FixK1, "fix_k1"},
	{FixK2, "fix_k2"},
	{FixK3, "fix_k3"},
	{FixK4, "fix_k4"},
	{FixK5, "fix_k5"},
	{FixK6, "fix_k6"},
	{RationalModel, "rational_model"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Criteria terminates the solver's iterative refinement.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
}

// DefaultCriteria stops after 30 iterations or a machine-epsilon improvement.
var DefaultCriteria = Criteria{MaxIterations: 30, Epsilon: math.Nextafter(1, 2) - 1}

// SolveInput is the per-view correspondence set handed to a Solver.
type SolveInput struct {
	ObjectPoints      [][]r3.Vector
	ImagePoints       [][]geometry.Point2D
	ImageSize         geometry.Size
	InitialMatrix     *mat.Dense
	InitialDistortion []float64
	Flags             Flags
	Criteria          Criteria
}

// SolveOutput is the refined model and one pose per view.
type SolveOutput struct {
	Matrix     *mat.Dense
	Distortion []float64
	Poses      []camera.Pose
	RMS        float64
}

// Solver estimates the intrinsic model by minimizing total reprojection error.
type Solver interface {
	Solve(ctx context.Context, in SolveInput) (SolveOutput, error)
}

// Store persists a finished calibration under a caller supplied name.
type Store interface {
	Save(name string, result *Result) error
}
