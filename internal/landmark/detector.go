// Package landmark drives a pattern detector across a batch of calibration
// images and keeps only the frames in which the pattern was found.
package landmark

import (
	"image"

	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

// DetectFlags selects the detector strategy for a pattern type.
type DetectFlags struct {
	// Chessboard corner search.
	AdaptiveThreshold bool
	FastCheck         bool
	NormalizeImage    bool

	// Circle grid search.
	SymmetricGrid  bool
	AsymmetricGrid bool
}

// FlagsFor returns the detector flags used for a pattern type:
// adaptive threshold, fast reject and normalization for chessboards, and a
// blob grid search with the matching grid flag for the circle patterns.
func FlagsFor(t pattern.Type) (DetectFlags, error) {
	switch t {
	case pattern.Chessboard:
		return DetectFlags{AdaptiveThreshold: true, FastCheck: true, NormalizeImage: true}, nil
	case pattern.CirclesGrid:
		return DetectFlags{SymmetricGrid: true}, nil
	case pattern.AsymmetricCirclesGrid:
		return DetectFlags{AsymmetricGrid: true}, nil
	default:
		return DetectFlags{}, t.Validate()
	}
}

// Detector finds the ordered landmarks of a pattern in an image. Points
// must be returned in the row-major order of pattern.ReferenceModel.
// found=false with a nil error means the pattern is not visible.
type Detector interface {
	Detect(img image.Image, boardSize geometry.Size, t pattern.Type, flags DetectFlags) ([]geometry.Point2D, bool, error)
}

// SubPixCriteria configures corner refinement.
type SubPixCriteria struct {
	// Window is the half size of the search window; the full window is
	// (2*Window.Width+1) x (2*Window.Height+1).
	Window geometry.Size
	// ZeroZone is the half size of the dead region in the middle of the
	// search window; -1x-1 disables it.
	ZeroZone geometry.Size
	// Refinement stops after MaxIterations or when a corner moves less than Epsilon pixels.
	MaxIterations int
	Epsilon       float64
}

// DefaultSubPix is the refinement applied to chessboard corners.
var DefaultSubPix = SubPixCriteria{
	Window:        geometry.NewSize(11, 11),
	ZeroZone:      geometry.NewSize(-1, -1),
	MaxIterations: 30,
	Epsilon:       0.1,
}

// Refiner moves detected corners to sub-pixel precision.
type Refiner interface {
	Refine(img image.Image, points []geometry.Point2D, criteria SubPixCriteria) ([]geometry.Point2D, error)
}

// Visualizer receives every accepted frame when debugging is enabled.
type Visualizer interface {
	Show(index int, img image.Image, boardSize geometry.Size, points []geometry.Point2D, found bool) error
}
