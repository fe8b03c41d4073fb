// Package pattern describes the supported calibration targets and generates
// the board-local 3D reference points for each of them.
package pattern

import (
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"camera-calib/pkg/geometry"
)

// Type identifies the physical layout of a calibration target.
type Type int

const (
	// Chessboard uses the inner corners of a black and white checkerboard.
	Chessboard Type = iota
	// CirclesGrid uses the centres of a symmetric grid of circles.
	CirclesGrid
	// AsymmetricCirclesGrid uses the centres of a staggered grid of circles,
	// every other row shifted by one spacing.
	AsymmetricCirclesGrid
)

var (
	// ErrUnknownType is returned for any pattern type outside the three supported ones.
	ErrUnknownType = errors.New("unknown calibration pattern type")
	// ErrInvalidBoard is returned for non-positive board dimensions or square size.
	ErrInvalidBoard = errors.New("invalid board geometry")
)

func (t Type) String() string {
	switch t {
	case Chessboard:
		return "chessboard"
	case CirclesGrid:
		return "circles_grid"
	case AsymmetricCirclesGrid:
		return "asymmetric_circles_grid"
	default:
		return "unknown"
	}
}

// Validate returns ErrUnknownType if t is not one of the supported types.
func (t Type) Validate() error {
	switch t {
	case Chessboard, CirclesGrid, AsymmetricCirclesGrid:
		return nil
	default:
		return errors.Wrapf(ErrUnknownType, "value %d", int(t))
	}
}

// ParseType converts a configuration string into a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chessboard", "checkerboard":
		return Chessboard, nil
	case "circles", "circles_grid":
		return CirclesGrid, nil
	case "asymmetric_circles", "asymmetric_circles_grid":
		return AsymmetricCirclesGrid, nil
	default:
		return 0, errors.Wrapf(ErrUnknownType, "%q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so the type reads naturally in config files.
func (t Type) MarshalText() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ReferenceModel returns the expected board-local positions of the pattern's
// landmarks in row-major scan order. Every point lies on the z=0 plane.
//
//	Chessboard, CirclesGrid:  (j*s, i*s, 0)
//	AsymmetricCirclesGrid:    ((2j + i%2)*s, i*s, 0)
//
// for rows i in [0, boardSize.Height) and columns j in [0, boardSize.Width).
func ReferenceModel(t Type, boardSize geometry.Size, squareSize float64) ([]r3.Vector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !boardSize.Valid() || squareSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidBoard, "board %s, square size %g", boardSize, squareSize)
	}

	points := make([]r3.Vector, 0, boardSize.Area())
	for i := 0; i < boardSize.Height; i++ {
		for j := 0; j < boardSize.Width; j++ {
			var x float64
			switch t {
			case Chessboard, CirclesGrid:
				x = float64(j) * squareSize
			case AsymmetricCirclesGrid:
				x = float64(2*j+i%2) * squareSize
			}
			points = append(points, r3.Vector{X: x, Y: float64(i) * squareSize, Z: 0})
		}
	}
	return points, nil
}

// ReferenceModels returns numViews independent copies of the reference model,
// one per accepted view, matching the solver's per-view interface.
func ReferenceModels(t Type, boardSize geometry.Size, squareSize float64, numViews int) ([][]r3.Vector, error) {
	model, err := ReferenceModel(t, boardSize, squareSize)
	if err != nil {
		return nil, err
	}
	models := make([][]r3.Vector, numViews)
	for v := range models {
		view := make([]r3.Vector, len(model))
		copy(view, model)
		models[v] = view
	}
	return models, nil
}
