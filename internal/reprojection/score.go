// Package reprojection measures how well a calibrated camera model explains
// the observed landmarks.
package reprojection

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"camera-calib/internal/camera"
	"camera-calib/pkg/geometry"
)

// ErrMismatch is returned when views, poses or point counts do not line up.
var ErrMismatch = errors.New("reprojection inputs do not line up")

// Errors holds the aggregate RMS error and one error per view, in pixels.
type Errors struct {
	RMS     float64
	PerView []float64
}

// Score projects every view's reference points through its pose and the
// model, and compares the prediction with the observed landmarks.
//
// For a view with n points and squared L2 norm e² of the stacked
// predicted-minus-observed vector, the view error is sqrt(e²/n). The
// aggregate is sqrt(Σe²/Σn), so views with more landmarks weigh more.
func Score(
	projector camera.Projector,
	model *camera.Model,
	references [][]r3.Vector,
	observations [][]geometry.Point2D,
	poses []camera.Pose,
) (Errors, error) {
	if len(references) != len(observations) || len(references) != len(poses) {
		return Errors{}, errors.Wrapf(ErrMismatch, "%d reference sets, %d observation sets, %d poses",
			len(references), len(observations), len(poses))
	}
	if projector == nil {
		projector = camera.PinholeProjector{}
	}

	var totalSq float64
	var totalPoints int
	perView := make([]float64, 0, len(references))
	for v := range references {
		if len(references[v]) != len(observations[v]) {
			return Errors{}, errors.Wrapf(ErrMismatch, "view %d: %d reference points, %d observations",
				v, len(references[v]), len(observations[v]))
		}
		predicted := projector.Project(references[v], poses[v], model.Matrix, model.Distortion)
		if len(predicted) != len(observations[v]) {
			return Errors{}, errors.Wrapf(ErrMismatch, "view %d: projector returned %d points", v, len(predicted))
		}

		norm := floats.Distance(flatten(predicted), flatten(observations[v]), 2)
		sq := norm * norm
		n := len(observations[v])

		viewErr := 0.0
		if n > 0 {
			viewErr = math.Sqrt(sq / float64(n))
		}
		perView = append(perView, viewErr)
		totalSq += sq
		totalPoints += n
	}

	rms := 0.0
	if totalPoints > 0 {
		rms = math.Sqrt(totalSq / float64(totalPoints))
	}
	return Errors{RMS: rms, PerView: perView}, nil
}

func flatten(points []geometry.Point2D) []float64 {
	out := make([]float64, 0, 2*len(points))
	for _, p := range points {
		out = append(out, p.X, p.Y)
	}
	return out
}

// Summary describes the spread of the per-view errors.
type Summary struct {
	Median float64
	Max    float64
	StdDev float64
	Worst  int
}

// Summary returns statistics over the per-view errors. Worst is the index
// of the view with the largest error, -1 when there are no views.
func (e Errors) Summary() (Summary, error) {
	if len(e.PerView) == 0 {
		return Summary{Worst: -1}, nil
	}
	data := stats.Float64Data(e.PerView)
	median, err := data.Median()
	if err != nil {
		return Summary{}, errors.Wrap(err, "median of per-view errors")
	}
	maxErr, err := data.Max()
	if err != nil {
		return Summary{}, errors.Wrap(err, "max of per-view errors")
	}
	stdDev, err := data.StandardDeviation()
	if err != nil {
		return Summary{}, errors.Wrap(err, "standard deviation of per-view errors")
	}
	return Summary{Median: median, Max: maxErr, StdDev: stdDev, Worst: floats.MaxIdx(e.PerView)}, nil
}
