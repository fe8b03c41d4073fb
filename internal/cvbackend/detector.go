package cvbackend

import (
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"camera-calib/internal/landmark"
	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

// Detector finds chessboard corners with findChessboardCorners and circle
// grids with a blob detector followed by pattern.OrderGrid.
type Detector struct{}

// Detect implements landmark.Detector.
func (Detector) Detect(
	img image.Image,
	boardSize geometry.Size,
	t pattern.Type,
	flags landmark.DetectFlags,
) ([]geometry.Point2D, bool, error) {
	src, err := grayMat(img)
	if err != nil {
		return nil, false, err
	}
	defer src.Close()

	switch t {
	case pattern.Chessboard:
		return detectChessboard(src, boardSize, flags)
	case pattern.CirclesGrid, pattern.AsymmetricCirclesGrid:
		return detectCircles(src, boardSize, t)
	default:
		return nil, false, t.Validate()
	}
}

func chessboardFlags(flags landmark.DetectFlags) gocv.CalibCBFlag {
	var f gocv.CalibCBFlag
	if flags.AdaptiveThreshold {
		f |= gocv.CalibCBAdaptiveThresh
	}
	if flags.FastCheck {
		f |= gocv.CalibCBFastCheck
	}
	if flags.NormalizeImage {
		f |= gocv.CalibCBNormalizeImage
	}
	return f
}

func detectChessboard(src gocv.Mat, boardSize geometry.Size, flags landmark.DetectFlags) ([]geometry.Point2D, bool, error) {
	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(src, boardSize.Point(), &corners, chessboardFlags(flags)) {
		return nil, false, nil
	}
	return pointsFromMat(corners), true, nil
}

func detectCircles(src gocv.Mat, boardSize geometry.Size, t pattern.Type) ([]geometry.Point2D, bool, error) {
	blobs := gocv.NewSimpleBlobDetector()
	defer blobs.Close()

	keypoints := blobs.Detect(src)
	centers := lo.Map(keypoints, func(k gocv.KeyPoint, _ int) geometry.Point2D {
		return geometry.NewPoint2D(k.X, k.Y)
	})
	ordered, ok := pattern.OrderGrid(t, centers, boardSize)
	return ordered, ok, nil
}

// Refiner runs cornerSubPix.
type Refiner struct{}

// Refine implements landmark.Refiner.
func (Refiner) Refine(img image.Image, points []geometry.Point2D, criteria landmark.SubPixCriteria) (refined []geometry.Point2D, err error) {
	src, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	corners := pointsToMat(points)
	defer func() {
		err = multierr.Combine(err, src.Close(), corners.Close())
	}()

	term := gocv.NewTermCriteria(gocv.Count+gocv.EPS, criteria.MaxIterations, criteria.Epsilon)
	gocv.CornerSubPix(src, &corners, criteria.Window.Point(), criteria.ZeroZone.Point(), term)

	refined = pointsFromMat(corners)
	if len(refined) != len(points) {
		return nil, errors.Errorf("refinement returned %d corners for %d", len(refined), len(points))
	}
	return refined, nil
}

var (
	_ landmark.Detector = Detector{}
	_ landmark.Refiner  = Refiner{}
)
