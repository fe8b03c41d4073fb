package cvbackend

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"camera-calib/internal/landmark"
	"camera-calib/pkg/geometry"
)

// Visualizer draws the detected landmarks onto each accepted frame and
// writes it to Dir as <Prefix><index>.jpg.
type Visualizer struct {
	Dir    string
	Prefix string
}

// Path returns the file a frame is written to.
func (v Visualizer) Path(index int) string {
	prefix := v.Prefix
	if prefix == "" {
		prefix = "view"
	}
	return filepath.Join(v.Dir, fmt.Sprintf("%s%d.jpg", prefix, index))
}

// Show implements landmark.Visualizer.
func (v Visualizer) Show(index int, img image.Image, boardSize geometry.Size, points []geometry.Point2D, found bool) (err error) {
	gray, err := grayMat(img)
	if err != nil {
		return err
	}
	display := gocv.NewMat()
	corners := pointsToMat(points)
	defer func() {
		err = multierr.Combine(err, gray.Close(), display.Close(), corners.Close())
	}()

	gocv.CvtColor(gray, &display, gocv.ColorGrayToBGR)
	gocv.DrawChessboardCorners(&display, boardSize.Point(), corners, found)

	if err := os.MkdirAll(v.Dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", v.Dir)
	}
	if path := v.Path(index); !gocv.IMWrite(path, display) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

var _ landmark.Visualizer = Visualizer{}
