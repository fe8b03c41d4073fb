package cvbackend

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/camera"
	"camera-calib/internal/undistort"
	"camera-calib/pkg/geometry"
)

// RegionEstimator runs getOptimalNewCameraMatrix.
type RegionEstimator struct{}

// OptimalNewMatrix implements camera.RegionEstimator.
func (RegionEstimator) OptimalNewMatrix(model *camera.Model, size geometry.Size, alpha float64) (k *mat.Dense, roi image.Rectangle, err error) {
	if err := model.CheckValid(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if !size.Valid() {
		return nil, image.Rectangle{}, errors.Errorf("invalid image size %s", size)
	}
	if alpha < 0 || alpha > 1 {
		return nil, image.Rectangle{}, errors.Errorf("alpha %v outside [0, 1]", alpha)
	}
	cameraMatrix := denseToMat(model.Matrix)
	distCoeffs := distortionToMat(model.Distortion)
	optimal, roi := gocv.GetOptimalNewCameraMatrixWithParams(cameraMatrix, distCoeffs, size.Point(), alpha, size.Point(), false)
	defer func() {
		err = multierr.Combine(err, cameraMatrix.Close(), distCoeffs.Close(), optimal.Close())
	}()
	if optimal.Rows() != 3 || optimal.Cols() != 3 {
		return nil, image.Rectangle{}, errors.New("getOptimalNewCameraMatrix returned no matrix")
	}
	return matToDense(optimal), roi, nil
}

// MapBuilder runs initUndistortRectifyMap. The maps it returns hold native
// memory and must be closed, undistort.Applier.Close does that.
type MapBuilder struct{}

// BuildMap implements undistort.MapBuilder.
func (MapBuilder) BuildMap(model *camera.Model, target mat.Matrix, size geometry.Size) (undistort.Map, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if !size.Valid() {
		return nil, errors.Errorf("invalid map size %s", size)
	}
	if target == nil {
		target = model.Matrix
	}
	cameraMatrix := denseToMat(model.Matrix)
	defer cameraMatrix.Close()
	distCoeffs := distortionToMat(model.Distortion)
	defer distCoeffs.Close()
	newMatrix := denseToMat(target)
	defer newMatrix.Close()
	rectification := gocv.NewMat()
	defer rectification.Close()

	m := &remapMap{size: size, map1: gocv.NewMat(), map2: gocv.NewMat()}
	gocv.InitUndistortRectifyMap(cameraMatrix, distCoeffs, rectification, newMatrix, size.Point(),
		int(gocv.MatTypeCV32FC1), m.map1, m.map2)
	if m.map1.Empty() {
		return nil, multierr.Append(errors.New("initUndistortRectifyMap produced no map"), m.Close())
	}
	return m, nil
}

type remapMap struct {
	size geometry.Size

	mu         sync.Mutex
	map1, map2 gocv.Mat
}

func (m *remapMap) Size() geometry.Size {
	return m.size
}

// Remap resamples with bilinear interpolation and a black constant border.
func (m *remapMap) Remap(img image.Image) (out image.Image, err error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if got := geometry.SizeOf(img); got != m.size {
		return nil, errors.Errorf("image is %s, map was built for %s", got, m.size)
	}
	src, err := imageMat(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	defer func() {
		err = multierr.Combine(err, src.Close(), dst.Close())
	}()

	m.mu.Lock()
	gocv.Remap(src, &dst, &m.map1, &m.map2, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	m.mu.Unlock()

	out, err = dst.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "converting remapped mat")
	}
	return out, nil
}

func (m *remapMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return multierr.Combine(m.map1.Close(), m.map2.Close())
}

var (
	_ camera.RegionEstimator = RegionEstimator{}
	_ undistort.MapBuilder   = MapBuilder{}
)
