package resultstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"camera-calib/internal/calib"
	"camera-calib/internal/camera"
	"camera-calib/internal/pattern"
	"camera-calib/internal/reprojection"
	"camera-calib/pkg/geometry"
)

func sampleResult() *calib.Result {
	model := camera.NewModel(pattern.AsymmetricCirclesGrid)
	model.Matrix = camera.NewMatrix(812.5, 810.25, 319.5, 239.5)
	model.Distortion = []float64{-0.21, 0.05, 0.001, -0.002, 0.01}
	return &calib.Result{
		CalibratedAt: time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC),
		ImageSize:    geometry.NewSize(640, 480),
		BoardSize:    geometry.NewSize(4, 11),
		SquareSize:   0.02,
		Pattern:      pattern.AsymmetricCirclesGrid,
		Flags:        calib.DefaultFlags,
		Model:        model,
		SolverRMS:    0.31,
		Errors:       reprojection.Errors{RMS: 0.3, PerView: []float64{0.25, 0.35}},
		Poses: []camera.Pose{
			{Rotation: r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}, Translation: r3.Vector{X: -0.05, Y: 0.02, Z: 0.6}},
			{Rotation: r3.Vector{X: -0.1}, Translation: r3.Vector{Z: 0.8}},
		},
		ImagePoints: [][]geometry.Point2D{
			{{X: 10, Y: 20}, {X: 30, Y: 40}},
			{{X: 11, Y: 21}, {X: 31, Y: 41}},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := FileStore{Dir: filepath.Join(t.TempDir(), "results")}
	result := sampleResult()
	test.That(t, store.Save("left", result), test.ShouldBeNil)

	data, err := os.ReadFile(store.Path("left"))
	test.That(t, err, test.ShouldBeNil)
	text := string(data)
	test.That(t, strings.HasPrefix(text, "%YAML:1.0\n"), test.ShouldBeTrue)
	test.That(t, text, test.ShouldContainSubstring, "camera_matrix: !!opencv-matrix")
	test.That(t, text, test.ShouldContainSubstring, "flags: 6144")
	test.That(t, text, test.ShouldContainSubstring, "calibration_time: Fri Mar  1 12:30:05 2024")
	test.That(t, text, test.ShouldContainSubstring, "pattern: asymmetric_circles_grid")

	doc, err := Load(store.Path("left"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, doc.ImageSize(), test.ShouldResemble, geometry.NewSize(640, 480))
	test.That(t, doc.BoardWidth, test.ShouldEqual, 4)
	test.That(t, doc.BoardHeight, test.ShouldEqual, 11)
	test.That(t, doc.SquareSize, test.ShouldEqual, 0.02)
	test.That(t, doc.Pattern, test.ShouldEqual, pattern.AsymmetricCirclesGrid)
	test.That(t, doc.Flags, test.ShouldEqual, int(calib.DefaultFlags))
	test.That(t, doc.AvgReprojectionError, test.ShouldEqual, 0.3)
	test.That(t, doc.PerViewErrors.Data, test.ShouldResemble, []float64{0.25, 0.35})
	test.That(t, doc.ImagePoints.Rows, test.ShouldEqual, 2)
	test.That(t, doc.ImagePoints.Cols, test.ShouldEqual, 2)
	test.That(t, doc.ImagePoints.Data, test.ShouldResemble, []float64{10, 20, 30, 40, 11, 21, 31, 41})

	when, err := doc.Time()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, when.Equal(result.CalibratedAt), test.ShouldBeTrue)

	model, err := doc.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, camera.MatrixRows(model.Matrix), test.ShouldResemble, camera.MatrixRows(result.Model.Matrix))
	test.That(t, model.Distortion, test.ShouldResemble, result.Model.Distortion)

	poses, err := doc.Poses()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses, test.ShouldResemble, result.Poses)
}

func TestSaveIsWriteOnce(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	test.That(t, store.Save("cam", sampleResult()), test.ShouldBeNil)
	before, err := os.ReadFile(store.Path("cam"))
	test.That(t, err, test.ShouldBeNil)

	second := sampleResult()
	second.SolverRMS = 9
	err = store.Save("cam", second)
	test.That(t, errors.Is(err, ErrExists), test.ShouldBeTrue)

	after, err := os.ReadFile(store.Path("cam"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldResemble, before)

	entries, err := os.ReadDir(store.Dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
}

func TestSaveRejects(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	test.That(t, store.Save("../escape", sampleResult()), test.ShouldNotBeNil)
	test.That(t, store.Save("", sampleResult()), test.ShouldNotBeNil)
	test.That(t, store.Save("nil", nil), test.ShouldNotBeNil)

	bad := sampleResult()
	bad.Model.Matrix.Set(0, 0, -1)
	err := store.Save("bad", bad)
	test.That(t, errors.Is(err, camera.ErrOutOfRange), test.ShouldBeTrue)
	_, statErr := os.Stat(store.Path("bad"))
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestOmitsEmptyViews(t *testing.T) {
	r := sampleResult()
	r.Poses, r.ImagePoints, r.Errors.PerView = nil, nil, nil
	doc, err := NewDocument(r)
	test.That(t, err, test.ShouldBeNil)
	data, err := doc.Marshal()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldNotContainSubstring, "extrinsic_parameters")
	test.That(t, string(data), test.ShouldNotContainSubstring, "image_points")
}

func TestUnmarshalOpenCVDocument(t *testing.T) {
	const src = `%YAML:1.0
---
image_width: 640
image_height: 480
camera_matrix: !!opencv-matrix
   rows: 3
   cols: 3
   dt: d
   data: [ 500., 0., 320., 0., 500., 240., 0., 0., 1. ]
distortion_coefficients: !!opencv-matrix
   rows: 5
   cols: 1
   dt: d
   data: [ -0.1, 0.01, 0., 0., 0. ]
`
	doc, err := Unmarshal([]byte(src))
	test.That(t, err, test.ShouldBeNil)
	model, err := doc.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Fx(), test.ShouldEqual, 500.0)
	test.That(t, model.Cy(), test.ShouldEqual, 240.0)
	test.That(t, model.Distortion, test.ShouldResemble, []float64{-0.1, 0.01, 0, 0, 0})

	poses, err := doc.Poses()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses, test.ShouldBeNil)
}

func TestMatrixValidation(t *testing.T) {
	_, err := Matrix{Rows: 2, Cols: 2, DT: "d", Data: []float64{1, 2, 3}}.Dense()
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Matrix{Rows: 1, Cols: 2, DT: "2f", Data: []float64{1, 2, 3, 4}}.Dense()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Matrix{Rows: 1, Cols: 2, DT: "2f", Data: []float64{1, 2, 3, 4}}.check(), test.ShouldBeNil)
}
