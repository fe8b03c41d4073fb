package calib

import (
	"context"
	"image"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/camera"
	"camera-calib/internal/landmark"
	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

var board = geometry.NewSize(4, 3)

func tagged(id uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	img.Pix[0] = id
	return img
}

func batch(n int) []image.Image {
	images := make([]image.Image, n)
	for i := range images {
		images[i] = tagged(uint8(i))
	}
	return images
}

type fakeDetector struct {
	miss map[uint8]bool
}

func (f *fakeDetector) Detect(img image.Image, size geometry.Size, _ pattern.Type, _ landmark.DetectFlags) ([]geometry.Point2D, bool, error) {
	id := img.(*image.Gray).Pix[0]
	if f.miss[id] {
		return nil, false, nil
	}
	pts := make([]geometry.Point2D, size.Area())
	for i := range pts {
		pts[i] = geometry.NewPoint2D(float64(i%size.Width)*5+float64(id), float64(i/size.Width)*5)
	}
	return pts, true, nil
}

type fakeSolver struct {
	matrix     *mat.Dense
	distortion []float64
	err        error
	dropPose   bool
	inputs     []SolveInput
}

func (f *fakeSolver) Solve(_ context.Context, in SolveInput) (SolveOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return SolveOutput{}, f.err
	}
	poses := make([]camera.Pose, len(in.ImagePoints))
	for i := range poses {
		poses[i] = camera.Pose{Translation: r3.Vector{Z: 100}}
	}
	if f.dropPose {
		poses = poses[1:]
	}
	m := f.matrix
	if m == nil {
		m = camera.NewMatrix(50, 50, 32, 24)
	}
	d := f.distortion
	if d == nil {
		d = make([]float64, 5)
	}
	return SolveOutput{Matrix: m, Distortion: d, Poses: poses, RMS: 0.25}, nil
}

type fakeStore struct {
	saved map[string]*Result
	err   error
}

func (f *fakeStore) Save(name string, result *Result) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = map[string]*Result{}
	}
	f.saved[name] = result
	return nil
}

func newTestSession(t *testing.T, det *fakeDetector, solver *fakeSolver, store *fakeStore, opts ...Option) *Session {
	t.Helper()
	all := []Option{
		WithAcquirer(&landmark.Acquirer{Detector: det}),
		WithSolver(solver),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}
	if store != nil {
		all = append(all, WithStore(store))
	}
	all = append(all, opts...)
	s, err := NewSession(pattern.Chessboard, all...)
	test.That(t, err, test.ShouldBeNil)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestNewSessionRejectsConfiguration(t *testing.T) {
	det := &fakeDetector{}
	solver := &fakeSolver{}

	_, err := NewSession(pattern.Type(42), WithAcquirer(&landmark.Acquirer{Detector: det}), WithSolver(solver))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, StageOf(err), test.ShouldEqual, StageConfig)
	test.That(t, errors.Is(err, pattern.ErrUnknownType), test.ShouldBeTrue)

	_, err = NewSession(pattern.Chessboard, WithSolver(solver))
	test.That(t, StageOf(err), test.ShouldEqual, StageConfig)

	_, err = NewSession(pattern.Chessboard, WithAcquirer(&landmark.Acquirer{Detector: det}))
	test.That(t, StageOf(err), test.ShouldEqual, StageConfig)

	opts := DefaultOptions()
	opts.Alpha = 1.5
	_, err = NewSession(pattern.Chessboard,
		WithAcquirer(&landmark.Acquirer{Detector: det}), WithSolver(solver), WithOptions(opts))
	test.That(t, StageOf(err), test.ShouldEqual, StageConfig)
}

func TestNewSessionInitialModel(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, nil)
	test.That(t, camera.MatrixRows(s.Model().Matrix), test.ShouldResemble, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, s.Model().Distortion, test.ShouldResemble, make([]float64, 8))
	test.That(t, s.Model().Pattern, test.ShouldEqual, pattern.Chessboard)
}

func TestCalibrate(t *testing.T) {
	det := &fakeDetector{miss: map[uint8]bool{1: true}}
	solver := &fakeSolver{}
	store := &fakeStore{}
	s := newTestSession(t, det, solver, store)

	images := batch(5)
	result, err := s.Calibrate(context.Background(), &images, board, 0.025)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, images, test.ShouldHaveLength, 4)
	test.That(t, result.Views(), test.ShouldEqual, 4)
	test.That(t, result.Errors.PerView, test.ShouldHaveLength, 4)
	test.That(t, result.ImagePoints, test.ShouldHaveLength, 4)
	test.That(t, result.Acquisition.Rejected, test.ShouldResemble, []int{1})
	test.That(t, result.ImageSize, test.ShouldResemble, geometry.NewSize(64, 48))
	test.That(t, result.BoardSize, test.ShouldResemble, board)
	test.That(t, result.SquareSize, test.ShouldEqual, 0.025)
	test.That(t, result.SolverRMS, test.ShouldEqual, 0.25)
	test.That(t, int(result.Flags), test.ShouldEqual, 6144)
	test.That(t, result.CalibratedAt.Year(), test.ShouldEqual, 2024)

	test.That(t, solver.inputs, test.ShouldHaveLength, 1)
	in := solver.inputs[0]
	test.That(t, in.ObjectPoints, test.ShouldHaveLength, 4)
	test.That(t, in.ObjectPoints[0], test.ShouldHaveLength, board.Area())
	test.That(t, in.ObjectPoints[0][5], test.ShouldResemble, r3.Vector{X: 0.025, Y: 0.025})
	test.That(t, in.ImageSize, test.ShouldResemble, geometry.NewSize(64, 48))
	test.That(t, in.Flags, test.ShouldEqual, DefaultFlags)
	test.That(t, in.Criteria, test.ShouldResemble, DefaultCriteria)
	test.That(t, in.InitialDistortion, test.ShouldHaveLength, 8)

	test.That(t, store.saved, test.ShouldHaveLength, 1)
	test.That(t, store.saved["camera_calibration"], test.ShouldEqual, result)

	model := s.Model()
	test.That(t, model.Fx(), test.ShouldEqual, 50.0)
	test.That(t, model.OptimalMatrix, test.ShouldNotBeNil)
	test.That(t, model.OptimalMatrix.At(0, 0), test.ShouldAlmostEqual, 50, 1e-6)
	test.That(t, model.ValidRegion, test.ShouldResemble, image.Rect(0, 0, 64, 48))

	// the persisted model is a snapshot
	test.That(t, result.Model, test.ShouldNotEqual, model)
	test.That(t, result.Model.Fx(), test.ShouldEqual, 50.0)
}

func TestCalibrateNoImages(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, &fakeStore{})
	var images []image.Image
	_, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, errors.Is(err, ErrNoImages), test.ShouldBeTrue)
	test.That(t, StageOf(err), test.ShouldEqual, StageDetection)

	_, err = s.Calibrate(context.Background(), nil, board, 1)
	test.That(t, errors.Is(err, ErrNoImages), test.ShouldBeTrue)
}

func TestCalibrateInvalidBoard(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, &fakeStore{})
	images := batch(3)
	_, err := s.Calibrate(context.Background(), &images, geometry.NewSize(0, 3), 1)
	test.That(t, errors.Is(err, pattern.ErrInvalidBoard), test.ShouldBeTrue)
	_, err = s.Calibrate(context.Background(), &images, board, 0)
	test.That(t, StageOf(err), test.ShouldEqual, StageConfig)
}

func TestCalibrateNoViews(t *testing.T) {
	det := &fakeDetector{miss: map[uint8]bool{0: true, 1: true, 2: true}}
	solver := &fakeSolver{}
	s := newTestSession(t, det, solver, &fakeStore{})
	images := batch(3)
	_, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, errors.Is(err, ErrNoViews), test.ShouldBeTrue)
	test.That(t, StageOf(err), test.ShouldEqual, StageDetection)
	test.That(t, images, test.ShouldBeEmpty)
	test.That(t, solver.inputs, test.ShouldBeEmpty)
}

func TestCalibrateInsufficientViews(t *testing.T) {
	det := &fakeDetector{miss: map[uint8]bool{0: true, 2: true}}
	solver := &fakeSolver{}
	s := newTestSession(t, det, solver, &fakeStore{})
	images := batch(4)
	_, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, errors.Is(err, ErrInsufficientViews), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "2 of 4")
	test.That(t, solver.inputs, test.ShouldBeEmpty)

	opts := DefaultOptions()
	opts.MinViews = 2
	s = newTestSession(t, det, solver, &fakeStore{}, WithOptions(opts))
	images = batch(4)
	_, err = s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, err, test.ShouldBeNil)
}

func TestCalibrateSolveFailure(t *testing.T) {
	solver := &fakeSolver{err: errors.New("did not converge")}
	store := &fakeStore{}
	s := newTestSession(t, &fakeDetector{}, solver, store)
	images := batch(3)
	_, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, errors.Is(err, ErrSolveFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "did not converge")
	test.That(t, StageOf(err), test.ShouldEqual, StageSolve)
	test.That(t, store.saved, test.ShouldBeEmpty)

	solver = &fakeSolver{dropPose: true}
	s = newTestSession(t, &fakeDetector{}, solver, store)
	images = batch(3)
	_, err = s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, errors.Is(err, ErrSolveFailed), test.ShouldBeTrue)
}

func TestCalibrateRejectsNonFiniteModel(t *testing.T) {
	for _, tc := range []struct {
		name       string
		matrix     *mat.Dense
		distortion []float64
	}{
		{"nan focal", camera.NewMatrix(math.NaN(), 50, 32, 24), nil},
		{"infinite distortion", nil, []float64{0, math.Inf(1), 0, 0, 0}},
		{"zero focal", camera.NewMatrix(0, 50, 32, 24), nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			s := newTestSession(t, &fakeDetector{}, &fakeSolver{matrix: tc.matrix, distortion: tc.distortion}, store)
			images := batch(3)
			_, err := s.Calibrate(context.Background(), &images, board, 1)
			test.That(t, errors.Is(err, camera.ErrOutOfRange), test.ShouldBeTrue)
			test.That(t, StageOf(err), test.ShouldEqual, StageValidation)
			test.That(t, store.saved, test.ShouldBeEmpty)
			test.That(t, s.Model().Fx(), test.ShouldEqual, 1.0)
			test.That(t, s.Model().OptimalMatrix, test.ShouldBeNil)
		})
	}
}

func TestCalibratePersistenceFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, store)
	images := batch(3)
	_, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, StageOf(err), test.ShouldEqual, StagePersistence)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk full")
	test.That(t, s.Model().Fx(), test.ShouldEqual, 1.0)
	test.That(t, s.Model().OptimalMatrix, test.ShouldBeNil)
}

type failingEstimator struct{}

func (failingEstimator) OptimalNewMatrix(*camera.Model, geometry.Size, float64) (*mat.Dense, image.Rectangle, error) {
	return nil, image.Rectangle{}, errors.New("estimator failed")
}

func TestCalibrateUndistortionFailureReturnsPersistedResult(t *testing.T) {
	store := &fakeStore{}
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, store, WithRegionEstimator(failingEstimator{}))
	images := batch(3)
	result, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, StageOf(err), test.ShouldEqual, StageUndistortion)
	test.That(t, result, test.ShouldNotBeNil)
	test.That(t, store.saved["camera_calibration"], test.ShouldEqual, result)
	test.That(t, result.Model.Fx(), test.ShouldEqual, 50.0)
	test.That(t, s.Model().Fx(), test.ShouldEqual, 1.0)

	_, err = s.Undistorter(nil)
	test.That(t, StageOf(err), test.ShouldEqual, StageUndistortion)
}

func TestCalibrateWithoutStore(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, nil)
	test.That(t, s.store, test.ShouldBeNil)
	images := batch(3)
	result, err := s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Views(), test.ShouldEqual, 3)
}

func TestCalibrateCancelled(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, &fakeStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	images := batch(3)
	_, err := s.Calibrate(ctx, &images, board, 1)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, images, test.ShouldHaveLength, 3)
}

func TestUndistorter(t *testing.T) {
	s := newTestSession(t, &fakeDetector{}, &fakeSolver{}, nil)
	_, err := s.Undistorter(nil)
	test.That(t, StageOf(err), test.ShouldEqual, StageUndistortion)

	images := batch(3)
	_, err = s.Calibrate(context.Background(), &images, board, 1)
	test.That(t, err, test.ShouldBeNil)

	u, err := s.Undistorter(nil)
	test.That(t, err, test.ShouldBeNil)
	out, err := u.Apply(images[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geometry.SizeOf(out), test.ShouldResemble, geometry.NewSize(64, 48))
	test.That(t, out.(*image.Gray).Pix[0], test.ShouldEqual, images[0].(*image.Gray).Pix[0])
	test.That(t, u.Close(), test.ShouldBeNil)
}

func TestNewSessionLeavesAcquirerUntouched(t *testing.T) {
	acq := &landmark.Acquirer{Detector: &fakeDetector{}}
	s, err := NewSession(pattern.Chessboard, WithAcquirer(acq), WithSolver(&fakeSolver{}),
		WithLogger(zaptest.NewLogger(t).Sugar()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, acq.Logger, test.ShouldBeNil)
	test.That(t, s.acquirer, test.ShouldNotEqual, acq)
	test.That(t, s.acquirer.Logger, test.ShouldNotBeNil)
}

func TestStageOf(t *testing.T) {
	err := stageErr(StageScoring, errors.New("boom"))
	test.That(t, StageOf(err), test.ShouldEqual, StageScoring)
	test.That(t, StageOf(errors.Wrap(err, "outer")), test.ShouldEqual, StageScoring)
	test.That(t, StageOf(errors.New("plain")), test.ShouldEqual, Stage(""))
	test.That(t, err.Error(), test.ShouldEqual, "calibration scoring stage failed: boom")
}

func TestFlagsString(t *testing.T) {
	test.That(t, DefaultFlags.String(), test.ShouldEqual, "fix_k4+fix_k5")
	test.That(t, Flags(0).String(), test.ShouldEqual, "none")
	test.That(t, DefaultFlags.Has(FixK4), test.ShouldBeTrue)
	test.That(t, DefaultFlags.Has(FixK3), test.ShouldBeFalse)
}
