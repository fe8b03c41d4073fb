package calib

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"camera-calib/internal/camera"
	"camera-calib/internal/landmark"
	"camera-calib/internal/pattern"
	"camera-calib/internal/reprojection"
	"camera-calib/internal/undistort"
	"camera-calib/pkg/geometry"
)

// DefaultMinViews is the fewest accepted views a session will solve with.
const DefaultMinViews = 3

// Options tune a session. The zero value is not useful, start from DefaultOptions.
type Options struct {
	MinViews   int
	Flags      Flags
	Criteria   Criteria
	Alpha      float64
	OutputName string
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{
		MinViews:   DefaultMinViews,
		Flags:      DefaultFlags,
		Criteria:   DefaultCriteria,
		Alpha:      1.0,
		OutputName: "camera_calibration",
	}
}

// Session owns one camera model for its whole life. It is not safe for
// concurrent use.
type Session struct {
	opts      Options
	model     *camera.Model
	acquirer  *landmark.Acquirer
	solver    Solver
	projector camera.Projector
	estimator camera.RegionEstimator
	store     Store
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithOptions replaces the default options.
func WithOptions(o Options) Option {
	return func(s *Session) { s.opts = o }
}

// WithAcquirer sets the landmark acquirer.
func WithAcquirer(a *landmark.Acquirer) Option {
	return func(s *Session) { s.acquirer = a }
}

// WithSolver sets the calibration solver.
func WithSolver(solver Solver) Option {
	return func(s *Session) { s.solver = solver }
}

// WithProjector replaces the pinhole projector used for scoring.
func WithProjector(p camera.Projector) Option {
	return func(s *Session) { s.projector = p }
}

// WithRegionEstimator replaces the estimator of the undistortion matrix and valid region.
func WithRegionEstimator(e camera.RegionEstimator) Option {
	return func(s *Session) { s.estimator = e }
}

// WithStore sets where results are persisted. Without one nothing is written.
func WithStore(store Store) Option {
	return func(s *Session) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session for the given pattern type. An unsupported
// type is rejected here, before any image is looked at.
func NewSession(p pattern.Type, opts ...Option) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, stageErr(StageConfig, err)
	}
	s := &Session{
		opts:      DefaultOptions(),
		model:     camera.NewModel(p),
		projector: camera.PinholeProjector{},
		estimator: camera.GridEstimator{},
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.acquirer == nil || s.acquirer.Detector == nil {
		return nil, stageErr(StageConfig, errors.New("no landmark detector configured"))
	}
	if s.solver == nil {
		return nil, stageErr(StageConfig, errors.New("no calibration solver configured"))
	}
	// the caller's acquirer is copied, never modified
	acquirer := *s.acquirer
	if acquirer.Logger == nil {
		acquirer.Logger = s.logger
	}
	s.acquirer = &acquirer
	if s.opts.Alpha < 0 || s.opts.Alpha > 1 {
		return nil, stageErr(StageConfig, errors.Errorf("alpha %v outside [0, 1]", s.opts.Alpha))
	}
	return s, nil
}

// Model returns the session's camera model. Before a successful Calibrate it
// is the initial identity model.
func (s *Session) Model() *camera.Model {
	return s.model
}

// Calibrate runs the full pipeline on the batch. *images is shrunk in place
// to the accepted views. The session model is replaced only when every step
// succeeds. Nothing is persisted when detection, the solve, validation or
// scoring fails. If deriving the undistortion parameters fails after the
// result was persisted, the persisted result is returned with the error.
func (s *Session) Calibrate(
	ctx context.Context,
	images *[]image.Image,
	boardSize geometry.Size,
	squareSize float64,
) (*Result, error) {
	// Step 1: image size from the first raw image
	if images == nil || len(*images) == 0 || (*images)[0] == nil {
		return nil, stageErr(StageDetection, ErrNoImages)
	}
	if !boardSize.Valid() || squareSize <= 0 {
		return nil, stageErr(StageConfig, errors.Wrapf(pattern.ErrInvalidBoard,
			"board %s, square size %g", boardSize, squareSize))
	}
	imageSize := geometry.SizeOf((*images)[0])
	s.logger.Infow("starting calibration",
		"images", len(*images), "image_size", imageSize.String(),
		"board", boardSize.String(), "square_size", squareSize, "pattern", s.model.Pattern.String())

	// Step 2: landmarks
	observations, report, err := s.acquirer.Acquire(ctx, images, boardSize, s.model.Pattern)
	if err != nil {
		return nil, stageErr(StageDetection, err)
	}
	if len(observations) == 0 {
		return nil, stageErr(StageDetection, errors.Wrapf(ErrNoViews, "%d images tried", report.Total))
	}
	if minViews := s.minViews(); len(observations) < minViews {
		return nil, stageErr(StageDetection, errors.Wrapf(ErrInsufficientViews,
			"%d of %d images usable, need %d", len(observations), report.Total, minViews))
	}

	// Step 3: reference models
	references, err := pattern.ReferenceModels(s.model.Pattern, boardSize, squareSize, len(observations))
	if err != nil {
		return nil, stageErr(StageConfig, err)
	}

	// Step 4: solve
	out, err := s.solver.Solve(ctx, SolveInput{
		ObjectPoints:      references,
		ImagePoints:       observations,
		ImageSize:         imageSize,
		InitialMatrix:     mat.DenseCopyOf(s.model.Matrix),
		InitialDistortion: append([]float64(nil), s.model.Distortion...),
		Flags:             s.opts.Flags,
		Criteria:          s.opts.Criteria,
	})
	if err != nil {
		return nil, stageErr(StageSolve, errors.Wrap(ErrSolveFailed, err.Error()))
	}
	if len(out.Poses) != len(observations) {
		return nil, stageErr(StageSolve, errors.Wrapf(ErrSolveFailed,
			"solver returned %d poses for %d views", len(out.Poses), len(observations)))
	}

	// Step 5: validate before anything is kept
	solved := &camera.Model{Matrix: out.Matrix, Distortion: out.Distortion, Pattern: s.model.Pattern}
	if err := solved.CheckValid(); err != nil {
		s.logger.Errorw("solver returned an unusable model", "error", err)
		return nil, stageErr(StageValidation, err)
	}
	s.logger.Infow("solve finished", "solver_rms", out.RMS, "fx", solved.Fx(), "fy", solved.Fy(),
		"cx", solved.Cx(), "cy", solved.Cy())

	// Step 6: score, persist, derive undistortion parameters
	scored, err := reprojection.Score(s.projector, solved, references, observations, out.Poses)
	if err != nil {
		return nil, stageErr(StageScoring, err)
	}
	s.logger.Infow("reprojection error", "rms", scored.RMS, "views", len(scored.PerView))

	result := &Result{
		CalibratedAt: s.now(),
		ImageSize:    imageSize,
		BoardSize:    boardSize,
		SquareSize:   squareSize,
		Pattern:      solved.Pattern,
		Flags:        s.opts.Flags,
		Model:        solved.Clone(),
		SolverRMS:    out.RMS,
		Errors:       scored,
		Poses:        out.Poses,
		ImagePoints:  observations,
		Acquisition:  report,
	}

	if s.store != nil {
		if err := s.store.Save(s.opts.OutputName, result); err != nil {
			return nil, stageErr(StagePersistence, err)
		}
		s.logger.Infow("calibration saved", "name", s.opts.OutputName)
	} else {
		s.logger.Warn("no result store configured, calibration not persisted")
	}

	optimal, region, err := s.estimator.OptimalNewMatrix(solved, imageSize, s.opts.Alpha)
	if err != nil {
		return result, stageErr(StageUndistortion, err)
	}
	solved.OptimalMatrix = optimal
	solved.ValidRegion = region
	s.model = solved
	s.logger.Infow("undistortion parameters derived", "alpha", s.opts.Alpha, "valid_region", region.String())

	return result, nil
}

// Undistorter returns an applier for the calibrated model.
func (s *Session) Undistorter(builder undistort.MapBuilder) (*undistort.Applier, error) {
	if s.model.OptimalMatrix == nil {
		return nil, stageErr(StageUndistortion, errors.New("session has not been calibrated"))
	}
	return undistort.NewApplier(builder, s.model), nil
}

func (s *Session) minViews() int {
	if s.opts.MinViews < 1 {
		return 1
	}
	return s.opts.MinViews
}
