package main

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camera-calib/internal/calib"
	"camera-calib/internal/camera"
	"camera-calib/internal/config"
	"camera-calib/internal/cvbackend"
	"camera-calib/internal/imageset"
	"camera-calib/internal/landmark"
	"camera-calib/internal/resultstore"
	"camera-calib/internal/report"
	"camera-calib/internal/undistort"
)

func backendFor(name string) (camera.RegionEstimator, undistort.MapBuilder) {
	if name == config.BackendPure {
		return camera.GridEstimator{}, undistort.PixelMapBuilder{}
	}
	return cvbackend.RegionEstimator{}, cvbackend.MapBuilder{}
}

func runCalibration(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return &calib.StageError{Stage: calib.StageConfig, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &calib.StageError{Stage: calib.StageConfig, Err: err}
	}
	p, err := cfg.PatternType()
	if err != nil {
		return &calib.StageError{Stage: calib.StageConfig, Err: err}
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() {
		// stderr sync fails on some terminals
		_ = logger.Sync()
	}()

	paths, err := imageset.LoadList(c.String(flagImages))
	if err != nil {
		return err
	}
	images, err := imageset.Load(paths, true)
	if err != nil {
		return err
	}
	logger.Infow("images loaded", "count", len(images), "list", c.String(flagImages))

	estimator, builder := backendFor(cfg.Backend)
	opts := calib.DefaultOptions()
	opts.MinViews = cfg.MinViews
	opts.Alpha = cfg.Alpha
	opts.OutputName = cfg.OutputName

	store := resultstore.FileStore{Dir: cfg.ResultsDir}
	session, err := calib.NewSession(p,
		calib.WithOptions(opts),
		calib.WithAcquirer(&landmark.Acquirer{
			Detector:   cvbackend.Detector{},
			Refiner:    cvbackend.Refiner{},
			Visualizer: cvbackend.Visualizer{Dir: cfg.ResultsDir, Prefix: "left"},
			Debug:      cfg.Debug,
			Workers:    cfg.Workers,
		}),
		calib.WithSolver(cvbackend.Solver{}),
		calib.WithRegionEstimator(estimator),
		calib.WithStore(store),
		calib.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	result, err := session.Calibrate(c.Context, &images, cfg.BoardSize(), cfg.SquareSize)
	if err != nil {
		return err
	}

	views, err := report.Views(result)
	if err != nil {
		return err
	}
	printf(c, "%s\n%s\n", views, report.Model(session.Model()))
	color.New(color.FgGreen).Fprintln(c.App.Writer, report.Summary(result))
	printf(c, "calibration written to %s\n", store.Path(cfg.OutputName))

	if !cfg.Undistort {
		return nil
	}
	applier, err := session.Undistorter(builder)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, applier.Close())
	}()
	return writeUndistorted(c, logger, applier, images, cfg.ResultsDir, "undistorted")
}

func runUndistort(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return &calib.StageError{Stage: calib.StageConfig, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &calib.StageError{Stage: calib.StageConfig, Err: err}
	}
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	doc, err := resultstore.Load(c.String(flagCalibration))
	if err != nil {
		return err
	}
	model, err := doc.Model()
	if err != nil {
		return &calib.StageError{Stage: calib.StageValidation, Err: err}
	}
	estimator, builder := backendFor(cfg.Backend)
	model.OptimalMatrix, model.ValidRegion, err = estimator.OptimalNewMatrix(model, doc.ImageSize(), cfg.Alpha)
	if err != nil {
		return &calib.StageError{Stage: calib.StageUndistortion, Err: err}
	}

	paths, err := imageset.LoadList(c.String(flagImages))
	if err != nil {
		return err
	}
	images, err := imageset.Load(paths, false)
	if err != nil {
		return err
	}

	out := c.String(flagOut)
	if out == "" {
		out = cfg.ResultsDir
	}
	applier := undistort.NewApplier(builder, model)
	defer func() {
		err = multierr.Combine(err, applier.Close())
	}()
	return writeUndistorted(c, logger, applier, images, out, "undistorted")
}

func writeUndistorted(
	c *cli.Context,
	logger *zap.SugaredLogger,
	applier *undistort.Applier,
	images []image.Image,
	dir, prefix string,
) error {
	undistorted, err := applier.ApplyBatch(images)
	if err != nil {
		return &calib.StageError{Stage: calib.StageUndistortion, Err: err}
	}
	for i, img := range undistorted {
		path, err := imageset.Save(dir, fmt.Sprintf("%s%d.jpg", prefix, i), img)
		if err != nil {
			return err
		}
		logger.Debugw("undistorted image written", "path", path)
	}
	printf(c, "%d undistorted images written to %s\n", len(undistorted), dir)
	return nil
}

func runList(c *cli.Context) error {
	out := c.String(flagOut)
	if err := imageset.GenerateList(out, c.String(flagPrefix), c.Int(flagCount), c.String(flagExt)); err != nil {
		return errors.Wrap(err, "generating image list")
	}
	printf(c, "%d image names written to %s\n", c.Int(flagCount), filepath.Clean(out))
	return nil
}
