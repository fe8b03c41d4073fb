// Command calibrate estimates the intrinsic parameters of a camera from
// images of a calibration target.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"camera-calib/internal/config"
	"camera-calib/internal/report"
	"camera-calib/internal/version"
)

const (
	flagConfig      = "config"
	flagImages      = "images"
	flagBoardWidth  = "board-width"
	flagBoardHeight = "board-height"
	flagSquareSize  = "square-size"
	flagPattern     = "pattern"
	flagDebug       = "debug"
	flagResultsDir  = "results-dir"
	flagOutput      = "output"
	flagWorkers     = "workers"
	flagUndistort   = "undistort"
	flagBackend     = "backend"
	flagAlpha       = "alpha"
	flagMinViews    = "min-views"
	flagCalibration = "calibration"
	flagPrefix      = "prefix"
	flagCount       = "count"
	flagExt         = "ext"
	flagOut         = "out"
)

func main() {
	app := &cli.App{
		Name:    "calibrate",
		Usage:   "estimate camera intrinsics from images of a calibration target",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging and write annotated detections",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "calibrate from a list of images",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImages, Aliases: []string{"i"}, Required: true, Usage: "image list `FILE`"},
					&cli.IntFlag{Name: flagBoardWidth, Usage: "inner corners or circles per row"},
					&cli.IntFlag{Name: flagBoardHeight, Usage: "inner corners or circles per column"},
					&cli.Float64Flag{Name: flagSquareSize, Usage: "square or circle spacing in world units"},
					&cli.StringFlag{Name: flagPattern, Usage: "chessboard, circles_grid or asymmetric_circles_grid"},
					&cli.StringFlag{Name: flagResultsDir, Usage: "output `DIR`"},
					&cli.StringFlag{Name: flagOutput, Usage: "result name, written as NAME.yml"},
					&cli.IntFlag{Name: flagWorkers, Usage: "concurrent detections"},
					&cli.IntFlag{Name: flagMinViews, Usage: "fewest usable views to calibrate with"},
					&cli.Float64Flag{Name: flagAlpha, Usage: "undistortion scaling between 0 (valid pixels only) and 1 (all pixels)"},
					&cli.BoolFlag{Name: flagUndistort, Usage: "write undistorted copies of the accepted images"},
					&cli.StringFlag{Name: flagBackend, Usage: "undistortion backend: gocv or pure"},
					&cli.StringFlag{Name: flagConfig, Usage: "load configuration from `FILE`"},
					&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging and write annotated detections"},
				},
				Action: runCalibration,
			},
			{
				Name:  "undistort",
				Usage: "undistort images with a stored calibration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCalibration, Required: true, Usage: "stored calibration `FILE`"},
					&cli.StringFlag{Name: flagImages, Aliases: []string{"i"}, Required: true, Usage: "image list `FILE`"},
					&cli.StringFlag{Name: flagOut, Usage: "output `DIR`"},
					&cli.Float64Flag{Name: flagAlpha, Usage: "undistortion scaling between 0 and 1"},
					&cli.StringFlag{Name: flagBackend, Usage: "gocv or pure"},
				},
				Action: runUndistort,
			},
			{
				Name:  "list",
				Usage: "generate an image list",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagPrefix, Required: true, Usage: "path prefix, e.g. ../data/left"},
					&cli.IntFlag{Name: flagCount, Required: true, Usage: "number of images"},
					&cli.StringFlag{Name: flagExt, Value: ".jpg", Usage: "file extension"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "list `FILE` to write"},
				},
				Action: runList,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, report.Diagnose(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// loadConfig reads the configuration file and applies every flag the user set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(lineageString(c, flagConfig))
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet(flagPattern) {
		cfg.Pattern = c.String(flagPattern)
	}
	if c.IsSet(flagBoardWidth) {
		cfg.BoardWidth = c.Int(flagBoardWidth)
	}
	if c.IsSet(flagBoardHeight) {
		cfg.BoardHeight = c.Int(flagBoardHeight)
	}
	if c.IsSet(flagSquareSize) {
		cfg.SquareSize = c.Float64(flagSquareSize)
	}
	if c.IsSet(flagResultsDir) {
		cfg.ResultsDir = c.String(flagResultsDir)
	}
	if c.IsSet(flagOutput) {
		cfg.OutputName = c.String(flagOutput)
	}
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagMinViews) {
		cfg.MinViews = c.Int(flagMinViews)
	}
	if c.IsSet(flagAlpha) {
		cfg.Alpha = c.Float64(flagAlpha)
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagUndistort) {
		cfg.Undistort = c.Bool(flagUndistort)
	}
	if lineageBool(c, flagDebug) {
		cfg.Debug = true
	}
	return cfg, nil
}

// lineageString returns the first non-empty value of a flag defined both
// globally and on a command.
func lineageString(c *cli.Context, name string) string {
	for _, ctx := range c.Lineage() {
		if v := ctx.String(name); v != "" {
			return v
		}
	}
	return ""
}

func lineageBool(c *cli.Context, name string) bool {
	for _, ctx := range c.Lineage() {
		if ctx.Bool(name) {
			return true
		}
	}
	return false
}

func printf(c *cli.Context, format string, args ...interface{}) {
	fmt.Fprintf(c.App.Writer, format, args...)
}
