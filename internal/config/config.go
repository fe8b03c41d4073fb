// Package config provides the YAML configuration of the calibration tool.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

const configFile = "config.yml"

// Backends for the optimal matrix estimate and image remapping. Detection
// and the solve always run on gocv.
const (
	BackendGoCV = "gocv"
	BackendPure = "pure"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every tunable of a calibration run.
type Config struct {
	Pattern     string  `yaml:"pattern"`
	BoardWidth  int     `yaml:"board_width"`
	BoardHeight int     `yaml:"board_height"`
	SquareSize  float64 `yaml:"square_size"`

	// Alpha scales the undistorted view between only valid pixels (0) and
	// all source pixels (1).
	Alpha    float64 `yaml:"alpha"`
	MinViews int     `yaml:"min_views"`
	Workers  int     `yaml:"workers"`
	Debug    bool    `yaml:"debug"`

	ResultsDir string `yaml:"results_dir"`
	OutputName string `yaml:"output_name"`
	Backend    string `yaml:"backend"`
	Undistort  bool   `yaml:"undistort"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Pattern:     pattern.Chessboard.String(),
		BoardWidth:  9,
		BoardHeight: 6,
		SquareSize:  1,
		Alpha:       1,
		MinViews:    3,
		Workers:     1,
		ResultsDir:  "results",
		OutputName:  "camera_calibration",
		Backend:     BackendGoCV,
	}
}

// DefaultPath returns ~/.config/camera-calib/config.yml or its platform equivalent.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "camera-calib", configFile)
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value. A missing file at the default path is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// PatternType parses Pattern.
func (c Config) PatternType() (pattern.Type, error) {
	return pattern.ParseType(c.Pattern)
}

// BoardSize returns the board dimensions.
func (c Config) BoardSize() geometry.Size {
	return geometry.NewSize(c.BoardWidth, c.BoardHeight)
}

// Validate checks every field that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if _, err := c.PatternType(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if !c.BoardSize().Valid() {
		return errors.Wrapf(ErrInvalid, "board size %s", c.BoardSize())
	}
	if c.SquareSize <= 0 {
		return errors.Wrapf(ErrInvalid, "square size %g", c.SquareSize)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return errors.Wrapf(ErrInvalid, "alpha %g outside [0, 1]", c.Alpha)
	}
	if c.MinViews < 1 {
		return errors.Wrapf(ErrInvalid, "min views %d", c.MinViews)
	}
	if c.Workers < 1 {
		return errors.Wrapf(ErrInvalid, "workers %d", c.Workers)
	}
	if c.OutputName == "" || filepath.Base(c.OutputName) != c.OutputName {
		return errors.Wrapf(ErrInvalid, "output name %q", c.OutputName)
	}
	switch c.Backend {
	case BackendGoCV, BackendPure:
	default:
		return errors.Wrapf(ErrInvalid, "backend %q", c.Backend)
	}
	return nil
}
