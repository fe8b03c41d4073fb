// Package resultstore persists calibration results as OpenCV FileStorage
// compatible YAML documents.
package resultstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"camera-calib/internal/calib"
	"camera-calib/internal/camera"
	"camera-calib/internal/filestorage"
	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

// Extension of every stored document.
const Extension = ".yml"

// TimeLayout is the asctime layout OpenCV's calibration sample writes.
const TimeLayout = "Mon Jan _2 15:04:05 2006"

// ErrExists is returned when a result with the same name is already stored.
var ErrExists = errors.New("calibration result already exists")

// Document is the on-disk form of a calibration result.
type Document struct {
	CalibrationTime string       `yaml:"calibration_time"`
	ImageWidth      int          `yaml:"image_width"`
	ImageHeight     int          `yaml:"image_height"`
	BoardWidth      int          `yaml:"board_width"`
	BoardHeight     int          `yaml:"board_height"`
	SquareSize      float64      `yaml:"square_size"`
	Pattern         pattern.Type `yaml:"pattern"`
	Flags           int          `yaml:"flags"`
	FlagNames       string       `yaml:"flag_names,omitempty"`

	CameraMatrix           Matrix `yaml:"camera_matrix"`
	DistortionCoefficients Matrix `yaml:"distortion_coefficients"`

	SolverRMS            float64 `yaml:"solver_rms"`
	AvgReprojectionError float64 `yaml:"avg_reprojection_error"`

	PerViewErrors       *Matrix `yaml:"per_view_reprojection_errors,omitempty"`
	ExtrinsicParameters *Matrix `yaml:"extrinsic_parameters,omitempty"`
	ImagePoints         *Matrix `yaml:"image_points,omitempty"`
}

// NewDocument converts a result.
func NewDocument(r *calib.Result) (*Document, error) {
	if r == nil || r.Model == nil {
		return nil, errors.New("nil calibration result")
	}
	if err := r.Model.CheckValid(); err != nil {
		return nil, err
	}
	doc := &Document{
		CalibrationTime:        r.CalibratedAt.Format(TimeLayout),
		ImageWidth:             r.ImageSize.Width,
		ImageHeight:            r.ImageSize.Height,
		BoardWidth:             r.BoardSize.Width,
		BoardHeight:            r.BoardSize.Height,
		SquareSize:             r.SquareSize,
		Pattern:                r.Pattern,
		Flags:                  int(r.Flags),
		FlagNames:              r.Flags.String(),
		CameraMatrix:           fromDense(r.Model.Matrix),
		DistortionCoefficients: column(r.Model.Distortion),
		SolverRMS:              r.SolverRMS,
		AvgReprojectionError:   r.Errors.RMS,
	}
	if len(r.Errors.PerView) > 0 {
		m := column(r.Errors.PerView)
		doc.PerViewErrors = &m
	}
	if len(r.Poses) > 0 {
		m := Matrix{Rows: len(r.Poses), Cols: 6, DT: "d"}
		for _, p := range r.Poses {
			v := p.Vector()
			m.Data = append(m.Data, v[:]...)
		}
		doc.ExtrinsicParameters = &m
	}
	if len(r.ImagePoints) > 0 {
		m := Matrix{Rows: len(r.ImagePoints), Cols: len(r.ImagePoints[0]), DT: "2f"}
		for i, view := range r.ImagePoints {
			if len(view) != m.Cols {
				return nil, errors.Errorf("view %d has %d image points, want %d", i, len(view), m.Cols)
			}
			for _, pt := range view {
				m.Data = append(m.Data, pt.X, pt.Y)
			}
		}
		doc.ImagePoints = &m
	}
	return doc, nil
}

// Model rebuilds the camera model described by the document.
func (d *Document) Model() (*camera.Model, error) {
	k, err := d.CameraMatrix.Dense()
	if err != nil {
		return nil, errors.Wrap(err, "camera_matrix")
	}
	if err := d.DistortionCoefficients.check(); err != nil {
		return nil, errors.Wrap(err, "distortion_coefficients")
	}
	m := &camera.Model{
		Matrix:     k,
		Distortion: append([]float64(nil), d.DistortionCoefficients.Data...),
		Pattern:    d.Pattern,
	}
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	return m, nil
}

// ImageSize returns the stored image size.
func (d *Document) ImageSize() geometry.Size {
	return geometry.NewSize(d.ImageWidth, d.ImageHeight)
}

// Time parses calibration_time.
func (d *Document) Time() (time.Time, error) {
	return time.Parse(TimeLayout, d.CalibrationTime)
}

// Poses decodes extrinsic_parameters.
func (d *Document) Poses() ([]camera.Pose, error) {
	if d.ExtrinsicParameters == nil {
		return nil, nil
	}
	m := *d.ExtrinsicParameters
	if m.Cols != 6 {
		return nil, errors.Errorf("extrinsic_parameters has %d columns, want 6", m.Cols)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	poses := make([]camera.Pose, m.Rows)
	for i := range poses {
		var v [6]float64
		copy(v[:], m.Data[i*6:(i+1)*6])
		poses[i] = camera.PoseFromVector(v)
	}
	return poses, nil
}

// Marshal encodes the document with the OpenCV header.
func (d *Document) Marshal() ([]byte, error) {
	body, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "encoding calibration result")
	}
	return filestorage.WithHeader(body), nil
}

// Unmarshal decodes a document written by Marshal or by OpenCV.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(filestorage.StripHeader(data), &d); err != nil {
		return nil, errors.Wrap(err, "decoding calibration result")
	}
	return &d, nil
}

// Load reads a stored document.
func Load(path string) (*Document, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	d, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return d, nil
}

// FileStore writes one document per result into Dir.
type FileStore struct {
	Dir string
}

// Path returns where a result with the given name is stored.
func (s FileStore) Path(name string) string {
	return filepath.Join(s.Dir, name+Extension)
}

// Save implements calib.Store. Results are write-once: saving under an
// existing name fails with ErrExists and leaves the old file in place.
func (s FileStore) Save(name string, r *calib.Result) error {
	if name == "" || filepath.Base(name) != name {
		return errors.Errorf("invalid result name %q", name)
	}
	doc, err := NewDocument(r)
	if err != nil {
		return err
	}
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", s.Dir)
	}

	path := s.Path(name)
	tmp, err := os.CreateTemp(s.Dir, "."+name+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary result file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temporary result file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temporary result file")
	}

	// Unlike rename, link refuses to replace an existing file.
	if err := os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(ErrExists, path)
		}
		return errors.Wrapf(err, "publishing %s", path)
	}
	return nil
}

var _ calib.Store = FileStore{}
