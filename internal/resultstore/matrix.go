package resultstore

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const matrixTag = "!!opencv-matrix"

// Matrix is an opencv-matrix node. Data is row-major; for multi-channel
// types such as "2f" every element contributes one value per channel.
type Matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	DT   string    `yaml:"dt"`
	Data []float64 `yaml:"data,flow"`
}

type plainMatrix Matrix

// MarshalYAML tags the node so OpenCV reads it back as a cv::Mat.
func (m Matrix) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := node.Encode(plainMatrix(m)); err != nil {
		return nil, err
	}
	node.Tag = matrixTag
	return &node, nil
}

// UnmarshalYAML accepts the tagged node.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: opencv-matrix must be a mapping", node.Line)
	}
	var p plainMatrix
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = Matrix(p)
	return nil
}

func (m Matrix) channels() int {
	if len(m.DT) > 1 && m.DT[0] >= '1' && m.DT[0] <= '9' {
		return int(m.DT[0] - '0')
	}
	return 1
}

func (m Matrix) check() error {
	if want := m.Rows * m.Cols * m.channels(); len(m.Data) != want {
		return errors.Errorf("opencv-matrix %dx%d (%s) has %d values, want %d",
			m.Rows, m.Cols, m.DT, len(m.Data), want)
	}
	return nil
}

// Dense converts a single channel matrix.
func (m Matrix) Dense() (*mat.Dense, error) {
	if m.channels() != 1 {
		return nil, errors.Errorf("opencv-matrix type %s is not single channel", m.DT)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.Rows == 0 || m.Cols == 0 {
		return nil, errors.New("empty opencv-matrix")
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...)), nil
}

func fromDense(d mat.Matrix) Matrix {
	r, c := d.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, d.At(i, j))
		}
	}
	return Matrix{Rows: r, Cols: c, DT: "d", Data: data}
}

func column(values []float64) Matrix {
	return Matrix{Rows: len(values), Cols: 1, DT: "d", Data: append([]float64(nil), values...)}
}
