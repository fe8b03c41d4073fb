package undistort

import (
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"camera-calib/internal/camera"
	"camera-calib/pkg/geometry"
)

// Applier undistorts images with a calibrated model. Maps are built once per
// image size and reused. It is safe for concurrent use.
type Applier struct {
	builder MapBuilder
	model   *camera.Model
	crop    bool

	mu   sync.Mutex
	maps map[geometry.Size]Map
}

// NewApplier returns an applier that crops results to the model's valid
// region. A nil builder means PixelMapBuilder.
func NewApplier(builder MapBuilder, model *camera.Model) *Applier {
	if builder == nil {
		builder = PixelMapBuilder{}
	}
	return &Applier{
		builder: builder,
		model:   model,
		crop:    true,
		maps:    map[geometry.Size]Map{},
	}
}

// SetCrop toggles cropping to the valid region.
func (a *Applier) SetCrop(crop bool) {
	a.crop = crop
}

func (a *Applier) mapFor(size geometry.Size) (Map, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.maps[size]; ok {
		return m, nil
	}
	target := a.model.OptimalMatrix
	if target == nil {
		target = a.model.Matrix
	}
	m, err := a.builder.BuildMap(a.model, target, size)
	if err != nil {
		return nil, errors.Wrapf(err, "building undistortion map for %s", size)
	}
	a.maps[size] = m
	return m, nil
}

// Apply undistorts one image.
func (a *Applier) Apply(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	m, err := a.mapFor(geometry.SizeOf(img))
	if err != nil {
		return nil, err
	}
	out, err := m.Remap(img)
	if err != nil {
		return nil, err
	}
	if !a.crop {
		return out, nil
	}
	region := a.model.ValidRegion.Intersect(out.Bounds())
	if region.Empty() || region == out.Bounds() {
		return out, nil
	}
	return imaging.Crop(out, region), nil
}

// ApplyBatch undistorts every image, stopping at the first failure.
func (a *Applier) ApplyBatch(images []image.Image) ([]image.Image, error) {
	out := make([]image.Image, 0, len(images))
	for i, img := range images {
		u, err := a.Apply(img)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		out = append(out, u)
	}
	return out, nil
}

// Close releases every cached map that holds native resources.
func (a *Applier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	for size, m := range a.maps {
		if c, ok := m.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
		delete(a.maps, size)
	}
	return err
}
