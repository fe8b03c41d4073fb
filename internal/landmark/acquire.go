package landmark

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"camera-calib/internal/pattern"
	"camera-calib/pkg/geometry"
)

// Acquirer detects landmarks across an image batch.
type Acquirer struct {
	Detector   Detector
	Refiner    Refiner
	Visualizer Visualizer

	// Criteria for chessboard refinement, DefaultSubPix when zero.
	Criteria SubPixCriteria
	// Debug passes every accepted frame to Visualizer.
	Debug bool
	// Workers > 1 runs detection concurrently. The result is identical to
	// the sequential run.
	Workers int

	Logger *zap.SugaredLogger
}

// Report lists which input positions were kept and which were evicted.
type Report struct {
	Total    int
	Accepted []int
	Rejected []int
}

type detection struct {
	points []geometry.Point2D
	ok     bool
}

// Acquire runs the detector on every image and shrinks *images in place to
// the images where the pattern was found. The returned observation sets are
// index aligned with the shrunk batch, and accepted images keep their
// original relative order.
//
// A frame that fails detection or refinement is evicted and processing
// continues; only an unsupported pattern type, a missing detector or a
// cancelled context fail the call. On failure the batch is left untouched.
func (a *Acquirer) Acquire(
	ctx context.Context,
	images *[]image.Image,
	boardSize geometry.Size,
	t pattern.Type,
) ([][]geometry.Point2D, Report, error) {
	flags, err := FlagsFor(t)
	if err != nil {
		return nil, Report{}, err
	}
	if a.Detector == nil {
		return nil, Report{}, errors.New("no landmark detector configured")
	}
	if images == nil {
		return nil, Report{}, errors.New("nil image batch")
	}
	batch := *images
	if t == pattern.Chessboard && a.Refiner == nil {
		a.logger().Warn("no sub-pixel refiner configured, chessboard corners are used unrefined")
	}

	var results []detection
	if a.Workers > 1 {
		results, err = a.detectParallel(ctx, batch, boardSize, t, flags)
	} else {
		results, err = a.detectSequential(ctx, batch, boardSize, t, flags)
	}
	if err != nil {
		return nil, Report{}, err
	}

	// Two-pointer compaction: write never passes read, so every accepted
	// image moves down into a slot that has already been examined.
	report := Report{Total: len(batch)}
	observations := make([][]geometry.Point2D, 0, len(batch))
	write := 0
	for read, res := range results {
		if !res.ok {
			report.Rejected = append(report.Rejected, read)
			continue
		}
		batch[write] = batch[read]
		observations = append(observations, res.points)
		report.Accepted = append(report.Accepted, read)
		a.show(read, batch[write], boardSize, res.points)
		write++
	}
	for i := write; i < len(batch); i++ {
		batch[i] = nil
	}
	*images = batch[:write]

	a.logger().Infow("landmark acquisition finished",
		"pattern", t.String(), "total", report.Total,
		"accepted", len(report.Accepted), "rejected", len(report.Rejected))
	return observations, report, nil
}

func (a *Acquirer) detectSequential(
	ctx context.Context,
	batch []image.Image,
	boardSize geometry.Size,
	t pattern.Type,
	flags DetectFlags,
) ([]detection, error) {
	results := make([]detection, len(batch))
	for i, img := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = a.detectOne(i, img, boardSize, t, flags)
	}
	return results, nil
}

// detectParallel partitions the work by index before any mutation, each
// goroutine writes only its own slot.
func (a *Acquirer) detectParallel(
	ctx context.Context,
	batch []image.Image,
	boardSize geometry.Size,
	t pattern.Type,
	flags DetectFlags,
) ([]detection, error) {
	results := make([]detection, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Workers)
	for i, img := range batch {
		i, img := i, img
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.detectOne(i, img, boardSize, t, flags)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Acquirer) detectOne(
	index int,
	img image.Image,
	boardSize geometry.Size,
	t pattern.Type,
	flags DetectFlags,
) detection {
	log := a.logger().With("image", index)
	if img == nil {
		log.Warn("image is nil, evicting")
		return detection{}
	}

	points, found, err := a.Detector.Detect(img, boardSize, t, flags)
	if err != nil {
		log.Warnw("detector failed, evicting", "error", err)
		return detection{}
	}
	if !found {
		log.Debug("pattern not found, evicting")
		return detection{}
	}
	if len(points) != boardSize.Area() {
		log.Warnw("detector returned wrong landmark count, evicting",
			"got", len(points), "want", boardSize.Area())
		return detection{}
	}

	if t == pattern.Chessboard && a.Refiner != nil {
		refined, err := a.Refiner.Refine(img, points, a.criteria())
		if err != nil {
			log.Warnw("sub-pixel refinement failed, evicting", "error", err)
			return detection{}
		}
		points = refined
	}
	return detection{points: points, ok: true}
}

func (a *Acquirer) show(index int, img image.Image, boardSize geometry.Size, points []geometry.Point2D) {
	if !a.Debug || a.Visualizer == nil {
		return
	}
	if err := a.Visualizer.Show(index, img, boardSize, points, true); err != nil {
		a.logger().Warnw("debug visualization failed", "image", index, "error", err)
	}
}

func (a *Acquirer) criteria() SubPixCriteria {
	if a.Criteria == (SubPixCriteria{}) {
		return DefaultSubPix
	}
	return a.Criteria
}

func (a *Acquirer) logger() *zap.SugaredLogger {
	if a.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return a.Logger
}
