package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/detection"
	"github.com/camcal/camcal/rimage/imagesource"
)

// writeBatch stores one blank image per detection with its corner file, plus three bad images.
func writeBatch(t *testing.T, dir string, dets []*detection.Detection) []string {
	t.Helper()
	d := &detection.CornerFileDetector{}
	img := imaging.New(testResolution.X, testResolution.Y, color.White)
	var paths []string
	for i, det := range dets {
		path := filepath.Join(dir, fmt.Sprintf("view_%02d.png", i))
		test.That(t, imaging.Save(img, path), test.ShouldBeNil)
		test.That(t, d.WriteCornerFile(path, testResolution, det), test.ShouldBeNil)
		paths = append(paths, path)
	}

	noPattern := filepath.Join(dir, "empty.png")
	test.That(t, imaging.Save(img, noPattern), test.ShouldBeNil)

	corrupt := filepath.Join(dir, "corrupt.png")
	test.That(t, os.WriteFile(corrupt, []byte("not a png"), 0o600), test.ShouldBeNil)

	short := filepath.Join(dir, "short.png")
	test.That(t, imaging.Save(img, short), test.ShouldBeNil)
	test.That(t, d.WriteCornerFile(short, testResolution, &detection.Detection{Points: dets[0].Points[:20]}), test.ShouldBeNil)

	return append(paths, noPattern, corrupt, short)
}

func TestCollectViews(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dets := syntheticDetections(t, 12)
	paths := writeBatch(t, t.TempDir(), dets)

	set, stats, err := CollectViews(context.Background(), paths, testPattern, &detection.CornerFileDetector{},
		BatchOptions{Parallelism: 4}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Total, test.ShouldEqual, 15)
	test.That(t, stats.Succeeded, test.ShouldEqual, 12)
	test.That(t, stats.Failed, test.ShouldEqual, 3)
	test.That(t, set.ViewCount(), test.ShouldEqual, 12)
	test.That(t, set.Resolution(), test.ShouldResemble, testResolution)

	for i, out := range stats.Outcomes[:12] {
		test.That(t, out.Path, test.ShouldEqual, paths[i])
		test.That(t, out.Err, test.ShouldBeNil)
		test.That(t, out.Points, test.ShouldEqual, 54)
	}
	test.That(t, errors.Is(stats.Outcomes[12].Err, errNoPattern), test.ShouldBeTrue)
	test.That(t, stats.Outcomes[13].Err, test.ShouldNotBeNil)
	test.That(t, errors.Is(stats.Outcomes[14].Err, calibration.ErrPointCountMismatch), test.ShouldBeTrue)

	// views keep path order regardless of which goroutine finished first
	views := set.Views()
	for i, v := range views {
		test.That(t, v.ImagePoints[0].X, test.ShouldAlmostEqual, dets[i].Points[0].X, 1e-9)
	}

	res, err := calibration.Calibrate(set, calibration.DefaultSolverConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Camera.Fx, test.ShouldAlmostEqual, testCamera.Fx, 1e-2)
}

func TestCollectViewsSkipsNonFiniteDetection(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dets := syntheticDetections(t, 6)
	paths := writeBatch(t, t.TempDir(), dets)[:6]

	// json cannot carry a NaN, so the corruption is injected after the corner file is read
	files := &detection.CornerFileDetector{}
	det := detection.DetectorFunc(func(ctx context.Context, frame imagesource.Frame) (*detection.Detection, error) {
		found, err := files.Detect(ctx, frame)
		if err != nil || found == nil || frame.Name != "view_02.png" {
			return found, err
		}
		found.Points[7].X = math.NaN()
		return found, nil
	})

	set, stats, err := CollectViews(context.Background(), paths, testPattern, det, BatchOptions{Parallelism: 3}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Total, test.ShouldEqual, 6)
	test.That(t, stats.Succeeded, test.ShouldEqual, 5)
	test.That(t, stats.Failed, test.ShouldEqual, 1)
	test.That(t, errors.Is(stats.Outcomes[2].Err, calibration.ErrNonFinitePoint), test.ShouldBeTrue)
	test.That(t, set.ViewCount(), test.ShouldEqual, 5)

	res, err := calibration.Calibrate(set, calibration.DefaultSolverConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.ViewCount, test.ShouldEqual, 5)
	test.That(t, res.Camera.Fx, test.ShouldAlmostEqual, testCamera.Fx, 1e-2)
}

func TestCollectViewsResized(t *testing.T) {
	logger := logging.NewTestLogger(t)
	paths := writeBatch(t, t.TempDir(), syntheticDetections(t, 4))

	opts := BatchOptions{}
	opts.Preprocess.ResizeWidth = 320
	set, stats, err := CollectViews(context.Background(), paths, testPattern, &detection.CornerFileDetector{}, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Succeeded, test.ShouldEqual, 4)
	test.That(t, set.Resolution(), test.ShouldResemble, image.Point{X: 320, Y: 240})
}

func TestCollectViewsTooFew(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	paths := writeBatch(t, t.TempDir(), syntheticDetections(t, 2))

	set, stats, err := CollectViews(context.Background(), paths, testPattern, &detection.CornerFileDetector{},
		BatchOptions{}, logger)
	test.That(t, errors.Is(err, calibration.ErrInsufficientViews), test.ShouldBeTrue)
	test.That(t, set.ViewCount(), test.ShouldEqual, 2)
	test.That(t, stats.Failed, test.ShouldEqual, 3)
	test.That(t, observed.FilterMessage("skipping image").Len(), test.ShouldEqual, 3)
}

func TestCollectViewsWarnsBelowRecommended(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	paths := writeBatch(t, t.TempDir(), syntheticDetections(t, 5))

	_, stats, err := CollectViews(context.Background(), paths, testPattern, &detection.CornerFileDetector{},
		BatchOptions{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Succeeded, test.ShouldEqual, 5)
	test.That(t, observed.FilterMessageSnippet("recommended").Len(), test.ShouldEqual, 1)
}

func TestCollectViewsInvalidInput(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, _, err := CollectViews(context.Background(), nil, calibration.PatternConfig{}, &detection.CornerFileDetector{},
		BatchOptions{}, logger)
	test.That(t, errors.Is(err, calibration.ErrInvalidPatternConfig), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = CollectViews(ctx, []string{"a.png"}, testPattern, &detection.CornerFileDetector{}, BatchOptions{}, logger)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
