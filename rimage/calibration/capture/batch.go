package capture

import (
	"context"
	"image"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/detection"
	"github.com/camcal/camcal/rimage/imagesource"
)

// RecommendedViews is the view count below which a batch run warns.
const RecommendedViews = 10

// BatchOptions configures offline collection.
type BatchOptions struct {
	// Parallelism bounds concurrent image decoding and detection. Zero uses GOMAXPROCS.
	Parallelism int
	Preprocess  imagesource.PreprocessOptions
}

// ImageOutcome is what happened to one image.
type ImageOutcome struct {
	Path   string
	Points int
	// Err is nil for an image that became a view.
	Err error
}

// BatchStats summarizes a collection.
type BatchStats struct {
	Total     int
	Succeeded int
	Failed    int
	Outcomes  []ImageOutcome
}

type detected struct {
	view       calibration.View
	resolution image.Point
}

// CollectViews detects the pattern in every image in paths. Images are decoded and searched
// concurrently; the resulting views are added to the set in path order. An image that cannot be
// decoded, shows no pattern or yields an invalid view is skipped and counted as a failure. Fewer
// than calibration.MinimumViews successful views is an error wrapping ErrInsufficientViews; the
// partial set and stats are still returned.
func CollectViews(
	ctx context.Context,
	paths []string,
	pattern calibration.PatternConfig,
	det detection.Detector,
	opts BatchOptions,
	logger logging.Logger,
) (*calibration.CorrespondenceSet, *BatchStats, error) {
	if err := pattern.Validate(); err != nil {
		return nil, nil, err
	}
	if err := opts.Preprocess.Validate(); err != nil {
		return nil, nil, err
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	results := make([]detected, len(paths))
	failures := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view, res, err := detectImage(gctx, path, pattern, det, opts.Preprocess)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = detected{view: view, resolution: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	set := calibration.NewCorrespondenceSet()
	stats := &BatchStats{Total: len(paths), Outcomes: make([]ImageOutcome, len(paths))}
	for i, path := range paths {
		out := ImageOutcome{Path: path, Err: failures[i]}
		if out.Err == nil {
			out.Err = set.Add(results[i].resolution, results[i].view)
		}
		if out.Err != nil {
			stats.Failed++
			logger.Warnw("skipping image", "image", path, "error", out.Err)
		} else {
			stats.Succeeded++
			out.Points = results[i].view.Len()
			logger.Infow("pattern found", "image", path, "points", out.Points)
		}
		stats.Outcomes[i] = out
	}
	logger.Infow("images processed", "succeeded", stats.Succeeded, "failed", stats.Failed)

	if stats.Succeeded < calibration.MinimumViews {
		return set, stats, errors.Wrapf(calibration.ErrInsufficientViews,
			"%d usable images, need at least %d", stats.Succeeded, calibration.MinimumViews)
	}
	if stats.Succeeded < RecommendedViews {
		logger.Warnf("only %d usable images; %d or more are recommended", stats.Succeeded, RecommendedViews)
	}
	return set, stats, nil
}

// errNoPattern marks an image in which the detector found nothing.
var errNoPattern = errors.New("pattern not found")

func detectImage(
	ctx context.Context,
	path string,
	pattern calibration.PatternConfig,
	det detection.Detector,
	prep imagesource.PreprocessOptions,
) (calibration.View, image.Point, error) {
	frame, err := imagesource.LoadFrame(path)
	if err != nil {
		return calibration.View{}, image.Point{}, err
	}
	frame.Image = imagesource.Preprocess(frame.Image, prep)
	found, err := det.Detect(ctx, frame)
	if err != nil {
		return calibration.View{}, image.Point{}, err
	}
	if found == nil {
		return calibration.View{}, image.Point{}, errNoPattern
	}
	view, err := pattern.NewView(found.Points, found.IDs)
	if err != nil {
		return calibration.View{}, image.Point{}, err
	}
	return view, frame.Size(), nil
}
