package calibration

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrorStats summarizes reprojection error in pixels.
type ErrorStats struct {
	// PerViewRMS is index aligned with the views.
	PerViewRMS []float64
	// OverallRMS pools the squared errors of every point in every view.
	OverallRMS float64
	// MeanViewRMS and StdDevViewRMS describe the distribution of PerViewRMS.
	MeanViewRMS   float64
	StdDevViewRMS float64
	MaxViewRMS    float64
	MaxViewIndex  int
}

// AnalyzeReprojection projects every view's pattern points through camera and that view's pose and
// compares them with the observed points.
func AnalyzeReprojection(set *CorrespondenceSet, camera CameraParameters, poses []ViewPose) (*ErrorStats, error) {
	views := set.Views()
	if len(views) == 0 {
		return nil, errors.Wrap(ErrInsufficientViews, "no views to analyze")
	}
	if len(poses) != len(views) {
		return nil, errors.Errorf("%d poses for %d views", len(poses), len(views))
	}

	perView := make([]float64, len(views))
	sumSq := make([]float64, len(views))
	for i, v := range views {
		predicted, err := camera.Project(poses[i], v.ObjectPoints)
		if err != nil {
			return nil, err
		}
		for j, p := range predicted {
			d := p.Sub(v.ImagePoints[j])
			sumSq[i] += d.Dot(d)
		}
		perView[i] = math.Sqrt(sumSq[i] / float64(v.Len()))
	}

	total := lo.SumBy(views, func(v View) int { return v.Len() })
	out := &ErrorStats{
		PerViewRMS: perView,
		OverallRMS: math.Sqrt(lo.Sum(sumSq) / float64(total)),
	}
	var err error
	if out.MeanViewRMS, err = stats.Mean(perView); err != nil {
		return nil, err
	}
	if out.StdDevViewRMS, err = stats.StandardDeviationPopulation(perView); err != nil {
		return nil, err
	}
	if out.MaxViewRMS, err = stats.Max(perView); err != nil {
		return nil, err
	}
	out.MaxViewIndex = lo.IndexOf(perView, out.MaxViewRMS)
	return out, nil
}
