package calibration

import (
	"github.com/pkg/errors"

	"github.com/camcal/camcal/logging"
)

// Calibrate runs the closed form initialization, the nonlinear refinement and the error analysis on
// the views in set. The set is only read.
func Calibrate(set *CorrespondenceSet, cfg SolverConfig, logger logging.Logger) (*CalibrationResult, error) {
	if set.ViewCount() < MinimumViews {
		return nil, errors.Wrapf(ErrInsufficientViews, "%d views, need at least %d", set.ViewCount(), MinimumViews)
	}
	solver, err := NewSolver(cfg, logger.Sublogger("solver"))
	if err != nil {
		return nil, err
	}
	cfg = solver.Config()

	logger.Infow("estimating initial parameters", "views", set.ViewCount(), "points", set.PointCount())
	initial, err := EstimateInitial(set, cfg.DistortionModel)
	if err != nil {
		return nil, err
	}
	logger.Debugw("initial intrinsics",
		"fx", initial.Camera.Fx, "fy", initial.Camera.Fy, "cx", initial.Camera.Cx, "cy", initial.Camera.Cy)
	for i, rms := range initial.HomographyRMS {
		logger.Debugw("homography fit", "view", i, "rms", rms)
	}

	sol, err := solver.Solve(set, initial)
	if err != nil {
		return nil, err
	}
	logger.Infow("solver finished",
		"iterations", sol.Report.Iterations,
		"initial_rms", sol.Report.InitialRMS,
		"final_rms", sol.Report.FinalRMS,
		"reason", string(sol.Report.Reason))
	if !sol.Report.Converged {
		logger.Warnf("solver stopped after %d iterations without converging", sol.Report.Iterations)
	}

	stats, err := AnalyzeReprojection(set, sol.Camera, sol.Poses)
	if err != nil {
		return nil, err
	}
	res := &CalibrationResult{
		Resolution: set.Resolution(),
		Camera:     sol.Camera,
		Poses:      sol.Poses,
		OverallRMS: stats.OverallRMS,
		PerViewRMS: stats.PerViewRMS,
		ViewCount:  set.ViewCount(),
		Verdict:    ClassifyRMS(stats.OverallRMS),
		Stats:      *stats,
		Report:     sol.Report,
	}
	logger.Infow("calibration complete", "rms", res.OverallRMS, "verdict", string(res.Verdict))
	return res, nil
}
