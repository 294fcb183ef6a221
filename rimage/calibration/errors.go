// Package calibration estimates pinhole camera intrinsics, lens distortion and per-view board poses
// from planar pattern observations, and grades the result by its reprojection error.
package calibration

import "github.com/pkg/errors"

var (
	// ErrInvalidPatternConfig is returned when a pattern has fewer than 4 points or a non-positive spacing.
	ErrInvalidPatternConfig = errors.New("invalid pattern configuration")
	// ErrPointCountMismatch is returned when the 2D and 3D sides of a view do not pair up.
	ErrPointCountMismatch = errors.New("image and pattern point counts do not match")
	// ErrNonFinitePoint is returned when a view carries a NaN or infinite coordinate.
	ErrNonFinitePoint = errors.New("view point is not finite")
	// ErrResolutionMismatch is returned when a view's image size differs from earlier views.
	ErrResolutionMismatch = errors.New("view resolution differs from previous views")
	// ErrDegenerateConfiguration is returned when the views cannot determine the intrinsics in closed form.
	ErrDegenerateConfiguration = errors.New("degenerate calibration configuration")
	// ErrInsufficientViews is returned when fewer than MinimumViews views are given to the solver.
	ErrInsufficientViews = errors.New("insufficient views for calibration")
	// ErrSolverDivergence is returned when the damping grows past its bound without the cost improving.
	ErrSolverDivergence = errors.New("calibration solver diverged")
)

// MinimumViews is the fewest views that constrain the intrinsics.
const MinimumViews = 3
