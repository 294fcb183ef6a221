package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PatternKind names the physical calibration target.
type PatternKind string

const (
	// GridPattern is a chessboard; Columns x Rows counts its inner corners.
	GridPattern = PatternKind("grid")
	// FiducialPattern is a marker board; Columns x Rows counts its squares and the
	// (Columns-1) x (Rows-1) inner corners carry IDs.
	FiducialPattern = PatternKind("fiducial")
)

// PatternConfig describes the calibration target.
type PatternConfig struct {
	Kind    PatternKind `json:"kind"`
	Columns int         `json:"columns"`
	Rows    int         `json:"rows"`
	// Spacing is the distance between neighbouring points in world units.
	Spacing float64 `json:"spacing"`
}

// CornerGrid returns the dimensions of the point lattice the pattern produces.
func (cfg PatternConfig) CornerGrid() (int, int) {
	if cfg.Kind == FiducialPattern {
		return cfg.Columns - 1, cfg.Rows - 1
	}
	return cfg.Columns, cfg.Rows
}

// Validate ensures the pattern yields at least 4 points at a positive spacing.
func (cfg PatternConfig) Validate() error {
	switch cfg.Kind {
	case GridPattern, FiducialPattern:
	default:
		return errors.Wrapf(ErrInvalidPatternConfig, "unknown pattern kind %q", cfg.Kind)
	}
	cols, rows := cfg.CornerGrid()
	if cols <= 0 || rows <= 0 || cols*rows < 4 {
		return errors.Wrapf(ErrInvalidPatternConfig, "%s pattern %dx%d has fewer than 4 points", cfg.Kind, cfg.Columns, cfg.Rows)
	}
	if !(cfg.Spacing > 0) {
		return errors.Wrapf(ErrInvalidPatternConfig, "spacing must be positive, got %v", cfg.Spacing)
	}
	return nil
}

// ObjectPoints returns the canonical point layout on the Z = 0 plane.
// Points are enumerated row by row with the column index varying fastest: point
// row*cols + col sits at (col*Spacing, row*Spacing, 0). Detectors must report image points in
// this same order.
func (cfg PatternConfig) ObjectPoints() ([]r3.Vector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cols, rows := cfg.CornerGrid()
	pts := make([]r3.Vector, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			pts = append(pts, r3.Vector{X: float64(col) * cfg.Spacing, Y: float64(row) * cfg.Spacing})
		}
	}
	return pts, nil
}

// NewView pairs detected image points with the pattern's object points.
// With nil ids the detection must cover the whole pattern in canonical order. With ids, each
// image point is paired with the object point of that index, which lets a fiducial board be
// partially visible. Out of range or repeated ids reject the view.
func (cfg PatternConfig) NewView(points2D []r2.Point, ids []int) (View, error) {
	template, err := cfg.ObjectPoints()
	if err != nil {
		return View{}, err
	}
	if ids == nil {
		if len(points2D) != len(template) {
			return View{}, errors.Wrapf(ErrPointCountMismatch,
				"detected %d points, pattern has %d", len(points2D), len(template))
		}
		return NewView(points2D, template)
	}

	if len(ids) != len(points2D) {
		return View{}, errors.Wrapf(ErrPointCountMismatch, "%d ids for %d points", len(ids), len(points2D))
	}
	seen := make(map[int]struct{}, len(ids))
	points3D := make([]r3.Vector, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(template) {
			return View{}, errors.Wrapf(ErrPointCountMismatch, "point id %d outside pattern of %d points", id, len(template))
		}
		if _, ok := seen[id]; ok {
			return View{}, errors.Wrapf(ErrPointCountMismatch, "point id %d reported twice", id)
		}
		seen[id] = struct{}{}
		points3D[i] = template[id]
	}
	return NewView(points2D, points3D)
}
