package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// minViewPoints is the fewest correspondences that determine a planar homography.
const minViewPoints = 4

// View is one observation of the pattern: image points and the pattern points they correspond to,
// index for index.
type View struct {
	ImagePoints  []r2.Point
	ObjectPoints []r3.Vector
}

// NewView copies the two point lists into a View after checking that they pair up.
func NewView(points2D []r2.Point, points3D []r3.Vector) (View, error) {
	if len(points2D) == 0 || len(points3D) == 0 {
		return View{}, errors.Wrapf(ErrPointCountMismatch, "empty view (%d image, %d pattern points)", len(points2D), len(points3D))
	}
	if len(points2D) != len(points3D) {
		return View{}, errors.Wrapf(ErrPointCountMismatch, "%d image points, %d pattern points", len(points2D), len(points3D))
	}
	if len(points2D) < minViewPoints {
		return View{}, errors.Wrapf(ErrPointCountMismatch, "view has %d points, need at least %d", len(points2D), minViewPoints)
	}
	if err := checkFinite(points2D, points3D); err != nil {
		return View{}, err
	}
	v := View{
		ImagePoints:  make([]r2.Point, len(points2D)),
		ObjectPoints: make([]r3.Vector, len(points3D)),
	}
	copy(v.ImagePoints, points2D)
	copy(v.ObjectPoints, points3D)
	return v, nil
}

func finite(vals ...float64) bool {
	for _, x := range vals {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func checkFinite(points2D []r2.Point, points3D []r3.Vector) error {
	for i, p := range points2D {
		if !finite(p.X, p.Y) {
			return errors.Wrapf(ErrNonFinitePoint, "image point %d is (%v, %v)", i, p.X, p.Y)
		}
	}
	for i, p := range points3D {
		if !finite(p.X, p.Y, p.Z) {
			return errors.Wrapf(ErrNonFinitePoint, "pattern point %d is (%v, %v, %v)", i, p.X, p.Y, p.Z)
		}
	}
	return nil
}

// Len returns the number of correspondences.
func (v View) Len() int {
	return len(v.ImagePoints)
}

// CorrespondenceSet accumulates views taken at one image resolution.
// It is not safe for concurrent use.
type CorrespondenceSet struct {
	resolution image.Point
	views      []View
}

// NewCorrespondenceSet returns an empty set.
func NewCorrespondenceSet() *CorrespondenceSet {
	return &CorrespondenceSet{}
}

// AddView validates and appends one view. The first view fixes the resolution.
func (cs *CorrespondenceSet) AddView(resolution image.Point, points2D []r2.Point, points3D []r3.Vector) error {
	v, err := NewView(points2D, points3D)
	if err != nil {
		return err
	}
	return cs.Add(resolution, v)
}

// Add appends an already constructed view.
func (cs *CorrespondenceSet) Add(resolution image.Point, v View) error {
	if resolution.X <= 0 || resolution.Y <= 0 {
		return errors.Wrapf(ErrResolutionMismatch, "invalid resolution %dx%d", resolution.X, resolution.Y)
	}
	if len(cs.views) > 0 && resolution != cs.resolution {
		return errors.Wrapf(ErrResolutionMismatch, "view is %dx%d, set is %dx%d",
			resolution.X, resolution.Y, cs.resolution.X, cs.resolution.Y)
	}
	if v.Len() != len(v.ObjectPoints) || v.Len() < minViewPoints {
		return errors.Wrapf(ErrPointCountMismatch, "%d image points, %d pattern points", v.Len(), len(v.ObjectPoints))
	}
	if err := checkFinite(v.ImagePoints, v.ObjectPoints); err != nil {
		return err
	}
	cs.resolution = resolution
	cs.views = append(cs.views, v)
	return nil
}

// ViewCount returns the number of accepted views.
func (cs *CorrespondenceSet) ViewCount() int {
	return len(cs.views)
}

// Views returns the accepted views in insertion order. The slice is a copy; the point lists are shared
// and must not be modified.
func (cs *CorrespondenceSet) Views() []View {
	out := make([]View, len(cs.views))
	copy(out, cs.views)
	return out
}

// Resolution returns the image size shared by every view, or the zero point for an empty set.
func (cs *CorrespondenceSet) Resolution() image.Point {
	return cs.resolution
}

// PointCount returns the total number of correspondences across all views.
func (cs *CorrespondenceSet) PointCount() int {
	n := 0
	for _, v := range cs.views {
		n += v.Len()
	}
	return n
}
