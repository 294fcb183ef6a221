package calibration

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestPatternValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  PatternConfig
		ok   bool
	}{
		{"grid", PatternConfig{Kind: GridPattern, Columns: 9, Rows: 6, Spacing: 0.025}, true},
		{"smallest grid", PatternConfig{Kind: GridPattern, Columns: 2, Rows: 2, Spacing: 1}, true},
		{"fiducial", PatternConfig{Kind: FiducialPattern, Columns: 3, Rows: 3, Spacing: 0.04}, true},
		{"too few grid points", PatternConfig{Kind: GridPattern, Columns: 3, Rows: 1, Spacing: 1}, false},
		{"fiducial without corners", PatternConfig{Kind: FiducialPattern, Columns: 2, Rows: 4, Spacing: 1}, false},
		{"zero spacing", PatternConfig{Kind: GridPattern, Columns: 9, Rows: 6}, false},
		{"negative spacing", PatternConfig{Kind: GridPattern, Columns: 9, Rows: 6, Spacing: -1}, false},
		{"negative columns", PatternConfig{Kind: GridPattern, Columns: -9, Rows: -6, Spacing: 1}, false},
		{"unknown kind", PatternConfig{Kind: "circles", Columns: 9, Rows: 6, Spacing: 1}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, errors.Is(err, ErrInvalidPatternConfig), test.ShouldBeTrue)
		})
	}
}

func TestObjectPoints(t *testing.T) {
	pts, err := testPattern.ObjectPoints()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldHaveLength, 54)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[1].X, test.ShouldAlmostEqual, 0.025)
	test.That(t, pts[1].Y, test.ShouldEqual, 0)
	test.That(t, pts[9].X, test.ShouldEqual, 0)
	test.That(t, pts[9].Y, test.ShouldAlmostEqual, 0.025)
	test.That(t, pts[53].X, test.ShouldAlmostEqual, 8*0.025)
	test.That(t, pts[53].Y, test.ShouldAlmostEqual, 5*0.025)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0)
	}

	fid := PatternConfig{Kind: FiducialPattern, Columns: 5, Rows: 7, Spacing: 0.04}
	cols, rows := fid.CornerGrid()
	test.That(t, cols, test.ShouldEqual, 4)
	test.That(t, rows, test.ShouldEqual, 6)
	pts, err = fid.ObjectPoints()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldHaveLength, 24)
	test.That(t, pts[5].X, test.ShouldAlmostEqual, 0.04)
	test.That(t, pts[5].Y, test.ShouldAlmostEqual, 0.04)

	_, err = PatternConfig{Kind: GridPattern, Columns: 1, Rows: 1, Spacing: 1}.ObjectPoints()
	test.That(t, errors.Is(err, ErrInvalidPatternConfig), test.ShouldBeTrue)
}

func TestPatternNewView(t *testing.T) {
	cfg := PatternConfig{Kind: FiducialPattern, Columns: 4, Rows: 4, Spacing: 0.1}
	template, err := cfg.ObjectPoints()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, template, test.ShouldHaveLength, 9)

	full := make([]r2.Point, 9)
	for i := range full {
		full[i] = r2.Point{X: float64(i), Y: float64(2 * i)}
	}
	v, err := cfg.NewView(full, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Len(), test.ShouldEqual, 9)
	test.That(t, v.ObjectPoints, test.ShouldResemble, template)

	_, err = cfg.NewView(full[:8], nil)
	test.That(t, errors.Is(err, ErrPointCountMismatch), test.ShouldBeTrue)

	t.Run("partial detection with ids", func(t *testing.T) {
		ids := []int{8, 0, 4, 2, 6}
		v, err := cfg.NewView(full[:5], ids)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v.Len(), test.ShouldEqual, 5)
		for i, id := range ids {
			test.That(t, v.ObjectPoints[i], test.ShouldResemble, template[id])
			test.That(t, v.ImagePoints[i], test.ShouldResemble, full[i])
		}
	})

	for name, ids := range map[string][]int{
		"out of range":    {0, 1, 2, 9},
		"negative":        {0, 1, 2, -1},
		"duplicate":       {0, 1, 2, 2},
		"length mismatch": {0, 1, 2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.NewView(full[:4], ids)
			test.That(t, errors.Is(err, ErrPointCountMismatch), test.ShouldBeTrue)
		})
	}
	t.Run("fewer than four points with ids", func(t *testing.T) {
		_, err := cfg.NewView(full[:3], []int{0, 1, 2})
		test.That(t, errors.Is(err, ErrPointCountMismatch), test.ShouldBeTrue)
	})
}

func TestCorrespondenceSet(t *testing.T) {
	obj, err := testPattern.ObjectPoints()
	test.That(t, err, test.ShouldBeNil)
	img := make([]r2.Point, len(obj))
	for i, p := range obj {
		img[i] = r2.Point{X: 100 + 1000*p.X, Y: 50 + 1000*p.Y}
	}

	set := NewCorrespondenceSet()
	test.That(t, set.ViewCount(), test.ShouldEqual, 0)
	test.That(t, set.Resolution(), test.ShouldResemble, image.Point{})

	t.Run("unequal lengths", func(t *testing.T) {
		for n2 := 0; n2 <= 6; n2++ {
			for n3 := 0; n3 <= 6; n3++ {
				if n2 == n3 && n2 >= 4 {
					continue
				}
				err := set.AddView(testResolution, img[:n2], obj[:n3])
				test.That(t, errors.Is(err, ErrPointCountMismatch), test.ShouldBeTrue)
			}
		}
		test.That(t, set.ViewCount(), test.ShouldEqual, 0)
	})

	test.That(t, set.AddView(testResolution, img, obj), test.ShouldBeNil)
	test.That(t, set.AddView(testResolution, img[:4], obj[:4]), test.ShouldBeNil)
	test.That(t, set.ViewCount(), test.ShouldEqual, 2)
	test.That(t, set.PointCount(), test.ShouldEqual, 58)
	test.That(t, set.Resolution(), test.ShouldResemble, testResolution)

	t.Run("resolution mismatch", func(t *testing.T) {
		err := set.AddView(image.Point{X: 1280, Y: 720}, img, obj)
		test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
		err = set.AddView(image.Point{X: 0, Y: 480}, img, obj)
		test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
		test.That(t, set.ViewCount(), test.ShouldEqual, 2)
	})

	t.Run("views are copied", func(t *testing.T) {
		img[0] = r2.Point{X: -1, Y: -1}
		views := set.Views()
		test.That(t, views[0].ImagePoints[0], test.ShouldResemble, r2.Point{X: 100, Y: 50})
		views[0] = View{}
		test.That(t, set.Views()[0].Len(), test.ShouldEqual, 54)
	})

	t.Run("invalid first resolution", func(t *testing.T) {
		fresh := NewCorrespondenceSet()
		err := fresh.AddView(image.Point{X: -640, Y: 480}, img, obj)
		test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
		test.That(t, fresh.ViewCount(), test.ShouldEqual, 0)
	})

	t.Run("add rejects a hand built view", func(t *testing.T) {
		err := set.Add(testResolution, View{ImagePoints: img[:5], ObjectPoints: obj[:4]})
		test.That(t, errors.Is(err, ErrPointCountMismatch), test.ShouldBeTrue)
	})

	t.Run("non-finite coordinates", func(t *testing.T) {
		before := set.ViewCount()
		for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			badImg := append([]r2.Point(nil), img[:6]...)
			badImg[3].X = bad
			_, err := NewView(badImg, obj[:6])
			test.That(t, errors.Is(err, ErrNonFinitePoint), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, "image point 3")

			badObj := append([]r3.Vector(nil), obj[:6]...)
			badObj[5].Z = bad
			err = set.AddView(testResolution, img[:6], badObj)
			test.That(t, errors.Is(err, ErrNonFinitePoint), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, "pattern point 5")

			err = set.Add(testResolution, View{ImagePoints: badImg, ObjectPoints: obj[:6]})
			test.That(t, errors.Is(err, ErrNonFinitePoint), test.ShouldBeTrue)
		}
		test.That(t, set.ViewCount(), test.ShouldEqual, before)
	})
}
