package calibration

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/camcal/camcal/rimage/transform"
	"github.com/camcal/camcal/spatialmath"
)

var (
	testResolution = image.Point{X: 640, Y: 480}
	testPattern    = PatternConfig{Kind: GridPattern, Columns: 9, Rows: 6, Spacing: 0.025}
)

func distortedCamera() CameraParameters {
	return CameraParameters{
		Fx: 800, Fy: 780, Cx: 320, Cy: 240,
		DistortionModel: transform.SimpleDistortionType,
		Distortion:      []float64{-0.2, 0.05, 0.001, -0.0005, 0},
	}
}

// rationalCamera has a denominator strong enough that a simple model cannot describe it.
func rationalCamera() CameraParameters {
	return CameraParameters{
		Fx: 800, Fy: 780, Cx: 320, Cy: 240,
		DistortionModel: transform.RationalDistortionType,
		Distortion:      []float64{0.1, -0.05, 0.001, -0.0005, 0.01, 0.5, 0.05, 0.01},
	}
}

func pinholeCamera() CameraParameters {
	return CameraParameters{
		Fx: 800, Fy: 780, Cx: 320, Cy: 240,
		DistortionModel: transform.SimpleDistortionType,
		Distortion:      make([]float64, 5),
	}
}

// syntheticPoses tilts the board around the image centre at roughly half a metre.
func syntheticPoses(n int) []ViewPose {
	cols, rows := testPattern.CornerGrid()
	center := r3.Vector{
		X: float64(cols-1) * testPattern.Spacing / 2,
		Y: float64(rows-1) * testPattern.Spacing / 2,
	}
	poses := make([]ViewPose, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i) / float64(n)
		rvec := r3.Vector{
			X: 0.45 * math.Cos(phase),
			Y: 0.45 * math.Sin(phase),
			Z: 0.1 * math.Sin(float64(i)),
		}
		boardCenter := r3.Vector{
			X: 0.04 * math.Cos(2*phase),
			Y: 0.03 * math.Sin(3*phase),
			Z: 0.45 + 0.05*float64(i%3),
		}
		rot := spatialmath.RotationVectorToMatrix(rvec)
		poses[i] = ViewPose{
			Rotation:    rvec,
			Translation: boardCenter.Sub(rot.Apply(center)),
		}
	}
	return poses
}

// syntheticSet projects the pattern through camera for every pose, adding Gaussian pixel noise
// of standard deviation sigma per axis.
func syntheticSet(t *testing.T, camera CameraParameters, poses []ViewPose, sigma float64) *CorrespondenceSet {
	t.Helper()
	objectPoints, err := testPattern.ObjectPoints()
	test.That(t, err, test.ShouldBeNil)

	rng := rand.New(rand.NewSource(42))
	set := NewCorrespondenceSet()
	for _, pose := range poses {
		projected, err := camera.Project(pose, objectPoints)
		test.That(t, err, test.ShouldBeNil)
		for i := range projected {
			projected[i] = projected[i].Add(r2.Point{X: rng.NormFloat64() * sigma, Y: rng.NormFloat64() * sigma})
			test.That(t, projected[i].X, test.ShouldBeBetween, 0, float64(testResolution.X))
			test.That(t, projected[i].Y, test.ShouldBeBetween, 0, float64(testResolution.Y))
		}
		view, err := testPattern.NewView(projected, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, set.Add(testResolution, view), test.ShouldBeNil)
	}
	return set
}

func assertCameraClose(t *testing.T, got, want CameraParameters, pixelTol, coeffTol float64) {
	t.Helper()
	test.That(t, got.Fx, test.ShouldAlmostEqual, want.Fx, pixelTol)
	test.That(t, got.Fy, test.ShouldAlmostEqual, want.Fy, pixelTol)
	test.That(t, got.Cx, test.ShouldAlmostEqual, want.Cx, pixelTol)
	test.That(t, got.Cy, test.ShouldAlmostEqual, want.Cy, pixelTol)
	test.That(t, got.DistortionModel, test.ShouldEqual, want.DistortionModel)
	test.That(t, got.Distortion, test.ShouldHaveLength, len(want.Distortion))
	for i := range want.Distortion {
		test.That(t, got.Distortion[i], test.ShouldAlmostEqual, want.Distortion[i], coeffTol)
	}
}

// imagedRadius is the largest normalized distance from the principal point among the observed points.
func imagedRadius(set *CorrespondenceSet, camera CameraParameters) float64 {
	var r float64
	for _, v := range set.Views() {
		for _, p := range v.ImagePoints {
			r = math.Max(r, math.Hypot((p.X-camera.Cx)/camera.Fx, (p.Y-camera.Cy)/camera.Fy))
		}
	}
	return r
}

// assertDistortionFieldClose compares where the two lens models send points on rings out to maxRadius,
// in pixels of want's focal length. Coefficients that trade off against each other still give the
// same field over the imaged area.
func assertDistortionFieldClose(t *testing.T, got, want CameraParameters, maxRadius, pixelTol float64) {
	t.Helper()
	gd, err := transform.NewDistorter(got.DistortionModel, got.Distortion)
	test.That(t, err, test.ShouldBeNil)
	wd, err := transform.NewDistorter(want.DistortionModel, want.Distortion)
	test.That(t, err, test.ShouldBeNil)
	for ring := 1; ring <= 5; ring++ {
		r := maxRadius * float64(ring) / 5
		for k := 0; k < 8; k++ {
			x, y := r*math.Cos(float64(k)*math.Pi/4), r*math.Sin(float64(k)*math.Pi/4)
			gx, gy := gd.Transform(x, y)
			wx, wy := wd.Transform(x, y)
			test.That(t, math.Hypot((gx-wx)*want.Fx, (gy-wy)*want.Fy), test.ShouldBeLessThan, pixelTol)
		}
	}
}
