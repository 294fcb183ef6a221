package transform

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testModel(t *testing.T, dt DistortionType, coeffs []float64) *PinholeCameraModel {
	t.Helper()
	d, err := NewDistorter(dt, coeffs)
	test.That(t, err, test.ShouldBeNil)
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 64, Height: 48, Fx: 80, Fy: 78, Ppx: 32, Ppy: 24},
		Distortion:              d,
	}
}

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilIntrinsics.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	bad := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 0, Fy: 10}
	test.That(t, errors.Is(bad.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	good := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	k := good.GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 500.0)
	test.That(t, k.At(1, 2), test.ShouldEqual, 240.0)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
	test.That(t, k.At(0, 1), test.ShouldEqual, 0.0)
}

func TestErrorMessagesKeepPercentSigns(t *testing.T) {
	err := NewNoIntrinsicsError("focal length off by 5%d")
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldEqual, "focal length off by 5%d: "+ErrNoIntrinsics.Error())

	err = InvalidDistortionError("k1 at 100%s")
	test.That(t, err.Error(), test.ShouldEqual, "k1 at 100%s: invalid distortion_parameters")
}

func TestNewDistorter(t *testing.T) {
	d, err := NewDistorter(SimpleDistortionType, []float64{-0.2, 0.05})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, SimpleDistortionType)
	test.That(t, d.Parameters(), test.ShouldResemble, []float64{-0.2, 0.05, 0, 0, 0})

	d, err = NewDistorter(RationalDistortionType, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Parameters(), test.ShouldResemble, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	_, err = NewDistorter(SimpleDistortionType, make([]float64, 6))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDistorter("fisheye", nil)
	test.That(t, err, test.ShouldNotBeNil)

	n, err := RationalDistortionType.CoefficientCount()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 8)
}

func TestBrownConradyJacobianMatchesFiniteDifference(t *testing.T) {
	bc, err := NewRationalBrownConrady([]float64{-0.25, 0.08, 0.002, -0.001, 0.01, 0.05, 0.01, 0.002})
	test.That(t, err, test.ShouldBeNil)

	const h = 1e-6
	for _, p := range []r2.Point{{X: 0.1, Y: -0.2}, {X: -0.35, Y: 0.25}, {X: 0, Y: 0}} {
		jac := bc.Jacobian(p.X, p.Y)
		xp, yp := bc.Transform(p.X+h, p.Y)
		xm, ym := bc.Transform(p.X-h, p.Y)
		test.That(t, jac[0][0], test.ShouldAlmostEqual, (xp-xm)/(2*h), 1e-6)
		test.That(t, jac[1][0], test.ShouldAlmostEqual, (yp-ym)/(2*h), 1e-6)
		xp, yp = bc.Transform(p.X, p.Y+h)
		xm, ym = bc.Transform(p.X, p.Y-h)
		test.That(t, jac[0][1], test.ShouldAlmostEqual, (xp-xm)/(2*h), 1e-6)
		test.That(t, jac[1][1], test.ShouldAlmostEqual, (yp-ym)/(2*h), 1e-6)
	}
}

func TestInverseBrownConradyRoundTrip(t *testing.T) {
	bc, err := NewBrownConrady([]float64{-0.2, 0.05, 0.001, -0.0005, 0})
	test.That(t, err, test.ShouldBeNil)
	inv := NewInverseBrownConrady(bc)
	test.That(t, inv.CheckValid(), test.ShouldBeNil)

	for _, p := range []r2.Point{{X: 0.3, Y: 0.2}, {X: -0.4, Y: 0.1}, {X: 0.05, Y: -0.25}} {
		xd, yd := bc.Transform(p.X, p.Y)
		xu, yu := inv.Transform(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, p.X, 1e-10)
		test.That(t, yu, test.ShouldAlmostEqual, p.Y, 1e-10)
	}

	var missing *InverseBrownConrady
	test.That(t, missing.CheckValid(), test.ShouldNotBeNil)
	x, y := missing.Transform(1, 2)
	test.That(t, x, test.ShouldEqual, 1.)
	test.That(t, y, test.ShouldEqual, 2.)
}

func TestUndistortPoint(t *testing.T) {
	model := testModel(t, SimpleDistortionType, []float64{-0.2, 0.05, 0.001, -0.0005, 0})
	ideal := &PinholeCameraModel{PinholeCameraIntrinsics: model.PinholeCameraIntrinsics}

	pt := r3.Vector{X: 0.1, Y: -0.05, Z: 0.5}
	observed := model.Project(pt)
	want := ideal.Project(pt)
	got, err := model.UndistortPoint(observed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-8)

	// No distortion leaves pixels where they are.
	same, err := ideal.UndistortPoint(observed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same.Sub(observed).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestUndistortImage(t *testing.T) {
	model := testModel(t, SimpleDistortionType, nil)
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 7, 255})
		}
	}
	out, err := model.UndistortImage(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	// Zero distortion is the identity map.
	test.That(t, out.NRGBAAt(10, 20), test.ShouldResemble, color.NRGBA{40, 100, 7, 255})

	_, err = model.UndistortImage(image.NewRGBA(image.Rect(0, 0, 10, 10)))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = model.UndistortImage(nil)
	test.That(t, err, test.ShouldNotBeNil)
}
