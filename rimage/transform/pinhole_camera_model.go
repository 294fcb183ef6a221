package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// Project maps a point in the camera frame to a pixel, applying distortion.
func (params *PinholeCameraModel) Project(pt r3.Vector) r2.Point {
	x := pt.X / pt.Z
	y := pt.Y / pt.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return params.NormalizedToPixel(x, y)
}

// ProjectPoints maps board points through the rigid transform (rotation vector, translation) and
// the camera into pixels.
func (params *PinholeCameraModel) ProjectPoints(rvec, tvec r3.Vector, objectPoints []r3.Vector) []r2.Point {
	pose := NewCamPose(rvec, tvec)
	out := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		out[i] = params.Project(pose.Transform(p))
	}
	return out
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x, y := params.PixelToNormalized(u, v)
		if params.Distortion != nil {
			x, y = params.Distortion.Transform(x, y)
		}
		p := params.NormalizedToPixel(x, y)
		return p.X, p.Y
	}
}

// UndistortPoint maps an observed (distorted) pixel to where an ideal pinhole camera would have seen it.
func (params *PinholeCameraModel) UndistortPoint(pt r2.Point) (r2.Point, error) {
	x, y := params.PixelToNormalized(pt.X, pt.Y)
	if params.Distortion != nil {
		bc, ok := params.Distortion.(*BrownConrady)
		if !ok {
			return r2.Point{}, errors.Errorf("cannot invert %q distortion model", params.Distortion.ModelType())
		}
		x, y = NewInverseBrownConrady(bc).Transform(x, y)
	}
	return params.NormalizedToPixel(x, y), nil
}

// UndistortImage takes an input image and creates a new image the same size with the same camera parameters
// as the original image, but undistorted according to the distortion model in PinholeCameraModel. A bilinear
// interpolation is used to interpolate values between image pixels.
func (params *PinholeCameraModel) UndistortImage(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if params.Width != bounds.Dx() || params.Height != bounds.Dy() {
		return nil, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			bounds.Dx(), bounds.Dy(), params.Width, params.Height)
	}
	src := imaging.Clone(img)
	undistortedImg := image.NewNRGBA(image.Rect(0, 0, params.Width, params.Height))
	distortionMap := params.DistortionMap()
	for v := 0; v < params.Height; v++ {
		for u := 0; u < params.Width; u++ {
			x, y := distortionMap(float64(u), float64(v))
			undistortedImg.SetNRGBA(u, v, bilinearNRGBA(src, x, y))
		}
	}
	return undistortedImg, nil
}

// bilinearNRGBA samples img at a sub-pixel location. Points outside the image are black.
func bilinearNRGBA(img *image.NRGBA, x, y float64) color.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return color.NRGBA{A: 255}
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := img.NRGBAAt(x0, y0)
	c10 := img.NRGBAAt(x1, y0)
	c01 := img.NRGBAAt(x0, y1)
	c11 := img.NRGBAAt(x1, y1)
	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.NRGBA{
		R: lerp(c00.R, c10.R, c01.R, c11.R),
		G: lerp(c00.G, c10.G, c01.G, c11.G),
		B: lerp(c00.B, c10.B, c01.B, c11.B),
		A: lerp(c00.A, c10.A, c01.A, c11.A),
	}
}
