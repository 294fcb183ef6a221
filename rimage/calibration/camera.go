package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/camcal/camcal/rimage/transform"
)

// CameraParameters are the solved intrinsics. Distortion holds k1, k2, p1, p2, k3 and, for the
// rational model, k4, k5, k6.
type CameraParameters struct {
	Fx              float64
	Fy              float64
	Cx              float64
	Cy              float64
	DistortionModel transform.DistortionType
	Distortion      []float64
}

// ViewPose places the pattern in the camera frame: a rotation vector and a translation.
type ViewPose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// PinholeModel returns the projection model for an image of the given size.
func (cp CameraParameters) PinholeModel(resolution image.Point) (*transform.PinholeCameraModel, error) {
	d, err := transform.NewDistorter(cp.DistortionModel, cp.Distortion)
	if err != nil {
		return nil, err
	}
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: resolution.X, Height: resolution.Y,
			Fx: cp.Fx, Fy: cp.Fy, Ppx: cp.Cx, Ppy: cp.Cy,
		},
		Distortion: d,
	}, nil
}

// Project maps pattern points seen from pose into pixels.
func (cp CameraParameters) Project(pose ViewPose, objectPoints []r3.Vector) ([]r2.Point, error) {
	model, err := cp.PinholeModel(image.Point{})
	if err != nil {
		return nil, err
	}
	return model.ProjectPoints(pose.Rotation, pose.Translation, objectPoints), nil
}
