package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// SimpleDistortionType is the five coefficient radial and tangential model (k1, k2, p1, p2, k3).
	SimpleDistortionType = DistortionType("simple")
	// RationalDistortionType adds a rational radial denominator (k1, k2, p1, p2, k3, k4, k5, k6).
	RationalDistortionType = DistortionType("rational")
)

// CoefficientCount returns how many distortion coefficients the model carries.
func (dt DistortionType) CoefficientCount() (int, error) {
	switch dt {
	case SimpleDistortionType:
		return 5, nil
	case RationalDistortionType:
		return 8, nil
	default:
		return 0, errors.Errorf("do not know how to parse %q distortion model", dt)
	}
}

// Distorter defines a Transform that takes undistorted normalized coordinates and distorts them
// according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case SimpleDistortionType:
		return NewBrownConrady(parameters)
	case RationalDistortionType:
		return NewRationalBrownConrady(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}
