package calibration

import (
	"math"

	"github.com/pkg/errors"
)

// Verdict is the qualitative grade of a calibration.
type Verdict string

const (
	// VerdictExcellent is RMS < 0.5 px.
	VerdictExcellent = Verdict("excellent")
	// VerdictGood is 0.5 <= RMS < 1.0 px.
	VerdictGood = Verdict("good")
	// VerdictAcceptable is 1.0 <= RMS < 2.0 px.
	VerdictAcceptable = Verdict("acceptable")
	// VerdictPoor is RMS >= 2.0 px; recalibrate.
	VerdictPoor = Verdict("poor")
)

// ClassifyRMS grades an overall RMS reprojection error in pixels. Each bucket includes its lower
// bound. Anything that is not a finite non-negative number is poor.
func ClassifyRMS(rms float64) Verdict {
	switch {
	case math.IsNaN(rms) || rms < 0:
		return VerdictPoor
	case rms < 0.5:
		return VerdictExcellent
	case rms < 1.0:
		return VerdictGood
	case rms < 2.0:
		return VerdictAcceptable
	default:
		return VerdictPoor
	}
}

// ParseVerdict validates a stored verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictExcellent, VerdictGood, VerdictAcceptable, VerdictPoor:
		return v, nil
	default:
		return "", errors.Errorf("unknown quality verdict %q", s)
	}
}

// Recommendation is a one line hint for the operator.
func (v Verdict) Recommendation() string {
	switch v {
	case VerdictExcellent:
		return "calibration is excellent"
	case VerdictGood:
		return "calibration is good"
	case VerdictAcceptable:
		return "calibration is acceptable; more varied views may improve it"
	default:
		return "calibration is poor; recalibrate with more, sharper and more varied views"
	}
}

// DistortionLevel grades a distortion magnitude.
type DistortionLevel string

const (
	// DistortionLow needs little correction.
	DistortionLow = DistortionLevel("low")
	// DistortionModerate is noticeable towards the image edges.
	DistortionModerate = DistortionLevel("moderate")
	// DistortionHigh is strong, typical of wide angle lenses.
	DistortionHigh = DistortionLevel("high")
	// DistortionModerateHigh is any tangential distortion that is not low.
	DistortionModerateHigh = DistortionLevel("moderate/high")
)

// DistortionAssessment describes the lens in plain terms.
type DistortionAssessment struct {
	AspectRatio         float64
	RadialMagnitude     float64
	RadialLevel         DistortionLevel
	TangentialMagnitude float64
	TangentialLevel     DistortionLevel
}

// AssessDistortion grades the radial (|k1|+|k2|+|k3|) and tangential (|p1|+|p2|) coefficients.
func AssessDistortion(camera CameraParameters) DistortionAssessment {
	coeff := func(i int) float64 {
		if i < len(camera.Distortion) {
			return math.Abs(camera.Distortion[i])
		}
		return 0
	}
	out := DistortionAssessment{
		RadialMagnitude:     coeff(0) + coeff(1) + coeff(4),
		TangentialMagnitude: coeff(2) + coeff(3),
	}
	if camera.Fy != 0 {
		out.AspectRatio = camera.Fx / camera.Fy
	}
	switch {
	case out.RadialMagnitude < 0.1:
		out.RadialLevel = DistortionLow
	case out.RadialMagnitude < 0.5:
		out.RadialLevel = DistortionModerate
	default:
		out.RadialLevel = DistortionHigh
	}
	if out.TangentialMagnitude < 0.01 {
		out.TangentialLevel = DistortionLow
	} else {
		out.TangentialLevel = DistortionModerateHigh
	}
	return out
}
