package calibration

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/camcal/camcal/rimage/transform"
)

// CalibrationResult is the outcome of one solve.
type CalibrationResult struct {
	Resolution image.Point
	Camera     CameraParameters
	// Poses is index aligned with the views of the CorrespondenceSet.
	Poses      []ViewPose
	OverallRMS float64
	PerViewRMS []float64
	ViewCount  int
	Verdict    Verdict
	Stats      ErrorStats
	Report     SolverReport
}

// Resolution is an image size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FocalLength is fx and fy in pixels.
type FocalLength struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
}

// PrincipalPoint is cx and cy in pixels.
type PrincipalPoint struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// Record is the persisted form of a CalibrationResult.
type Record struct {
	Resolution             Resolution               `json:"resolution"`
	FocalLength            FocalLength              `json:"focal_length"`
	PrincipalPoint         PrincipalPoint           `json:"principal_point"`
	DistortionModel        transform.DistortionType `json:"distortion_model"`
	DistortionCoefficients []float64                `json:"distortion_coefficients"`
	OverallRMSError        float64                  `json:"overall_rms_error"`
	PerViewRMSError        []float64                `json:"per_view_rms_error"`
	ViewCount              int                      `json:"view_count"`
	QualityVerdict         Verdict                  `json:"quality_verdict"`
}

// Record returns the persisted form of the result.
func (res *CalibrationResult) Record() Record {
	return Record{
		Resolution:             Resolution{Width: res.Resolution.X, Height: res.Resolution.Y},
		FocalLength:            FocalLength{Fx: res.Camera.Fx, Fy: res.Camera.Fy},
		PrincipalPoint:         PrincipalPoint{Cx: res.Camera.Cx, Cy: res.Camera.Cy},
		DistortionModel:        res.Camera.DistortionModel,
		DistortionCoefficients: append([]float64(nil), res.Camera.Distortion...),
		OverallRMSError:        res.OverallRMS,
		PerViewRMSError:        append([]float64(nil), res.PerViewRMS...),
		ViewCount:              res.ViewCount,
		QualityVerdict:         res.Verdict,
	}
}

// Camera returns the camera parameters stored in the record.
func (rec Record) Camera() CameraParameters {
	return CameraParameters{
		Fx: rec.FocalLength.Fx, Fy: rec.FocalLength.Fy,
		Cx: rec.PrincipalPoint.Cx, Cy: rec.PrincipalPoint.Cy,
		DistortionModel: rec.DistortionModel,
		Distortion:      append([]float64(nil), rec.DistortionCoefficients...),
	}
}

// ImageSize returns the record's resolution as an image.Point.
func (rec Record) ImageSize() image.Point {
	return image.Point{X: rec.Resolution.Width, Y: rec.Resolution.Height}
}

// Validate checks that the record is internally consistent. JSON cannot encode non-finite numbers,
// so those are rejected as well.
func (rec Record) Validate() error {
	if rec.Resolution.Width <= 0 || rec.Resolution.Height <= 0 {
		return errors.Errorf("invalid resolution %dx%d", rec.Resolution.Width, rec.Resolution.Height)
	}
	n, err := rec.DistortionModel.CoefficientCount()
	if err != nil {
		return err
	}
	if len(rec.DistortionCoefficients) != n {
		return errors.Errorf("%s model needs %d distortion coefficients, got %d",
			rec.DistortionModel, n, len(rec.DistortionCoefficients))
	}
	if rec.ViewCount != len(rec.PerViewRMSError) {
		return errors.Errorf("view_count %d but %d per-view errors", rec.ViewCount, len(rec.PerViewRMSError))
	}
	if _, err := ParseVerdict(string(rec.QualityVerdict)); err != nil {
		return err
	}
	nums := []float64{rec.FocalLength.Fx, rec.FocalLength.Fy, rec.PrincipalPoint.Cx, rec.PrincipalPoint.Cy, rec.OverallRMSError}
	nums = append(nums, rec.DistortionCoefficients...)
	nums = append(nums, rec.PerViewRMSError...)
	for _, v := range nums {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("record contains a non-finite number")
		}
	}
	return nil
}
