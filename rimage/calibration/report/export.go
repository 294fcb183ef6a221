package report

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/transform"
)

// ExportFormat names a file layout for a stored calibration.
type ExportFormat string

const (
	// TextExport is a plain text summary without terminal colors.
	TextExport ExportFormat = "text"
	// OpenCVExport is an OpenCV FileStorage YAML file that cv::FileStorage and cv2.FileStorage read.
	OpenCVExport ExportFormat = "opencv"
)

// Export renders rec in format.
func Export(rec calibration.Record, format ExportFormat) (string, error) {
	switch format {
	case TextExport:
		return Text(rec), nil
	case OpenCVExport:
		return OpenCV(rec), nil
	default:
		return "", errors.Errorf("unknown export format %q (want %q or %q)", format, TextExport, OpenCVExport)
	}
}

func cameraMatrix(rec calibration.Record) *mat.Dense {
	return (&transform.PinholeCameraIntrinsics{
		Width:  rec.Resolution.Width,
		Height: rec.Resolution.Height,
		Fx:     rec.FocalLength.Fx,
		Fy:     rec.FocalLength.Fy,
		Ppx:    rec.PrincipalPoint.Cx,
		Ppy:    rec.PrincipalPoint.Cy,
	}).GetCameraMatrix()
}

func formatRow(vals []float64, format string) []string {
	return lo.Map(vals, func(v float64, _ int) string { return fmt.Sprintf(format, v) })
}

// Text renders rec as a plain text summary.
func Text(rec calibration.Record) string {
	var sb strings.Builder
	sb.WriteString("CAMERA CALIBRATION RESULTS\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n\n")
	fmt.Fprintf(&sb, "Resolution: %d x %d\n", rec.Resolution.Width, rec.Resolution.Height)
	fmt.Fprintf(&sb, "Views: %d\n", rec.ViewCount)
	fmt.Fprintf(&sb, "RMS Re-projection Error: %.6f pixels\n", rec.OverallRMSError)
	fmt.Fprintf(&sb, "Quality: %s\n\n", rec.QualityVerdict)

	sb.WriteString("Camera Matrix (Intrinsic Parameters):\n")
	k := cameraMatrix(rec)
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&sb, "  [%s]\n", strings.Join(formatRow(mat.Row(nil, i, k), "%12.6f"), " "))
	}

	fmt.Fprintf(&sb, "\nDistortion Coefficients (%s model):\n", rec.DistortionModel)
	fmt.Fprintf(&sb, "  [%s]\n\n", strings.Join(formatRow(rec.DistortionCoefficients, "%.8f"), " "))

	sb.WriteString("Extracted Parameters:\n")
	fmt.Fprintf(&sb, "  fx = %.2f\n", rec.FocalLength.Fx)
	fmt.Fprintf(&sb, "  fy = %.2f\n", rec.FocalLength.Fy)
	fmt.Fprintf(&sb, "  cx = %.2f\n", rec.PrincipalPoint.Cx)
	fmt.Fprintf(&sb, "  cy = %.2f\n", rec.PrincipalPoint.Cy)
	return sb.String()
}

func openCVMatrix(sb *strings.Builder, name string, rows, cols int, data []float64) {
	fmt.Fprintf(sb, "%s: !!opencv-matrix\n", name)
	fmt.Fprintf(sb, "   rows: %d\n   cols: %d\n   dt: d\n", rows, cols)
	fmt.Fprintf(sb, "   data: [ %s ]\n", strings.Join(formatRow(data, "%.10g"), ", "))
}

// OpenCV renders rec in the layout of OpenCV's calibration sample output, so it loads with
// FileStorage as camera_matrix and distortion_coefficients.
func OpenCV(rec calibration.Record) string {
	var sb strings.Builder
	sb.WriteString("%YAML:1.0\n---\n")
	fmt.Fprintf(&sb, "image_width: %d\n", rec.Resolution.Width)
	fmt.Fprintf(&sb, "image_height: %d\n", rec.Resolution.Height)
	fmt.Fprintf(&sb, "nr_of_frames: %d\n", rec.ViewCount)
	openCVMatrix(&sb, "camera_matrix", 3, 3, cameraMatrix(rec).RawMatrix().Data)
	openCVMatrix(&sb, "distortion_coefficients", len(rec.DistortionCoefficients), 1, rec.DistortionCoefficients)
	fmt.Fprintf(&sb, "avg_reprojection_error: %.10g\n", rec.OverallRMSError)
	return sb.String()
}
