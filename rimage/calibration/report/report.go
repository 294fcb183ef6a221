// Package report renders calibration outcomes as text tables.
package report

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/calibration/capture"
	"github.com/camcal/camcal/rimage/calibration/store"
	"github.com/camcal/camcal/spatialmath"
)

var coefficientNames = []string{"k1", "k2", "p1", "p2", "k3", "k4", "k5", "k6"}

var verdictColors = map[calibration.Verdict]text.Colors{
	calibration.VerdictExcellent:  {text.FgGreen, text.Bold},
	calibration.VerdictGood:       {text.FgGreen},
	calibration.VerdictAcceptable: {text.FgYellow},
	calibration.VerdictPoor:       {text.FgRed, text.Bold},
}

// Verdict returns the verdict in its display color.
func Verdict(v calibration.Verdict) string {
	if c, ok := verdictColors[v]; ok {
		return c.Sprint(string(v))
	}
	return string(v)
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	return t
}

// Record renders a persisted calibration: intrinsics, distortion with its assessment, and error.
func Record(rec calibration.Record) string {
	camera := rec.Camera()
	assessment := calibration.AssessDistortion(camera)

	intr := newTable("Camera intrinsics")
	intr.AppendHeader(table.Row{"Parameter", "Value"})
	intr.AppendRows([]table.Row{
		{"Resolution", fmt.Sprintf("%d x %d", rec.Resolution.Width, rec.Resolution.Height)},
		{"fx", fmt.Sprintf("%.2f px", camera.Fx)},
		{"fy", fmt.Sprintf("%.2f px", camera.Fy)},
		{"cx", fmt.Sprintf("%.2f px", camera.Cx)},
		{"cy", fmt.Sprintf("%.2f px", camera.Cy)},
		{"Aspect ratio (fx/fy)", fmt.Sprintf("%.4f", assessment.AspectRatio)},
	})

	dist := newTable(fmt.Sprintf("Distortion (%s model)", rec.DistortionModel))
	dist.AppendHeader(table.Row{"Coefficient", "Value"})
	for i, c := range rec.DistortionCoefficients {
		name := fmt.Sprintf("c%d", i)
		if i < len(coefficientNames) {
			name = coefficientNames[i]
		}
		dist.AppendRow(table.Row{name, fmt.Sprintf("%+.6f", c)})
	}
	dist.AppendSeparator()
	dist.AppendRow(table.Row{"Radial |k1|+|k2|+|k3|", fmt.Sprintf("%.4f (%s)", assessment.RadialMagnitude, assessment.RadialLevel)})
	dist.AppendRow(table.Row{
		"Tangential |p1|+|p2|",
		fmt.Sprintf("%.4f (%s)", assessment.TangentialMagnitude, assessment.TangentialLevel),
	})

	quality := newTable("Reprojection error")
	quality.AppendHeader(table.Row{"View", "RMS (px)"})
	for i, rms := range rec.PerViewRMSError {
		quality.AppendRow(table.Row{i + 1, fmt.Sprintf("%.4f", rms)})
	}
	quality.AppendFooter(table.Row{"Overall", fmt.Sprintf("%.4f", rec.OverallRMSError)})

	var sb strings.Builder
	sb.WriteString(intr.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dist.Render())
	sb.WriteString("\n\n")
	sb.WriteString(quality.Render())
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Views: %d\nQuality: %s\n%s\n", rec.ViewCount, Verdict(rec.QualityVerdict), rec.QualityVerdict.Recommendation())
	return sb.String()
}

// Result renders a fresh calibration, adding the solver diagnostics to Record's output.
func Result(res *calibration.CalibrationResult) string {
	solver := newTable("Solver")
	solver.AppendHeader(table.Row{"Item", "Value"})
	solver.AppendRows([]table.Row{
		{"Iterations", res.Report.Iterations},
		{"Initial RMS", fmt.Sprintf("%.4f px", res.Report.InitialRMS)},
		{"Final RMS", fmt.Sprintf("%.4f px", res.Report.FinalRMS)},
		{"Stopped because", string(res.Report.Reason)},
		{"Mean view RMS", fmt.Sprintf("%.4f px (std %.4f)", res.Stats.MeanViewRMS, res.Stats.StdDevViewRMS)},
		{"Worst view", fmt.Sprintf("#%d at %.4f px", res.Stats.MaxViewIndex+1, res.Stats.MaxViewRMS)},
	})
	out := Record(res.Record()) + "\n" + solver.Render() + "\n"
	if len(res.Poses) > 0 {
		out += "\n" + poses(res.Poses) + "\n"
	}
	return out
}

// poses lists each view's board rotation as axis and angle, and its translation in pattern units.
func poses(views []calibration.ViewPose) string {
	t := newTable("View poses")
	t.AppendHeader(table.Row{"View", "Axis", "Angle", "Translation", "Distance"})
	for i, pose := range views {
		aa := spatialmath.R3ToR4(pose.Rotation)
		tr := pose.Translation
		t.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("(%+.3f, %+.3f, %+.3f)", aa.RX, aa.RY, aa.RZ),
			fmt.Sprintf("%.2f deg", aa.Theta*180/math.Pi),
			fmt.Sprintf("(%+.3f, %+.3f, %+.3f)", tr.X, tr.Y, tr.Z),
			fmt.Sprintf("%.3f", tr.Norm()),
		})
	}
	return t.Render()
}

// Batch renders the per-image outcome of a folder run.
func Batch(stats *capture.BatchStats) string {
	t := newTable("Images")
	t.AppendHeader(table.Row{"Image", "Result"})
	for _, out := range stats.Outcomes {
		result := text.FgGreen.Sprintf("%d points", out.Points)
		if out.Err != nil {
			result = text.FgRed.Sprint(out.Err.Error())
		}
		t.AppendRow(table.Row{filepath.Base(out.Path), result})
	}
	t.AppendFooter(table.Row{"Succeeded", fmt.Sprintf("%d of %d", stats.Succeeded, stats.Total)})
	return t.Render()
}

// History renders stored calibrations, newest first.
func History(entries []store.Entry) string {
	t := newTable("Calibration history")
	t.AppendHeader(table.Row{"ID", "Created (UTC)", "Source", "Resolution", "Model", "Views", "RMS (px)", "Quality"})
	t.AppendRows(lo.Map(entries, func(e store.Entry, _ int) table.Row {
		rec := e.Record
		return table.Row{
			e.ID.String()[:8],
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Source,
			fmt.Sprintf("%dx%d", rec.Resolution.Width, rec.Resolution.Height),
			string(rec.DistortionModel),
			rec.ViewCount,
			fmt.Sprintf("%.4f", rec.OverallRMSError),
			Verdict(rec.QualityVerdict),
		}
	}))
	if len(entries) == 0 {
		t.AppendRow(table.Row{"(none)"})
	}
	return t.Render()
}
