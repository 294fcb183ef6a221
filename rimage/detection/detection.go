// Package detection defines how calibration pattern points are found in a frame.
package detection

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/camcal/camcal/rimage/imagesource"
)

// Detection is a found pattern. Points follow the pattern's canonical order unless IDs is set, in
// which case IDs[i] is the canonical index of Points[i].
type Detection struct {
	Points []r2.Point
	IDs    []int
}

// A Detector finds the calibration pattern in a frame. A frame without a visible pattern yields a
// nil Detection and a nil error; errors are reserved for frames that could not be examined.
type Detector interface {
	Detect(ctx context.Context, frame imagesource.Frame) (*Detection, error)
}

// DetectorFunc adapts a function to a Detector.
type DetectorFunc func(ctx context.Context, frame imagesource.Frame) (*Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, frame imagesource.Frame) (*Detection, error) {
	return f(ctx, frame)
}

// DefaultCornerFileSuffix replaces an image's extension to name its corner file.
const DefaultCornerFileSuffix = ".corners.json"

// CornerFile is the on-disk form of a detection, written next to the image by an external corner
// finder. Width and Height give the image size the points were measured in; when they differ from
// the frame's size the points are rescaled.
type CornerFile struct {
	Width  int          `json:"width,omitempty"`
	Height int          `json:"height,omitempty"`
	Points [][2]float64 `json:"points"`
	IDs    []int        `json:"ids,omitempty"`
}

// CornerFileDetector reads detections from files that sit next to each image.
// A missing file means the pattern was not found.
type CornerFileDetector struct {
	// Suffix defaults to DefaultCornerFileSuffix.
	Suffix string
}

// CornerFilePath returns the corner file name for an image path.
func (d *CornerFileDetector) CornerFilePath(imagePath string) string {
	suffix := d.Suffix
	if suffix == "" {
		suffix = DefaultCornerFileSuffix
	}
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + suffix
}

// Detect looks up the frame's corner file.
func (d *CornerFileDetector) Detect(ctx context.Context, frame imagesource.Frame) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Path == "" {
		return nil, nil
	}
	path := d.CornerFilePath(frame.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cf CornerFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse corner file %s", path)
	}
	if len(cf.Points) == 0 {
		return nil, nil
	}
	if cf.IDs != nil && len(cf.IDs) != len(cf.Points) {
		return nil, errors.Errorf("corner file %s has %d ids for %d points", path, len(cf.IDs), len(cf.Points))
	}

	sx, sy := 1.0, 1.0
	size := frame.Size()
	if cf.Width > 0 && cf.Height > 0 && size != (image.Point{}) {
		sx = float64(size.X) / float64(cf.Width)
		sy = float64(size.Y) / float64(cf.Height)
	}
	det := &Detection{Points: make([]r2.Point, len(cf.Points)), IDs: cf.IDs}
	for i, p := range cf.Points {
		det.Points[i] = r2.Point{X: p[0] * sx, Y: p[1] * sy}
	}
	return det, nil
}

// WriteCornerFile stores det as the corner file for imagePath, measured on an image of size.
func (d *CornerFileDetector) WriteCornerFile(imagePath string, size image.Point, det *Detection) error {
	cf := CornerFile{Width: size.X, Height: size.Y, IDs: det.IDs, Points: make([][2]float64, len(det.Points))}
	for i, p := range det.Points {
		cf.Points[i] = [2]float64{p.X, p.Y}
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.CornerFilePath(imagePath), data, 0o600)
}
