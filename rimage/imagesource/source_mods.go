package imagesource

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// PreprocessOptions are applied to each frame: resize, then grayscale.
type PreprocessOptions struct {
	// ResizeWidth scales the frame to this width keeping the aspect ratio. Zero keeps the size.
	ResizeWidth int  `json:"resize_width"`
	Grayscale   bool `json:"grayscale"`
}

// Validate checks the options.
func (opts PreprocessOptions) Validate() error {
	if opts.ResizeWidth < 0 {
		return errors.Errorf("resize_width must not be negative, got %d", opts.ResizeWidth)
	}
	return nil
}

// Preprocess applies opts to img.
func Preprocess(img image.Image, opts PreprocessOptions) image.Image {
	if opts.ResizeWidth > 0 && opts.ResizeWidth != img.Bounds().Dx() {
		img = imaging.Resize(img, opts.ResizeWidth, 0, imaging.Lanczos)
	}
	if opts.Grayscale {
		img = imaging.Grayscale(img)
	}
	return img
}

// PreprocessSource applies PreprocessOptions to every frame of another source.
type PreprocessSource struct {
	Original FrameSource
	Options  PreprocessOptions
}

// Next returns the processed next frame.
func (ps *PreprocessSource) Next(ctx context.Context) (Frame, error) {
	f, err := ps.Original.Next(ctx)
	if err != nil {
		return Frame{}, err
	}
	f.Image = Preprocess(f.Image, ps.Options)
	return f, nil
}

// Close closes the original source.
func (ps *PreprocessSource) Close() error {
	return ps.Original.Close()
}
