// Package imagesource provides the frames a calibration run consumes: still images from a folder
// or an in-memory sequence, with optional preprocessing.
package imagesource

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	_ "golang.org/x/image/bmp" // register bmp
)

// ErrEndOfStream is returned by Next once a source has no frames left.
var ErrEndOfStream = errors.New("end of stream")

// DefaultExtensions are the image file extensions a FolderSource picks up.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Frame is one image together with where it came from.
type Frame struct {
	// Name identifies the frame in logs; for files it is the base name.
	Name string
	// Path is the file the frame was read from, empty for in-memory frames.
	Path  string
	Image image.Image
}

// Size returns the frame's width and height.
func (f Frame) Size() image.Point {
	if f.Image == nil {
		return image.Point{}
	}
	return f.Image.Bounds().Size()
}

// A FrameSource produces frames until it returns ErrEndOfStream.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// LoadFrame decodes the image at path.
func LoadFrame(path string) (Frame, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "cannot decode %s", path)
	}
	return Frame{Name: filepath.Base(path), Path: path, Image: img}, nil
}

// FolderSource yields the images of a directory in lexical file name order.
type FolderSource struct {
	dir   string
	paths []string

	mu   sync.Mutex
	next int
}

// NewFolderSource lists the images in dir whose extension is in extensions (case insensitive).
// A nil extensions uses DefaultExtensions.
func NewFolderSource(dir string, extensions []string) (*FolderSource, error) {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	extensions = lo.Map(extensions, func(ext string, _ int) string { return strings.ToLower(ext) })

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image folder %q", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if lo.Contains(extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no images with extensions %v found in %q", extensions, dir)
	}
	sort.Strings(paths)
	return &FolderSource{dir: dir, paths: paths}, nil
}

// Paths returns every image path the source will yield.
func (fs *FolderSource) Paths() []string {
	return append([]string(nil), fs.paths...)
}

// Next decodes the next image.
func (fs *FolderSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	fs.mu.Lock()
	if fs.next >= len(fs.paths) {
		fs.mu.Unlock()
		return Frame{}, ErrEndOfStream
	}
	path := fs.paths[fs.next]
	fs.next++
	fs.mu.Unlock()
	return LoadFrame(path)
}

// Close does nothing; files are opened per frame.
func (fs *FolderSource) Close() error {
	return nil
}

// StaticSource replays a fixed list of frames, optionally forever.
type StaticSource struct {
	Frames []Frame
	Loop   bool

	mu   sync.Mutex
	next int
}

// Next returns the next frame.
func (ss *StaticSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.next >= len(ss.Frames) {
		if !ss.Loop || len(ss.Frames) == 0 {
			return Frame{}, ErrEndOfStream
		}
		ss.next = 0
	}
	f := ss.Frames[ss.next]
	ss.next++
	return f, nil
}

// Close does nothing.
func (ss *StaticSource) Close() error {
	return nil
}
