// Package config defines the calibration run configuration file.
package config

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/calibration/capture"
	"github.com/camcal/camcal/rimage/detection"
	"github.com/camcal/camcal/rimage/imagesource"
)

// Defaults for values the file leaves out.
const (
	DefaultPatternColumns = 9
	DefaultPatternRows    = 6
	DefaultPatternSpacing = 1.0
	DefaultFolder         = "images"
	DefaultOutputPath     = "camera_calibration.json"
)

// Config is a full calibration run description.
type Config struct {
	ConfigFilePath string `json:"-"`

	Pattern  calibration.PatternConfig `json:"pattern"`
	Solver   calibration.SolverConfig  `json:"solver"`
	Capture  capture.Config            `json:"capture"`
	Source   SourceConfig              `json:"source"`
	Output   OutputConfig              `json:"output"`
	LogLevel logging.Level             `json:"log_level"`
}

// SourceConfig says where frames come from and how they are prepared.
type SourceConfig struct {
	Folder     string   `json:"folder"`
	Extensions []string `json:"extensions"`
	imagesource.PreprocessOptions
	// Parallelism bounds concurrent detection in folder runs.
	Parallelism int `json:"parallelism"`
	// CornerSuffix names the corner files next to each image.
	CornerSuffix string `json:"corner_suffix"`
	// FrameIntervalMillis paces live replay.
	FrameIntervalMillis int `json:"frame_interval_ms"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	Path string `json:"path"`
	// HistoryDB is a SQLite file that every run is appended to. Empty disables history.
	HistoryDB string `json:"history_db"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Pattern.Kind == "" {
		c.Pattern.Kind = calibration.GridPattern
	}
	if c.Pattern.Columns == 0 && c.Pattern.Rows == 0 {
		c.Pattern.Columns, c.Pattern.Rows = DefaultPatternColumns, DefaultPatternRows
	}
	if c.Pattern.Spacing == 0 {
		c.Pattern.Spacing = DefaultPatternSpacing
	}
	c.Solver = c.Solver.WithDefaults()
	c.Capture = c.Capture.WithDefaults()
	if c.Source.Folder == "" {
		c.Source.Folder = DefaultFolder
	}
	if c.Source.Extensions == nil {
		c.Source.Extensions = append([]string(nil), imagesource.DefaultExtensions...)
	}
	if c.Source.Parallelism == 0 {
		c.Source.Parallelism = runtime.GOMAXPROCS(0)
	}
	if c.Source.CornerSuffix == "" {
		c.Source.CornerSuffix = detection.DefaultCornerFileSuffix
	}
	if c.Output.Path == "" {
		c.Output.Path = DefaultOutputPath
	}
}

// Ensure fills defaults and validates the configuration.
func (c *Config) Ensure() error {
	c.applyDefaults()
	if err := c.Pattern.Validate(); err != nil {
		return errors.Wrap(err, "pattern")
	}
	if err := c.Solver.Validate(); err != nil {
		return errors.Wrap(err, "solver")
	}
	if err := c.Capture.Validate(); err != nil {
		return errors.Wrap(err, "capture")
	}
	if err := c.Source.PreprocessOptions.Validate(); err != nil {
		return errors.Wrap(err, "source")
	}
	if c.Source.Parallelism < 0 {
		return errors.Errorf("source: parallelism must not be negative, got %d", c.Source.Parallelism)
	}
	if c.Source.FrameIntervalMillis < 0 {
		return errors.Errorf("source: frame_interval_ms must not be negative, got %d", c.Source.FrameIntervalMillis)
	}
	return nil
}
