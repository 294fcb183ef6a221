package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/camcal/camcal/config"
	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/calibration/capture"
	"github.com/camcal/camcal/rimage/calibration/report"
	"github.com/camcal/camcal/rimage/calibration/store"
	"github.com/camcal/camcal/rimage/detection"
	"github.com/camcal/camcal/rimage/imagesource"
	"github.com/camcal/camcal/rimage/transform"
)

// loadConfig reads the --config file, or the defaults, and applies any command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet(flagFolder) {
		cfg.Source.Folder = c.String(flagFolder)
	}
	if c.IsSet(flagPatternKind) {
		cfg.Pattern.Kind = calibration.PatternKind(c.String(flagPatternKind))
	}
	if c.IsSet(flagColumns) {
		cfg.Pattern.Columns = c.Int(flagColumns)
	}
	if c.IsSet(flagRows) {
		cfg.Pattern.Rows = c.Int(flagRows)
	}
	if c.IsSet(flagSpacing) {
		cfg.Pattern.Spacing = c.Float64(flagSpacing)
	}
	if c.IsSet(flagModel) {
		cfg.Solver.DistortionModel = transform.DistortionType(c.String(flagModel))
	}
	if c.IsSet(flagFixTangential) {
		cfg.Solver.FixTangentialDistortion = c.Bool(flagFixTangential)
	}
	if c.IsSet(flagResizeWidth) {
		cfg.Source.ResizeWidth = c.Int(flagResizeWidth)
	}
	if c.IsSet(flagGrayscale) {
		cfg.Source.Grayscale = c.Bool(flagGrayscale)
	}
	if c.IsSet(flagMinViews) {
		cfg.Capture.MinViews = c.Int(flagMinViews)
	}
	if c.IsSet(flagCooldown) {
		cfg.Capture.CooldownFrames = c.Int(flagCooldown)
	}
	if c.IsSet(flagOutput) {
		cfg.Output.Path = c.String(flagOutput)
	}
	if c.IsSet(flagHistoryDB) {
		cfg.Output.HistoryDB = c.String(flagHistoryDB)
	}
	if c.Bool(flagNoHistory) {
		cfg.Output.HistoryDB = ""
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) logging.Logger {
	level := cfg.LogLevel
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	return logging.NewWriterLogger("calibrate", c.App.ErrWriter, level)
}

func cornerDetector(cfg *config.Config) detection.Detector {
	return &detection.CornerFileDetector{Suffix: cfg.Source.CornerSuffix}
}

// saveResult writes the calibration file and, when configured, appends it to the history.
func saveResult(ctx context.Context, cfg *config.Config, res *calibration.CalibrationResult, logger logging.Logger) (err error) {
	rec := res.Record()
	if err := store.WriteRecord(cfg.Output.Path, rec); err != nil {
		return err
	}
	logger.Infow("calibration saved", "path", cfg.Output.Path)

	if cfg.Output.HistoryDB == "" {
		return nil
	}
	history, err := store.OpenHistory(cfg.Output.HistoryDB)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, history.Close())
	}()
	entry, err := history.Save(ctx, cfg.Source.Folder, rec)
	if err != nil {
		return err
	}
	logger.Debugw("calibration recorded", "id", entry.ID, "db", cfg.Output.HistoryDB)
	return nil
}

func imagesAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	src, err := imagesource.NewFolderSource(cfg.Source.Folder, cfg.Source.Extensions)
	if err != nil {
		return err
	}
	logger.Infow("collecting views", "folder", cfg.Source.Folder, "images", len(src.Paths()))

	set, stats, err := capture.CollectViews(c.Context, src.Paths(), cfg.Pattern, cornerDetector(cfg),
		capture.BatchOptions{Parallelism: cfg.Source.Parallelism, Preprocess: cfg.Source.PreprocessOptions}, logger)
	if stats != nil {
		fmt.Fprintln(c.App.Writer, report.Batch(stats))
	}
	if err != nil {
		return err
	}

	res, err := calibration.Calibrate(set, cfg.Solver, logger)
	if err != nil {
		return err
	}
	if err := saveResult(c.Context, cfg, res, logger); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report.Result(res))
	return nil
}

// keyEvents forwards the operator's key presses as session events until ctx is done or the reader runs dry.
func keyEvents(ctx context.Context, in io.Reader) <-chan capture.Event {
	events := make(chan capture.Event, 16)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if n == 1 {
				if ev, ok := capture.KeyEvent(buf[0]); ok {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return events
}

func liveSource(cfg *config.Config, loop bool) (imagesource.FrameSource, error) {
	folder, err := imagesource.NewFolderSource(cfg.Source.Folder, cfg.Source.Extensions)
	if err != nil {
		return nil, err
	}
	var src imagesource.FrameSource = folder
	if loop {
		static := &imagesource.StaticSource{Loop: true}
		for _, path := range folder.Paths() {
			frame, err := imagesource.LoadFrame(path)
			if err != nil {
				return nil, err
			}
			static.Frames = append(static.Frames, frame)
		}
		src = static
	}
	return &imagesource.PreprocessSource{Original: src, Options: cfg.Source.PreprocessOptions}, nil
}

func liveAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	session, err := capture.NewSession(cfg.Pattern, cfg.Solver, cfg.Capture, logger)
	if err != nil {
		return err
	}
	src, err := liveSource(cfg, c.Bool(flagLoop))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, src.Close())
	}()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
	defer cancel()

	if f, ok := c.App.Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		oldState, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return errors.Wrap(err, "cannot read keys from terminal")
		}
		defer func() {
			//nolint:errcheck
			term.Restore(int(f.Fd()), oldState)
		}()
	}

	logger.Infow("live capture started", "session", session.ID(), "folder", cfg.Source.Folder)
	var last capture.Status
	res, err := session.Run(ctx, src, cornerDetector(cfg), keyEvents(ctx, c.App.Reader), capture.RunOptions{
		FrameInterval: time.Duration(cfg.Source.FrameIntervalMillis) * time.Millisecond,
		OnStatus: func(st capture.Status) {
			if st == last {
				return
			}
			last = st
			fmt.Fprintf(c.App.Writer, "\r%-16s views %d/%d cooldown %-3d\r\n",
				st.State, st.Views, st.MinViews, st.CooldownRemaining)
		},
	})
	if err != nil {
		return err
	}
	if err := saveResult(ctx, cfg, res, logger); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report.Result(res))
	return nil
}

func viewAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path = cfg.Output.Path
	}
	rec, err := store.ReadRecord(path)
	if err != nil {
		return err
	}
	dst := c.String(flagExport)
	if dst == "" {
		fmt.Fprintln(c.App.Writer, report.Record(rec))
		return nil
	}
	body, err := report.Export(rec, report.ExportFormat(c.String(flagFormat)))
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, []byte(body), 0o600); err != nil {
		return errors.Wrapf(err, "cannot export calibration to %s", dst)
	}
	fmt.Fprintf(c.App.Writer, "calibration exported to %s\n", dst)
	return nil
}

func historyAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Output.HistoryDB == "" {
		return errors.New("no history database configured; pass --history-db or set output.history_db")
	}
	history, err := store.OpenHistory(cfg.Output.HistoryDB)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, history.Close())
	}()
	entries, err := history.List(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report.History(entries))
	return nil
}

func undistortAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("need at least one image to undistort")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	path := cfg.Output.Path
	if c.IsSet(flagCalibration) {
		path = c.String(flagCalibration)
	}
	rec, err := store.ReadRecord(path)
	if err != nil {
		return err
	}
	model, err := rec.Camera().PinholeModel(rec.ImageSize())
	if err != nil {
		return err
	}

	outDir := c.String(flagOutDir)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return err
	}
	for _, in := range c.Args().Slice() {
		frame, err := imagesource.LoadFrame(in)
		if err != nil {
			return err
		}
		if frame.Size() != rec.ImageSize() {
			return errors.Errorf("%s is %v but the calibration is for %v", in, frame.Size(), rec.ImageSize())
		}
		out, err := model.UndistortImage(frame.Image)
		if err != nil {
			return errors.Wrapf(err, "cannot undistort %s", in)
		}
		dst := filepath.Join(outDir, frame.Name)
		if err := imaging.Save(out, dst); err != nil {
			return err
		}
		logger.Infow("undistorted", "image", in, "output", dst)
	}
	return nil
}
