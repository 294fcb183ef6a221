// Package main is the camera calibration command line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig        = "config"
	flagDebug         = "debug"
	flagFolder        = "folder"
	flagPatternKind   = "pattern"
	flagColumns       = "columns"
	flagRows          = "rows"
	flagSpacing       = "spacing"
	flagModel         = "model"
	flagFixTangential = "fix-tangential"
	flagResizeWidth   = "resize-width"
	flagGrayscale     = "grayscale"
	flagMinViews      = "min-views"
	flagCooldown      = "cooldown"
	flagOutput        = "output"
	flagHistoryDB     = "history-db"
	flagNoHistory     = "no-history"
	flagLoop          = "loop"
	flagLimit         = "limit"
	flagCalibration   = "calibration"
	flagOutDir        = "out-dir"
	flagExport        = "export"
	flagFormat        = "format"
)

func newApp(in io.Reader, out, errOut io.Writer) *cli.App {
	runFlags := []cli.Flag{
		&cli.StringFlag{Name: flagFolder, Aliases: []string{"f"}, Usage: "read images from `DIR`"},
		&cli.StringFlag{Name: flagPatternKind, Usage: "pattern kind: grid or fiducial"},
		&cli.IntFlag{Name: flagColumns, Usage: "pattern columns (inner corners for grid, squares for fiducial)"},
		&cli.IntFlag{Name: flagRows, Usage: "pattern rows (inner corners for grid, squares for fiducial)"},
		&cli.Float64Flag{Name: flagSpacing, Usage: "distance between neighbouring pattern points"},
		&cli.StringFlag{Name: flagModel, Usage: "distortion model: simple or rational"},
		&cli.BoolFlag{Name: flagFixTangential, Usage: "keep p1 and p2 at zero"},
		&cli.IntFlag{Name: flagResizeWidth, Usage: "resize images to `WIDTH` pixels before detection"},
		&cli.BoolFlag{Name: flagGrayscale, Usage: "convert images to grayscale before detection"},
		&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write the calibration to `FILE`"},
		&cli.StringFlag{Name: flagHistoryDB, Usage: "append the run to the SQLite history in `FILE`"},
		&cli.BoolFlag{Name: flagNoHistory, Usage: "do not record the run in the history"},
	}

	return &cli.App{
		Name:            "calibrate",
		Usage:           "estimate camera intrinsics and lens distortion from views of a calibration pattern",
		HideHelpCommand: true,
		Reader:          in,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "images",
				Usage:  "calibrate from a folder of images with corner files",
				Flags:  runFlags,
				Action: imagesAction,
			},
			{
				Name:  "live",
				Usage: "interactively accept views from a frame stream (space: accept, c: calibrate, q: quit)",
				Flags: append(append([]cli.Flag{}, runFlags...),
					&cli.IntFlag{Name: flagMinViews, Usage: "views needed before calibrating"},
					&cli.IntFlag{Name: flagCooldown, Usage: "frames to wait after an accepted view"},
					&cli.BoolFlag{Name: flagLoop, Usage: "replay the folder until quit"},
				),
				Action: liveAction,
			},
			{
				Name:      "view",
				Usage:     "print a stored calibration, or export it",
				ArgsUsage: "[FILE]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagExport, Usage: "write the calibration to `FILE` instead of printing it"},
					&cli.StringFlag{Name: flagFormat, Value: "text", Usage: "export format: text or opencv"},
				},
				Action: viewAction,
			},
			{
				Name:  "history",
				Usage: "list past calibrations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagHistoryDB, Usage: "history database `FILE`"},
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "show at most `N` entries, 0 for all"},
				},
				Action: historyAction,
			},
			{
				Name:      "undistort",
				Usage:     "remove lens distortion from images",
				ArgsUsage: "IMAGE...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCalibration, Usage: "calibration `FILE` (default from config)"},
					&cli.StringFlag{Name: flagOutDir, Value: "undistorted", Usage: "write images to `DIR`"},
				},
				Action: undistortAction,
			},
		},
	}
}

func realMain(args []string) error {
	return newApp(os.Stdin, os.Stdout, os.Stderr).Run(args)
}

func main() {
	if err := realMain(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
