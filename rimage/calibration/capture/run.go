package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/detection"
	"github.com/camcal/camcal/rimage/imagesource"
)

// ErrAborted is returned by Run when the operator quits.
var ErrAborted = errors.New("capture aborted by operator")

// Event is an operator command.
type Event int

// The operator commands.
const (
	EventAccept Event = iota
	EventCalibrate
	EventQuit
)

func (e Event) String() string {
	switch e {
	case EventAccept:
		return "accept"
	case EventCalibrate:
		return "calibrate"
	case EventQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// KeyEvent maps a key press to an event: space accepts, c calibrates, q, escape or ctrl-c quit.
func KeyEvent(key byte) (Event, bool) {
	switch key {
	case ' ':
		return EventAccept, true
	case 'c', 'C':
		return EventCalibrate, true
	case 'q', 'Q', 27, 3:
		return EventQuit, true
	default:
		return 0, false
	}
}

// RunOptions configures the live loop.
type RunOptions struct {
	// FrameInterval paces the loop; zero reads frames as fast as the source yields them.
	FrameInterval time.Duration
	// OnStatus, if set, is called after every frame and event.
	OnStatus func(Status)
}

// Run reads frames from src, detects the pattern in each and applies the operator's events between
// frames until the session is DONE or ABORTED. When the source runs out, the session calibrates if
// it has enough views and aborts otherwise.
func (s *Session) Run(
	ctx context.Context,
	src imagesource.FrameSource,
	det detection.Detector,
	events <-chan Event,
	opts RunOptions,
) (*calibration.CalibrationResult, error) {
	notify := func() {
		if opts.OnStatus != nil {
			opts.OnStatus(s.Status())
		}
	}
	for {
		if ctx.Err() != nil {
			//nolint:errcheck
			s.Quit()
			return nil, ctx.Err()
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, imagesource.ErrEndOfStream) {
			return s.finish()
		}
		if err != nil {
			return nil, err
		}

		found, err := det.Detect(ctx, frame)
		if err != nil {
			s.logger.Warnw("detection failed", "frame", frame.Name, "error", err)
			found = nil
		}
		if _, err := s.ObserveFrame(frame.Size(), found); err != nil {
			return nil, err
		}
		notify()

		res, done, err := s.drain(events)
		notify()
		if done {
			return res, err
		}

		if opts.FrameInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.FrameInterval):
			}
		}
	}
}

// drain applies every pending event. done is true once the session is closed.
func (s *Session) drain(events <-chan Event) (*calibration.CalibrationResult, bool, error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, false, nil
			}
			res, done, err := s.apply(ev)
			if done {
				return res, true, err
			}
		default:
			return nil, false, nil
		}
	}
}

func (s *Session) apply(ev Event) (*calibration.CalibrationResult, bool, error) {
	switch ev {
	case EventAccept:
		if err := s.Accept(); err != nil {
			s.logger.Infow("view not accepted", "state", string(s.State()), "reason", err)
		}
	case EventCalibrate:
		res, err := s.Calibrate()
		var notReady *NotReadyError
		switch {
		case errors.As(err, &notReady):
			s.logger.Infow("not enough views to calibrate", "have", notReady.Have, "need", notReady.Need)
		case err != nil:
			// the session is back to capturing
		default:
			return res, true, nil
		}
	case EventQuit:
		if err := s.Quit(); err != nil {
			return nil, true, err
		}
		return nil, true, ErrAborted
	}
	return nil, false, nil
}

func (s *Session) finish() (*calibration.CalibrationResult, error) {
	res, err := s.Calibrate()
	if err == nil {
		return res, nil
	}
	var notReady *NotReadyError
	if errors.As(err, &notReady) {
		//nolint:errcheck
		s.Quit()
		return nil, errors.Wrapf(calibration.ErrInsufficientViews, "source ended with %d of %d views", notReady.Have, notReady.Need)
	}
	//nolint:errcheck
	s.Quit()
	return nil, err
}
