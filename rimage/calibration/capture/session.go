// Package capture drives the collection of calibration views, either interactively from a live
// frame stream or in bulk from a folder of images.
package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/detection"
)

const (
	// DefaultMinViews is the view count at which calibration may start.
	DefaultMinViews = 10
	// DefaultCooldownFrames is the number of frames after an accept during which no other view is
	// accepted.
	DefaultCooldownFrames = 30
)

// State is where a capture session stands.
type State string

// The capture states.
const (
	StateSearching      = State("SEARCHING")
	StatePatternVisible = State("PATTERN_VISIBLE")
	StateCooldown       = State("COOLDOWN")
	StateReady          = State("READY")
	StateSolving        = State("SOLVING")
	StateDone           = State("DONE")
	StateAborted        = State("ABORTED")
)

var (
	// ErrInvalidTransition is returned for an event the current state does not allow.
	ErrInvalidTransition = errors.New("invalid capture transition")
	// ErrSessionClosed is returned for any event after DONE or ABORTED.
	ErrSessionClosed = errors.New("capture session is closed")
)

// NotReadyError reports a calibrate request made before enough views were accepted.
type NotReadyError struct {
	Have int
	Need int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("have %d views, need %d to calibrate", e.Have, e.Need)
}

// Config configures a session.
type Config struct {
	MinViews       int `json:"min_views"`
	CooldownFrames int `json:"cooldown_frames"`
}

// WithDefaults fills unset fields.
func (cfg Config) WithDefaults() Config {
	if cfg.MinViews == 0 {
		cfg.MinViews = DefaultMinViews
	}
	if cfg.CooldownFrames == 0 {
		cfg.CooldownFrames = DefaultCooldownFrames
	}
	return cfg
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.MinViews < calibration.MinimumViews {
		return errors.Errorf("min_views must be at least %d, got %d", calibration.MinimumViews, cfg.MinViews)
	}
	if cfg.CooldownFrames < 0 {
		return errors.Errorf("cooldown_frames must not be negative, got %d", cfg.CooldownFrames)
	}
	return nil
}

// Status is a snapshot of a session for display.
type Status struct {
	State             State
	Views             int
	MinViews          int
	CooldownRemaining int
}

// A Session is one interactive capture. Views only enter its CorrespondenceSet through Accept,
// which requires a visible pattern and no running cooldown.
type Session struct {
	mu        sync.Mutex
	id        uuid.UUID
	cfg       Config
	pattern   calibration.PatternConfig
	solverCfg calibration.SolverConfig
	logger    logging.Logger

	state State
	set   *calibration.CorrespondenceSet

	// current is the view built from the latest frame, nil when no usable pattern was seen.
	current    *calibration.View
	currentRes image.Point
	cooling    bool
	// sinceAccept counts frames observed since the last accept.
	sinceAccept int
	frames      int

	result *calibration.CalibrationResult
}

// NewSession starts a session in SEARCHING.
func NewSession(
	pattern calibration.PatternConfig,
	solverCfg calibration.SolverConfig,
	cfg Config,
	logger logging.Logger,
) (*Session, error) {
	return NewSessionWithID(uuid.New(), pattern, solverCfg, cfg, logger)
}

// NewSessionWithID starts a session with a given ID.
func NewSessionWithID(
	id uuid.UUID,
	pattern calibration.PatternConfig,
	solverCfg calibration.SolverConfig,
	cfg Config,
	logger logging.Logger,
) (*Session, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	solverCfg = solverCfg.WithDefaults()
	if err := solverCfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		cfg:       cfg,
		pattern:   pattern,
		solverCfg: solverCfg,
		logger:    logger,
		state:     StateSearching,
		set:       calibration.NewCorrespondenceSet(),
	}, nil
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ViewCount returns the number of accepted views.
func (s *Session) ViewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return 0
	}
	return s.set.ViewCount()
}

// Status returns a display snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, MinViews: s.cfg.MinViews}
	if s.set != nil {
		st.Views = s.set.ViewCount()
	}
	if s.cooling {
		st.CooldownRemaining = s.cfg.CooldownFrames - s.sinceAccept
	}
	return st
}

// Result returns the calibration once the session is DONE.
func (s *Session) Result() *calibration.CalibrationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) closed() bool {
	return s.state == StateDone || s.state == StateAborted
}

// settle derives the capture state. Cooldown wins over a visible pattern, and both win over READY.
func (s *Session) settle() {
	switch {
	case s.cooling:
		s.state = StateCooldown
	case s.current != nil:
		s.state = StatePatternVisible
	case s.set.ViewCount() >= s.cfg.MinViews:
		s.state = StateReady
	default:
		s.state = StateSearching
	}
}

// ObserveFrame feeds the detector's result for a new frame of the given size. A nil det means no
// pattern was found. A detection that does not fit the pattern is treated as no pattern.
func (s *Session) ObserveFrame(resolution image.Point, det *detection.Detection) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return s.state, ErrSessionClosed
	}
	if s.state == StateSolving {
		return s.state, errors.Wrap(ErrInvalidTransition, "cannot observe frames while solving")
	}

	s.frames++
	if s.cooling {
		s.sinceAccept++
		if s.sinceAccept >= s.cfg.CooldownFrames {
			s.cooling = false
		}
	}

	s.current = nil
	if det != nil {
		v, err := s.pattern.NewView(det.Points, det.IDs)
		if err != nil {
			s.logger.Debugw("ignoring detection", "frame", s.frames, "error", err)
		} else {
			s.current = &v
			s.currentRes = resolution
		}
	}
	s.settle()
	return s.state, nil
}

// Accept adds the current frame's view. It is only allowed in PATTERN_VISIBLE.
func (s *Session) Accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrSessionClosed
	}
	if s.state != StatePatternVisible {
		return errors.Wrapf(ErrInvalidTransition, "cannot accept a view in %s", s.state)
	}
	if err := s.set.Add(s.currentRes, *s.current); err != nil {
		return err
	}
	s.current = nil
	s.cooling = s.cfg.CooldownFrames > 0
	s.sinceAccept = 0
	s.settle()
	s.logger.Infow("view accepted", "views", s.set.ViewCount(), "need", s.cfg.MinViews)
	return nil
}

// Calibrate solves once enough views are accepted. Without enough views it returns a
// *NotReadyError and changes nothing. A failed solve leaves the views in place so that more can be
// captured; a successful one moves to DONE and releases them.
func (s *Session) Calibrate() (*calibration.CalibrationResult, error) {
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state == StateSolving {
		s.mu.Unlock()
		return nil, errors.Wrap(ErrInvalidTransition, "already solving")
	}
	if have := s.set.ViewCount(); have < s.cfg.MinViews {
		s.mu.Unlock()
		return nil, &NotReadyError{Have: have, Need: s.cfg.MinViews}
	}
	s.state = StateSolving
	set := s.set
	s.mu.Unlock()

	res, err := calibration.Calibrate(set, s.solverCfg, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.settle()
		s.logger.Warnw("calibration failed; capture more views and retry", "error", err)
		return nil, err
	}
	s.result = res
	s.set = nil
	s.current = nil
	s.state = StateDone
	return res, nil
}

// Quit abandons the session without keeping anything.
func (s *Session) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrSessionClosed
	}
	if s.state == StateSolving {
		return errors.Wrap(ErrInvalidTransition, "cannot quit while solving")
	}
	s.state = StateAborted
	s.set = nil
	s.current = nil
	s.logger.Info("capture aborted")
	return nil
}
