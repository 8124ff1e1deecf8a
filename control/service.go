// Package control exposes the operations the HTTP API performs on the
// capture pipeline.
package control

import (
	"errors"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/recorder"
	"github.com/mgrossu/home-surveillance-system/state"
)

var (
	// ErrConflict means the recording is already in the requested state.
	ErrConflict = recorder.ErrConflict
	// ErrNotReady means no frame has been captured yet.
	ErrNotReady = errors.New("no frame available yet")
	// ErrUnavailable means the operation is disabled in dev mode.
	ErrUnavailable = errors.New("not available in dev mode")
)

// Stream is the feeder as seen by the control surface.
type Stream interface {
	IsAlive() bool
}

// Recorder is the recording controller as seen by the control surface.
type Recorder interface {
	Start() (string, error)
	Stop() (string, error)
	Active() bool
	Current() string
	List() ([]recorder.Recording, error)
}

// Status is the snapshot returned by GET /api/status.
type Status struct {
	CameraEnabled bool    `json:"camera_enabled"`
	Recording     bool    `json:"recording"`
	RecordingFile *string `json:"recording_file"`
	DevMode       bool    `json:"dev_mode"`
	RTSPURL       *string `json:"rtsp_url"`
	StreamAlive   *bool   `json:"stream_alive"`
}

// Service implements the control operations.
type Service struct {
	state    *state.State
	stream   Stream
	recorder Recorder
	bus      *events.Bus
	devMode  bool
	rtspURL  string
	logger   *zap.Logger
}

// Config holds the settings that shape status output
type Config struct {
	DevMode bool
	RTSPURL string // public URL advertised to clients
}

// NewService wires the control surface. stream may be nil in dev mode.
func NewService(cfg Config, st *state.State, stream Stream, rec Recorder, bus *events.Bus, logger *zap.Logger) *Service {
	return &Service{
		state:    st,
		stream:   stream,
		recorder: rec,
		bus:      bus,
		devMode:  cfg.DevMode,
		rtspURL:  cfg.RTSPURL,
		logger:   logger.With(zap.String("component", "control")),
	}
}

// EnableCamera switches the capture loop back to device frames.
func (s *Service) EnableCamera() bool {
	s.setCamera(true)
	return true
}

// DisableCamera switches the capture loop to the privacy placeholder.
func (s *Service) DisableCamera() bool {
	s.setCamera(false)
	return false
}

func (s *Service) setCamera(enabled bool) {
	if prev := s.state.SetCameraEnabled(enabled); prev == enabled {
		return
	}
	s.logger.Info("Camera toggled", zap.Bool("enabled", enabled))
	s.bus.Publish(events.CameraToggled{Enabled: enabled, Timestamp: events.Now()})
}

// StartRecording begins a recording and returns the output path.
func (s *Service) StartRecording() (string, error) {
	if s.devMode {
		return "", ErrUnavailable
	}
	return s.recorder.Start()
}

// StopRecording ends the active recording and returns its path.
func (s *Service) StopRecording() (string, error) {
	path, err := s.recorder.Stop()
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", ErrConflict
	}
	return path, nil
}

// Status reports the pipeline flags. RTSP fields are nil in dev mode.
func (s *Service) Status() Status {
	st := Status{
		CameraEnabled: s.state.CameraEnabled(),
		DevMode:       s.devMode,
	}

	if current := s.recorder.Current(); current != "" {
		st.Recording = true
		st.RecordingFile = &current
	}

	if !s.devMode {
		url := s.rtspURL
		st.RTSPURL = &url
		alive := s.stream != nil && s.stream.IsAlive()
		st.StreamAlive = &alive
	}
	return st
}

// Snapshot returns the latest encoded frame.
func (s *Service) Snapshot() ([]byte, error) {
	frame, ok := s.state.Frames.Get()
	if !ok {
		return nil, ErrNotReady
	}
	return frame, nil
}

// Recordings lists the recordings directory, newest first.
func (s *Service) Recordings() ([]recorder.Recording, error) {
	return s.recorder.List()
}
