// Package state holds the process-wide flags and the latest frame shared
// between the capture loop, the subprocess controllers and the HTTP layer.
package state

import "sync/atomic"

// State is created once at startup and handed to every component.
type State struct {
	cameraEnabled atomic.Bool
	recording     atomic.Bool

	Frames *FrameCache
}

// New creates shared state with the camera flag preset
func New(cameraEnabled bool) *State {
	s := &State{Frames: NewFrameCache()}
	s.cameraEnabled.Store(cameraEnabled)
	return s
}

// CameraEnabled reports whether the loop should read from the device
func (s *State) CameraEnabled() bool {
	return s.cameraEnabled.Load()
}

// SetCameraEnabled switches between device frames and the placeholder.
// It returns the previous value.
func (s *State) SetCameraEnabled(enabled bool) bool {
	return s.cameraEnabled.Swap(enabled)
}

// Recording reports whether a recording subprocess is active
func (s *State) Recording() bool {
	return s.recording.Load()
}

// SetRecording is reserved for the recorder, which updates it together
// with its process handle.
func (s *State) SetRecording(recording bool) {
	s.recording.Store(recording)
}
