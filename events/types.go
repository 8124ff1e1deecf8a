package events

// Event type constants for kelindar/event.
const (
	TypeCameraToggled uint32 = iota + 1
	TypeRecordingStarted
	TypeRecordingStopped
	TypeStreamRestarted
	TypeRecordingsChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraToggled is published when the camera flag changes.
type CameraToggled struct {
	Enabled   bool   `json:"enabled"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for CameraToggled.
func (e CameraToggled) Type() uint32 { return TypeCameraToggled }

// RecordingStarted is published after the recorder subprocess launches.
type RecordingStarted struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for RecordingStarted.
func (e RecordingStarted) Type() uint32 { return TypeRecordingStarted }

// RecordingStopped is published when a recording ends, by request or by
// the subprocess exiting on its own (Unexpected).
type RecordingStopped struct {
	SessionID  string `json:"session_id"`
	Path       string `json:"path"`
	Forced     bool   `json:"forced"`
	Unexpected bool   `json:"unexpected"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for RecordingStopped.
func (e RecordingStopped) Type() uint32 { return TypeRecordingStopped }

// StreamRestarted is published each time the feeder relaunches its encoder.
type StreamRestarted struct {
	Reason    string `json:"reason"`
	Restarts  uint64 `json:"restarts"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamRestarted.
func (e StreamRestarted) Type() uint32 { return TypeStreamRestarted }

// RecordingsChanged is published when files appear or vanish in the recordings dir.
type RecordingsChanged struct {
	Name      string `json:"name"`
	Op        string `json:"op"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for RecordingsChanged.
func (e RecordingsChanged) Type() uint32 { return TypeRecordingsChanged }

// Name returns the wire name used when events are pushed to browsers.
func Name(ev Event) string {
	switch ev.(type) {
	case CameraToggled:
		return "camera_toggled"
	case RecordingStarted:
		return "recording_started"
	case RecordingStopped:
		return "recording_stopped"
	case StreamRestarted:
		return "stream_restarted"
	case RecordingsChanged:
		return "recordings_changed"
	default:
		return "unknown"
	}
}
