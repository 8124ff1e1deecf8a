package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/control"
	"github.com/mgrossu/home-surveillance-system/recorder"
)

// Control is the pipeline surface the handlers drive.
type Control interface {
	EnableCamera() bool
	DisableCamera() bool
	StartRecording() (string, error)
	StopRecording() (string, error)
	Status() control.Status
	Snapshot() ([]byte, error)
	Recordings() ([]recorder.Recording, error)
}

// Handlers contains HTTP request handlers
type Handlers struct {
	control Control
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates new HTTP handlers
func NewHandlers(ctl Control, logger *zap.Logger) *Handlers {
	return &Handlers{
		control: ctl,
		logger:  logger,
		started: time.Now(),
	}
}

// HandleStatus returns the pipeline status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.control.Status())
}

// HandleCameraEnable switches back to device frames
func (h *Handlers) HandleCameraEnable(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]bool{"camera_enabled": h.control.EnableCamera()})
}

// HandleCameraDisable switches to the placeholder frame
func (h *Handlers) HandleCameraDisable(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]bool{"camera_enabled": h.control.DisableCamera()})
}

// HandleRecordingStart starts a recording of the published stream
func (h *Handlers) HandleRecordingStart(w http.ResponseWriter, r *http.Request) {
	path, err := h.control.StartRecording()
	if err != nil {
		h.writeControlError(w, err, "Already recording")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]any{"recording": true, "file": path})
}

// HandleRecordingStop stops the active recording
func (h *Handlers) HandleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if _, err := h.control.StopRecording(); err != nil {
		h.writeControlError(w, err, "Not recording")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]bool{"recording": false})
}

// HandleSnapshot returns the latest frame as JPEG
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := h.control.Snapshot()
	if err != nil {
		h.writeControlError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame); err != nil {
		h.logger.Debug("Snapshot write failed", zap.Error(err))
	}
}

// HandleRecordings lists recorded files, newest first
func (h *Handlers) HandleRecordings(w http.ResponseWriter, r *http.Request) {
	list, err := h.control.Recordings()
	if err != nil {
		h.logger.Error("Failed to list recordings", zap.Error(err))
		h.writeErrorResponse(w, "Failed to list recordings", http.StatusInternalServerError)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]any{
		"web_server": "running",
		"capture":    "running",
	}
	if alive := h.control.Status().StreamAlive; alive != nil {
		services["stream"] = "down"
		if *alive {
			services["stream"] = "running"
		}
	}

	health := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"services":  services,
	}

	h.writeJSONResponse(w, http.StatusOK, health)
}

// writeControlError maps control errors onto HTTP status codes
func (h *Handlers) writeControlError(w http.ResponseWriter, err error, conflictMsg string) {
	switch {
	case errors.Is(err, control.ErrConflict):
		h.writeErrorResponse(w, conflictMsg, http.StatusConflict)
	case errors.Is(err, control.ErrUnavailable):
		h.writeErrorResponse(w, "Recording disabled in dev mode", http.StatusServiceUnavailable)
	case errors.Is(err, control.ErrNotReady):
		h.writeErrorResponse(w, "No frame available yet", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Control operation failed", zap.Error(err))
		h.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSONResponse(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}
