package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/control"
	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/recorder"
)

type fakeControl struct {
	camera    bool
	recording string
	devMode   bool
	frame     []byte
	list      []recorder.Recording
	startErr  error
}

func (f *fakeControl) EnableCamera() bool  { f.camera = true; return true }
func (f *fakeControl) DisableCamera() bool { f.camera = false; return false }

func (f *fakeControl) StartRecording() (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	if f.recording != "" {
		return "", control.ErrConflict
	}
	f.recording = "recordings/recording_20240301_120000.mp4"
	return f.recording, nil
}

func (f *fakeControl) StopRecording() (string, error) {
	if f.recording == "" {
		return "", control.ErrConflict
	}
	path := f.recording
	f.recording = ""
	return path, nil
}

func (f *fakeControl) Status() control.Status {
	st := control.Status{CameraEnabled: f.camera, DevMode: f.devMode}
	if f.recording != "" {
		st.Recording = true
		st.RecordingFile = &f.recording
	}
	if !f.devMode {
		url, alive := "rtsp://localhost:8554/cam", true
		st.RTSPURL, st.StreamAlive = &url, &alive
	}
	return st
}

func (f *fakeControl) Snapshot() ([]byte, error) {
	if f.frame == nil {
		return nil, control.ErrNotReady
	}
	return f.frame, nil
}

func (f *fakeControl) Recordings() ([]recorder.Recording, error) {
	if f.list == nil {
		return []recorder.Recording{}, nil
	}
	return f.list, nil
}

func newTestServer(t *testing.T, ctl Control) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.UIDist = ""
	return NewServer(cfg, ctl, events.New(), zaptest.NewLogger(t))
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON %q: %v", rec.Body.String(), err)
	}
	return body
}

// TestStatus tests the status payload in production mode
func TestStatus(t *testing.T) {
	h := newTestServer(t, &fakeControl{camera: true}).Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d", rec.Code)
	}

	body := decode(t, rec)
	if body["camera_enabled"] != true || body["recording"] != false {
		t.Errorf("Body = %v", body)
	}
	if body["recording_file"] != nil {
		t.Errorf("recording_file = %v, want null", body["recording_file"])
	}
	if body["rtsp_url"] != "rtsp://localhost:8554/cam" || body["stream_alive"] != true {
		t.Errorf("Body = %v", body)
	}
}

// TestStatusDevMode tests that RTSP fields are null in dev mode
func TestStatusDevMode(t *testing.T) {
	h := newTestServer(t, &fakeControl{devMode: true}).Handler()

	body := decode(t, do(t, h, http.MethodGet, "/api/status"))
	if v, ok := body["rtsp_url"]; !ok || v != nil {
		t.Errorf("rtsp_url = %v, want null", v)
	}
	if v, ok := body["stream_alive"]; !ok || v != nil {
		t.Errorf("stream_alive = %v, want null", v)
	}
}

// TestCameraToggle tests the enable/disable endpoints
func TestCameraToggle(t *testing.T) {
	ctl := &fakeControl{camera: true}
	h := newTestServer(t, ctl).Handler()

	body := decode(t, do(t, h, http.MethodPost, "/api/camera/disable"))
	if body["camera_enabled"] != false || ctl.camera {
		t.Errorf("disable: body=%v camera=%v", body, ctl.camera)
	}

	body = decode(t, do(t, h, http.MethodPost, "/api/camera/enable"))
	if body["camera_enabled"] != true || !ctl.camera {
		t.Errorf("enable: body=%v camera=%v", body, ctl.camera)
	}

	if rec := do(t, h, http.MethodGet, "/api/camera/enable"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET enable = %d, want 405", rec.Code)
	}
}

// TestRecordingLifecycle tests start, conflicts and stop
func TestRecordingLifecycle(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	if rec := do(t, h, http.MethodPost, "/api/recording/stop"); rec.Code != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/recording/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["recording"] != true || body["file"] == "" {
		t.Errorf("start body = %v", body)
	}

	rec = do(t, h, http.MethodPost, "/api/recording/start")
	if rec.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Already recording" {
		t.Errorf("conflict body = %v", body)
	}

	rec = do(t, h, http.MethodPost, "/api/recording/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop = %d", rec.Code)
	}
	if body := decode(t, rec); body["recording"] != false {
		t.Errorf("stop body = %v", body)
	}
}

// TestRecordingDevMode tests that recording is refused in dev mode
func TestRecordingDevMode(t *testing.T) {
	h := newTestServer(t, &fakeControl{devMode: true, startErr: control.ErrUnavailable}).Handler()

	if rec := do(t, h, http.MethodPost, "/api/recording/start"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("start in dev mode = %d, want 503", rec.Code)
	}
}

// TestSnapshot tests the snapshot endpoint before and after the first frame
func TestSnapshot(t *testing.T) {
	ctl := &fakeControl{}
	h := newTestServer(t, ctl).Handler()

	if rec := do(t, h, http.MethodGet, "/api/snapshot"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("snapshot before first frame = %d, want 503", rec.Code)
	}

	ctl.frame = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	rec := do(t, h, http.MethodGet, "/api/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if rec.Body.Len() != 4 {
		t.Errorf("Body = %d bytes, want 4", rec.Body.Len())
	}
}

// TestRecordings tests the listing endpoint
func TestRecordings(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctl := &fakeControl{list: []recorder.Recording{
		{Name: "recording_20240301_120000.mp4", Path: "/secret/path", Size: 1572864, SizeMB: 1.5, Created: created},
	}}
	h := newTestServer(t, ctl).Handler()

	rec := do(t, h, http.MethodGet, "/api/recordings")
	if rec.Code != http.StatusOK {
		t.Fatalf("recordings = %d", rec.Code)
	}

	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Got %d entries", len(list))
	}
	if list[0]["name"] != "recording_20240301_120000.mp4" || list[0]["size_mb"] != 1.5 {
		t.Errorf("Entry = %v", list[0])
	}
	if list[0]["created"] != "2024-03-01T12:00:00Z" {
		t.Errorf("created = %v", list[0]["created"])
	}
	if _, ok := list[0]["path"]; ok {
		t.Error("Absolute path must not be exposed")
	}
}

// TestRecordingsEmpty tests that an empty listing is a JSON array
func TestRecordingsEmpty(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	if body := do(t, h, http.MethodGet, "/api/recordings").Body.String(); body != "[]\n" {
		t.Errorf("Body = %q, want []", body)
	}
}

// TestHealthAndMetrics tests the operational endpoints
func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	body := decode(t, do(t, h, http.MethodGet, "/health"))
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}

	if rec := do(t, h, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

// TestCORSPreflight tests the CORS middleware
func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	rec := do(t, h, http.MethodOptions, "/api/recording/start")
	if rec.Code != http.StatusOK {
		t.Errorf("preflight = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}

// TestStaticFrontend tests that UI_DIST is served at the root
func TestStaticFrontend(t *testing.T) {
	dist := t.TempDir()
	if err := os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>ui</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Server.UIDist = dist
	h := NewServer(cfg, &fakeControl{}, events.New(), zaptest.NewLogger(t)).Handler()

	rec := do(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>ui</html>" {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}

	// API routes still win over the static mount
	if rec := do(t, h, http.MethodGet, "/api/status"); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
