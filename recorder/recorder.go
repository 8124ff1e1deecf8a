// Package recorder runs the on-demand ffmpeg process that copies the
// published RTSP stream into MP4 files.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/metrics"
	"github.com/mgrossu/home-surveillance-system/proc"
	"github.com/mgrossu/home-surveillance-system/state"
)

// ErrConflict is returned by Start while a recording is active.
var ErrConflict = errors.New("already recording")

const fileLayout = "20060102_150405"

// Recorder owns the recording subprocess. The shared recording flag is only
// written here, under mu, together with the process handle.
type Recorder struct {
	dir         string
	ffmpeg      string
	rtspURL     string
	stopTimeout time.Duration
	killWait    time.Duration

	launcher proc.Launcher
	state    *state.State
	bus      *events.Bus
	logger   *zap.Logger
	now      func() time.Time
	list     *cache.Cache

	// opMu serializes Start and Stop; mu guards the handle and is never
	// held while waiting on a process.
	opMu    sync.Mutex
	mu      sync.Mutex
	proc    proc.Process
	path    string
	session string
}

// Option customizes a Recorder
type Option func(*Recorder)

// WithClock replaces the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates an idle recorder
func New(cfg *config.Config, launcher proc.Launcher, st *state.State, bus *events.Bus, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		dir:         cfg.Recording.Dir,
		ffmpeg:      cfg.Recording.FFmpegPath,
		rtspURL:     cfg.Stream.RTSPURL,
		stopTimeout: cfg.Timeouts.RecorderStop(),
		killWait:    cfg.Timeouts.KillWait(),
		launcher:    launcher,
		state:       st,
		bus:         bus,
		logger:      logger.With(zap.String("component", "recorder")),
		now:         time.Now,
	}
	if ttl := time.Duration(cfg.Recording.ListCacheSeconds) * time.Second; ttl > 0 {
		r.list = cache.New(ttl, 2*ttl)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the recordings directory
func (r *Recorder) Dir() string { return r.dir }

// Args returns the ffmpeg arguments for a recording into path.
func (r *Recorder) Args(path string) []string {
	return []string{
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", r.rtspURL,
		"-c", "copy",
		"-movflags", "+faststart",
		path,
	}
}

// Start launches a recording and returns the output path.
func (r *Recorder) Start() (string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcileLocked()
	if r.proc != nil {
		return "", ErrConflict
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings dir: %w", err)
	}

	path := r.outputPath()
	p, err := r.launcher.Launch(proc.Spec{
		Name: "recorder",
		Path: r.ffmpeg,
		Args: r.Args(path),
	})
	if err != nil {
		return "", fmt.Errorf("failed to launch recorder: %w", err)
	}

	r.proc = p
	r.path = path
	r.session = uuid.New().String()
	r.state.SetRecording(true)
	r.invalidate()

	metrics.SetRecording(true)
	metrics.IncRecordingsStarted()

	r.logger.Info("Recording started",
		zap.String("session_id", r.session),
		zap.String("path", path),
		zap.Int("pid", p.Pid()))

	r.bus.Publish(events.RecordingStarted{
		SessionID: r.session,
		Path:      path,
		Timestamp: events.Now(),
	})

	go r.monitor(p)

	return path, nil
}

// Stop ends the active recording and returns its path. With nothing
// recording it returns "" and does nothing.
func (r *Recorder) Stop() (string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	r.reconcileLocked()
	if r.proc == nil {
		r.state.SetRecording(false)
		r.mu.Unlock()
		return "", nil
	}
	p, path, session := r.proc, r.path, r.session
	r.clearLocked()
	r.mu.Unlock()

	forced := proc.Terminate(p, r.stopTimeout, r.killWait, r.logger)
	// ffmpeg finalizes the file while exiting.
	r.invalidate()

	r.logger.Info("Recording stopped",
		zap.String("session_id", session),
		zap.String("path", path),
		zap.Bool("forced", forced))

	r.bus.Publish(events.RecordingStopped{
		SessionID: session,
		Path:      path,
		Forced:    forced,
		Timestamp: events.Now(),
	})
	return path, nil
}

// Active reports whether a recording process is running
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileLocked()
	return r.proc != nil
}

// Current returns the path being recorded, or ""
func (r *Recorder) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileLocked()
	return r.path
}

// monitor clears the handle when the process exits without being stopped.
func (r *Recorder) monitor(p proc.Process) {
	<-p.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == p {
		r.exitedLocked()
	}
}

func (r *Recorder) reconcileLocked() {
	if r.proc != nil && proc.Exited(r.proc) {
		r.exitedLocked()
	}
}

func (r *Recorder) exitedLocked() {
	path, session, err := r.path, r.session, r.proc.Err()
	r.clearLocked()

	r.logger.Warn("Recording process exited on its own",
		zap.String("session_id", session),
		zap.String("path", path),
		zap.Error(err))

	r.bus.Publish(events.RecordingStopped{
		SessionID:  session,
		Path:       path,
		Unexpected: true,
		Timestamp:  events.Now(),
	})
}

func (r *Recorder) clearLocked() {
	r.proc = nil
	r.path = ""
	r.session = ""
	r.state.SetRecording(false)
	r.invalidate()
	metrics.SetRecording(false)
}

// outputPath names the file after the start time, adding _N on collision.
func (r *Recorder) outputPath() string {
	base := "recording_" + r.now().Format(fileLayout)
	path := filepath.Join(r.dir, base+".mp4")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s_%d.mp4", base, n))
	}
}
