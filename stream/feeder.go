// Package stream pipes encoded frames into the ffmpeg publisher and keeps
// it running.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/metrics"
	"github.com/mgrossu/home-surveillance-system/proc"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("feeder closed")

// Feeder supervises the encoder subprocess. Crashes are detected lazily on
// the next Feed, which relaunches the process and drops that frame.
type Feeder struct {
	cfg         config.StreamConfig
	fps         int
	stopTimeout time.Duration
	killWait    time.Duration
	logEvery    int

	launcher proc.Launcher
	exists   func(string) bool
	bus      *events.Bus
	logger   *zap.Logger

	// live mirrors proc so IsAlive never waits on mu, which is held while
	// an encoder is being terminated.
	live atomic.Pointer[handle]

	mu             sync.Mutex
	proc           proc.Process
	encoder        string
	restarts       uint64
	launchFailures int
	closed         bool
}

type handle struct{ p proc.Process }

// Option customizes a Feeder
type Option func(*Feeder)

// WithDeviceProbe replaces the check for the hardware encoder device node.
func WithDeviceProbe(exists func(path string) bool) Option {
	return func(f *Feeder) { f.exists = exists }
}

// NewFeeder creates a stopped feeder
func NewFeeder(cfg *config.Config, launcher proc.Launcher, bus *events.Bus, logger *zap.Logger, opts ...Option) *Feeder {
	f := &Feeder{
		cfg:         cfg.Stream,
		fps:         cfg.Camera.FPS,
		stopTimeout: cfg.Timeouts.FeederStop(),
		killWait:    cfg.Timeouts.KillWait(),
		logEvery:    cfg.Logging.FailureLogInterval,
		launcher:    launcher,
		exists:      fileExists,
		bus:         bus,
		logger:      logger.With(zap.String("component", "stream")),
	}
	if f.logEvery <= 0 {
		f.logEvery = 1
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start replaces any running encoder with a fresh one.
func (f *Feeder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.startLocked()
}

func (f *Feeder) startLocked() error {
	f.stopLocked()

	enc := SelectEncoder(f.cfg, f.exists)
	p, err := f.launcher.Launch(proc.Spec{
		Name:  "stream",
		Path:  f.cfg.FFmpegPath,
		Args:  BuildArgs(f.cfg, f.fps, enc),
		Stdin: true,
	})
	if err != nil {
		f.launchFailures++
		return fmt.Errorf("failed to launch encoder: %w", err)
	}

	f.setProcLocked(p)
	f.encoder = enc.Name
	f.launchFailures = 0
	metrics.SetFeederAlive(true)

	f.logger.Info("Encoder started",
		zap.Int("pid", p.Pid()),
		zap.String("encoder", enc.Name),
		zap.String("rtsp_url", f.cfg.RTSPURL))
	return nil
}

// Stop terminates the encoder: stdin closed and SIGINT, then kill after the
// stop timeout. The handle is cleared either way.
func (f *Feeder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

func (f *Feeder) stopLocked() {
	if f.proc == nil {
		return
	}
	p := f.proc
	f.setProcLocked(nil)
	metrics.SetFeederAlive(false)

	forced := proc.Terminate(p, f.stopTimeout, f.killWait, f.logger)
	f.logger.Info("Encoder stopped", zap.Int("pid", p.Pid()), zap.Bool("forced", forced))
}

// Close stops the encoder for good; later Feeds are dropped.
func (f *Feeder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.stopLocked()
}

// IsAlive reports whether an encoder process is running
func (f *Feeder) IsAlive() bool {
	h := f.live.Load()
	return h != nil && !proc.Exited(h.p)
}

func (f *Feeder) aliveLocked() bool {
	return f.proc != nil && !proc.Exited(f.proc)
}

func (f *Feeder) setProcLocked(p proc.Process) {
	f.proc = p
	if p == nil {
		f.live.Store(nil)
		return
	}
	f.live.Store(&handle{p: p})
}

// Feed writes one frame to the encoder's stdin. If the encoder is dead or
// the write fails, it is restarted and the frame is dropped.
func (f *Feeder) Feed(frame []byte) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if !f.aliveLocked() {
		f.restartLocked("not running", nil)
		f.mu.Unlock()
		metrics.IncFramesDropped("stream")
		return
	}
	p := f.proc
	f.mu.Unlock()

	// The write happens unlocked so Stop can close stdin under a stalled writer.
	if _, err := p.Write(frame); err != nil {
		f.mu.Lock()
		if f.proc == p && !f.closed {
			f.restartLocked("write failed", err)
		}
		f.mu.Unlock()
		metrics.IncFramesDropped("stream")
	}
}

func (f *Feeder) restartLocked(reason string, cause error) {
	if err := f.startLocked(); err != nil {
		metrics.SetFeederAlive(false)
		if f.launchFailures == 1 || f.launchFailures%f.logEvery == 0 {
			f.logger.Error("Encoder restart failed",
				zap.String("reason", reason),
				zap.Int("consecutive_failures", f.launchFailures),
				zap.Error(err))
		}
		return
	}

	f.restarts++
	metrics.IncFeederRestarts()

	fields := []zap.Field{zap.String("reason", reason), zap.Uint64("restarts", f.restarts)}
	if cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	f.logger.Warn("Encoder restarted", fields...)

	f.bus.Publish(events.StreamRestarted{
		Reason:    reason,
		Restarts:  f.restarts,
		Timestamp: events.Now(),
	})
}

// Restarts returns how many times Feed relaunched the encoder
func (f *Feeder) Restarts() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Encoder returns the codec of the last launched encoder
func (f *Feeder) Encoder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoder
}
