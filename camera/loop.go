// Package camera runs the fixed-rate capture loop: read or synthesize a
// frame, stamp the time on it, encode it and hand it on.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/metrics"
	"github.com/mgrossu/home-surveillance-system/state"
)

var (
	// ErrAlreadyRunning is returned by Start on a loop that was started before.
	ErrAlreadyRunning = errors.New("capture loop already running")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture loop closed")
)

// Loop owns the camera device and is the only writer of the frame cache.
type Loop struct {
	cfg          config.CameraConfig
	interval     time.Duration
	settle       time.Duration
	retryBackoff time.Duration
	logEvery     int

	device Device
	state  *state.State
	sinks  []FrameSink
	logger *zap.Logger

	encode EncodeFunc
	now    func() time.Time
	sleep  func(context.Context, time.Duration)

	placeholder *image.RGBA
	failures    int

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
}

// Option customizes a Loop
type Option func(*Loop)

// WithSinks adds consumers that receive every published frame.
func WithSinks(sinks ...FrameSink) Option {
	return func(l *Loop) {
		for _, s := range sinks {
			if s != nil {
				l.sinks = append(l.sinks, s)
			}
		}
	}
}

// WithEncoder replaces the JPEG encoder.
func WithEncoder(fn EncodeFunc) Option {
	return func(l *Loop) { l.encode = fn }
}

// WithClock replaces the time source and the sleep used for pacing.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(l *Loop) {
		l.now = now
		l.sleep = sleep
	}
}

// NewLoop creates a capture loop over an already opened device.
func NewLoop(cfg *config.Config, device Device, st *state.State, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		cfg:          cfg.Camera,
		interval:     cfg.FrameInterval(),
		settle:       cfg.Timeouts.SensorSettle(),
		retryBackoff: cfg.Timeouts.ReadRetryBackoff(),
		logEvery:     cfg.Logging.FailureLogInterval,
		device:       device,
		state:        st,
		logger:       logger.With(zap.String("component", "capture")),
		encode:       EncodeJPEG,
		now:          time.Now,
		sleep:        sleepContext,
	}
	if l.logEvery <= 0 {
		l.logEvery = 1
	}

	for _, opt := range opts {
		opt(l)
	}

	l.placeholder = newPlaceholder(l.cfg.Width, l.cfg.Height, l.cfg.PlaceholderLabel)
	return l
}

// Start runs the loop in a goroutine until Close.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.done != nil {
		return ErrAlreadyRunning
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		l.Run(ctx)
	}()
	return nil
}

// Run blocks producing frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("Capture loop started",
		zap.Int("width", l.cfg.Width),
		zap.Int("height", l.cfg.Height),
		zap.Int("fps", l.cfg.FPS),
		zap.Int("sinks", len(l.sinks)))

	l.sleep(ctx, l.settle)

	for ctx.Err() == nil {
		l.tick(ctx)
	}

	l.logger.Info("Capture loop stopped")
}

// tick produces at most one frame and then sleeps out the rest of the interval.
func (l *Loop) tick(ctx context.Context) {
	t0 := l.now()

	var (
		frame  *image.RGBA
		source string
	)

	if l.state.CameraEnabled() {
		img, err := l.device.Read()
		if err != nil {
			l.readFailed(err)
			l.sleep(ctx, l.retryBackoff)
			return
		}
		l.readRecovered()
		frame = normalize(img, l.cfg.Width, l.cfg.Height)
		source = "device"
	} else {
		frame = clone(l.placeholder)
		source = "placeholder"
	}

	drawTimestamp(frame, t0)

	data, err := l.encode(frame, l.cfg.JPEGQuality)
	if err != nil {
		metrics.IncEncodeFailures()
		l.logger.Warn("Failed to encode frame", zap.Error(err))
	} else {
		l.publish(data, source)
	}

	elapsed := l.now().Sub(t0)
	metrics.ObserveTick(elapsed.Seconds())
	if elapsed > l.interval {
		metrics.IncTickOverruns()
	}

	l.sleep(ctx, pacingDelay(l.interval, elapsed))
}

func (l *Loop) publish(data []byte, source string) {
	l.state.Frames.Set(data)
	metrics.IncFrames(source)
	metrics.SetFrameBytes(len(data))

	for _, sink := range l.sinks {
		sink.Feed(data)
	}
}

func (l *Loop) readFailed(err error) {
	l.failures++
	metrics.IncReadFailures()
	if l.failures == 1 || l.failures%l.logEvery == 0 {
		l.logger.Warn("Camera read failed",
			zap.Int("consecutive_failures", l.failures),
			zap.Error(err))
	}
}

func (l *Loop) readRecovered() {
	if l.failures == 0 {
		return
	}
	l.logger.Info("Camera read recovered", zap.Int("failed_reads", l.failures))
	l.failures = 0
}

// Close stops the loop, waits for the current tick to finish and releases
// the device. Later calls are no-ops.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		cancel, done := l.cancel, l.done
		l.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		l.logger.Info("Releasing camera device")
		err = l.device.Close()
	})
	return err
}
