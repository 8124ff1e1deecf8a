package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/camera"
	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/control"
	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/mjpeg"
	"github.com/mgrossu/home-surveillance-system/proc"
	"github.com/mgrossu/home-surveillance-system/recorder"
	"github.com/mgrossu/home-surveillance-system/state"
	"github.com/mgrossu/home-surveillance-system/stream"
	"github.com/mgrossu/home-surveillance-system/web"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Collaborators
	device   camera.Device
	launcher proc.Launcher

	// Components
	state     *state.State
	bus       *events.Bus
	feeder    *stream.Feeder
	recorder  *recorder.Recorder
	mirror    *mjpeg.Sender
	loop      *camera.Loop
	control   *control.Service
	webServer *web.Server

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewApplication wires the pipeline around an opened capture device.
func NewApplication(cfg *config.Config, device camera.Device, launcher proc.Launcher, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Application{
		config:   cfg,
		logger:   logger,
		device:   device,
		launcher: launcher,
		state:    state.New(cfg.Camera.EnabledAtStart),
		bus:      events.New(),
		ctx:      ctx,
		cancel:   cancel,
	}

	var sinks []camera.FrameSink
	var streamStatus control.Stream

	if !cfg.DevMode {
		a.feeder = stream.NewFeeder(cfg, launcher, a.bus, logger)
		sinks = append(sinks, a.feeder)
		streamStatus = a.feeder
	}

	if cfg.MJPEGRTP.Enabled {
		a.mirror = mjpeg.NewSender(cfg.MJPEGRTP, cfg.Camera.FPS, logger.With(zap.String("component", "mjpeg")))
		sinks = append(sinks, a.mirror)
	}

	a.recorder = recorder.New(cfg, launcher, a.state, a.bus, logger)
	a.loop = camera.NewLoop(cfg, device, a.state, logger, camera.WithSinks(sinks...))
	a.control = control.NewService(control.Config{
		DevMode: cfg.DevMode,
		RTSPURL: cfg.PublicRTSPURL(),
	}, a.state, streamStatus, a.recorder, a.bus, logger)
	a.webServer = web.NewServer(cfg, a.control, a.bus, logger)

	return a
}

// Start launches the encoder, the capture loop and the HTTP server
func (a *Application) Start() error {
	a.logger.Info("Starting application",
		zap.Bool("dev_mode", a.config.DevMode),
		zap.Bool("camera_enabled", a.state.CameraEnabled()),
		zap.String("recordings_dir", a.recorder.Dir()))

	if a.feeder != nil {
		// a failed launch is retried by the next Feed
		if err := a.feeder.Start(); err != nil {
			a.logger.Error("Failed to start encoder", zap.Error(err))
		}
	} else {
		a.logger.Info("Dev mode: RTSP publishing and recording disabled")
	}

	if a.config.Recording.WatchDir {
		if err := a.recorder.Watch(a.ctx); err != nil {
			a.logger.Warn("Recordings dir watch unavailable", zap.Error(err))
		}
	}

	if a.mirror != nil {
		if err := a.mirror.Start(a.ctx); err != nil {
			a.logger.Error("Failed to start MJPEG-RTP mirror", zap.Error(err))
		}
	}

	if err := a.loop.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start capture loop: %w", err)
	}

	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	a.logger.Info("Application started", zap.String("address", a.config.Address()))
	return nil
}

// Stop shuts components down in dependency order: encoder, recorder,
// capture device, then the HTTP server.
func (a *Application) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		err = a.stop(ctx)
	})
	return err
}

func (a *Application) stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	done := make(chan struct{})
	go func() {
		defer close(done)

		if a.feeder != nil {
			a.feeder.Close()
		}

		if path, err := a.recorder.Stop(); err != nil {
			a.logger.Error("Error stopping recording", zap.Error(err))
		} else if path != "" {
			a.logger.Info("Recording finalized on shutdown", zap.String("file", path))
		}

		if err := a.loop.Close(); err != nil {
			a.logger.Error("Error releasing camera", zap.Error(err))
		}

		if a.mirror != nil {
			a.mirror.Stop()
		}

		a.cancel()

		if err := a.webServer.Stop(ctx); err != nil {
			a.logger.Error("Error stopping web server", zap.Error(err))
		}
	}()

	select {
	case <-done:
		a.logger.Info("All components stopped gracefully")
		return nil
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
		return ctx.Err()
	}
}
