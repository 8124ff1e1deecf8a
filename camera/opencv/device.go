// Package opencv opens V4L2/USB cameras through gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mgrossu/home-surveillance-system/config"
)

var (
	ErrReadFailed = errors.New("cannot read frame")
	ErrEmptyFrame = errors.New("frame is empty")
	ErrClosed     = errors.New("device closed")
)

// Device is a camera.Device backed by a gocv VideoCapture.
type Device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
	closed  bool
}

// Open opens the configured device and requests its size and frame rate.
// The device may ignore the request; the values it reports are logged.
func Open(cfg config.CameraConfig, logger *zap.Logger) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(deviceID(cfg.Device))
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %s did not open", cfg.Device)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	fps := capture.Get(gocv.VideoCaptureFPS)

	if width != cfg.Width || height != cfg.Height {
		logger.Warn("Camera did not accept requested size, frames will be rescaled",
			zap.Int("requested_width", cfg.Width),
			zap.Int("requested_height", cfg.Height),
			zap.Int("width", width),
			zap.Int("height", height))
	}
	if int(fps) != cfg.FPS {
		logger.Warn("Camera did not accept requested frame rate",
			zap.Int("requested_fps", cfg.FPS),
			zap.Float64("fps", fps))
	}

	logger.Info("Camera opened",
		zap.String("device", cfg.Device),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("fps", fps))

	return &Device{capture: capture, frame: gocv.NewMat()}, nil
}

// deviceID maps "0" to index 0 and anything else to a path or URL.
func deviceID(device string) interface{} {
	if n, err := strconv.Atoi(device); err == nil {
		return n
	}
	return device
}

// Read grabs the next frame and converts it to a Go image
func (d *Device) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if !d.capture.Read(&d.frame) {
		return nil, ErrReadFailed
	}
	if d.frame.Empty() {
		return nil, ErrEmptyFrame
	}
	return d.frame.ToImage()
}

// Close releases the capture handle and the frame buffer
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.capture.Close()
	if ferr := d.frame.Close(); err == nil {
		err = ferr
	}
	return err
}
