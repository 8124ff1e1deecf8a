package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	DevMode   bool            `toml:"dev_mode" json:"dev_mode"`
	Camera    CameraConfig    `toml:"camera" json:"camera"`
	Stream    StreamConfig    `toml:"stream" json:"stream"`
	Recording RecordingConfig `toml:"recording" json:"recording"`
	Server    ServerConfig    `toml:"server" json:"server"`
	MJPEGRTP  MJPEGRTPConfig  `toml:"mjpeg_rtp" json:"mjpeg_rtp"`
	Timeouts  TimeoutConfig   `toml:"timeouts" json:"timeouts"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Limits    LimitConfig     `toml:"limits" json:"limits"`
}

// CameraConfig holds capture device and frame settings
type CameraConfig struct {
	Device           string `toml:"device" json:"device"` // device index ("0") or path
	Width            int    `toml:"width" json:"width"`
	Height           int    `toml:"height" json:"height"`
	FPS              int    `toml:"fps" json:"fps"`
	JPEGQuality      int    `toml:"jpeg_quality" json:"jpeg_quality"`
	EnabledAtStart   bool   `toml:"enabled_at_start" json:"enabled_at_start"`
	PlaceholderLabel string `toml:"placeholder_label" json:"placeholder_label"`
}

// StreamConfig holds settings for the ffmpeg encoder/publisher subprocess
type StreamConfig struct {
	FFmpegPath    string `toml:"ffmpeg_path" json:"ffmpeg_path"`
	RTSPURL       string `toml:"rtsp_url" json:"rtsp_url"`
	PublicURL     string `toml:"public_url" json:"public_url"` // advertised in status; defaults to rtsp_url
	Encoder       string `toml:"encoder" json:"encoder"`       // empty selects by hardware capability
	HardwareProbe string `toml:"hardware_probe" json:"hardware_probe"`
	Bitrate       string `toml:"bitrate" json:"bitrate"`
	CRF           int    `toml:"crf" json:"crf"`
	LogLevel      string `toml:"log_level" json:"log_level"`
}

// RecordingConfig holds settings for the recording subprocess
type RecordingConfig struct {
	Dir              string `toml:"dir" json:"dir"`
	FFmpegPath       string `toml:"ffmpeg_path" json:"ffmpeg_path"`
	ListCacheSeconds int    `toml:"list_cache_seconds" json:"list_cache_seconds"`
	WatchDir         bool   `toml:"watch_dir" json:"watch_dir"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Host           string   `toml:"host" json:"host"`
	Port           int      `toml:"port" json:"port"`
	UIDist         string   `toml:"ui_dist" json:"ui_dist"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// MJPEGRTPConfig holds the optional RTP/JPEG mirror settings
type MJPEGRTPConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled"`
	DestHost      string `toml:"dest_host" json:"dest_host"`
	DestPort      int    `toml:"dest_port" json:"dest_port"`
	MTU           int    `toml:"mtu" json:"mtu"`
	SSRC          uint32 `toml:"ssrc" json:"ssrc"`
	StatsInterval int    `toml:"stats_interval_seconds" json:"stats_interval_seconds"`
}

// TimeoutConfig holds timeout and delay settings
type TimeoutConfig struct {
	SensorSettleMs      int `toml:"sensor_settle_ms" json:"sensor_settle_ms"`
	ReadRetryBackoffMs  int `toml:"read_retry_backoff_ms" json:"read_retry_backoff_ms"`
	FeederStopSeconds   int `toml:"feeder_stop_seconds" json:"feeder_stop_seconds"`
	RecorderStopSeconds int `toml:"recorder_stop_seconds" json:"recorder_stop_seconds"`
	KillWaitSeconds     int `toml:"kill_wait_seconds" json:"kill_wait_seconds"`
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level              string `toml:"level" json:"level"`
	Dir                string `toml:"dir" json:"dir"`
	FailureLogInterval int    `toml:"failure_log_interval" json:"failure_log_interval"`
	StatsLogInterval   int    `toml:"stats_log_interval_seconds" json:"stats_log_interval_seconds"`
}

// LimitConfig holds resource limit settings
type LimitConfig struct {
	MaxLogFiles         int `toml:"max_log_files" json:"max_log_files"`
	WebSocketSendBuffer int `toml:"websocket_send_buffer" json:"websocket_send_buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:           "0",
			Width:            1280,
			Height:           720,
			FPS:              25,
			JPEGQuality:      80,
			EnabledAtStart:   true,
			PlaceholderLabel: "Camera Disabled",
		},
		Stream: StreamConfig{
			FFmpegPath:    "ffmpeg",
			RTSPURL:       "rtsp://mediamtx:8554/cam",
			HardwareProbe: "/dev/video10",
			Bitrate:       "2M",
			CRF:           28,
			LogLevel:      "warning",
		},
		Recording: RecordingConfig{
			Dir:              "./recordings",
			FFmpegPath:       "ffmpeg",
			ListCacheSeconds: 5,
			WatchDir:         true,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8008,
			UIDist:         "/app/frontend/dist",
			AllowedOrigins: []string{"*"},
		},
		MJPEGRTP: MJPEGRTPConfig{
			Enabled:       false,
			DestHost:      "127.0.0.1",
			DestPort:      5000,
			MTU:           1400,
			SSRC:          0x12345678,
			StatsInterval: 10,
		},
		Timeouts: TimeoutConfig{
			SensorSettleMs:      1000,
			ReadRetryBackoffMs:  50,
			FeederStopSeconds:   5,
			RecorderStopSeconds: 10,
			KillWaitSeconds:     5,
			ShutdownTimeout:     30,
			HTTPShutdownTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Dir:                "logs",
			FailureLogInterval: 25,
			StatsLogInterval:   60,
		},
		Limits: LimitConfig{
			MaxLogFiles:         20,
			WebSocketSendBuffer: 16,
		},
	}
}

// LoadConfig loads configuration from a TOML file and the environment.
// A missing file is not an error; defaults are used instead.
func LoadConfig(configPath string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config := Default()

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overrides fields from environment variables
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("CAMERA_DEVICE", &c.Camera.Device)
	if err := num("FRAME_WIDTH", &c.Camera.Width); err != nil {
		return err
	}
	if err := num("FRAME_HEIGHT", &c.Camera.Height); err != nil {
		return err
	}
	if err := num("FRAME_RATE", &c.Camera.FPS); err != nil {
		return err
	}
	str("RTSP_URL", &c.Stream.RTSPURL)
	str("RTSP_PUBLIC_URL", &c.Stream.PublicURL)
	str("RECORDINGS_DIR", &c.Recording.Dir)
	str("HOST", &c.Server.Host)
	if err := num("PORT", &c.Server.Port); err != nil {
		return err
	}
	str("UI_DIST", &c.Server.UIDist)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("DEV_MODE"); ok && v != "" {
		c.DevMode = strings.EqualFold(strings.TrimSpace(v), "true")
	}

	return nil
}

// Validate checks that the configuration can drive a capture loop.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", c.Camera.FPS)
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d out of range 1-100", c.Camera.JPEGQuality)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Recording.Dir == "" {
		return fmt.Errorf("recordings dir must be set")
	}
	return nil
}

// FrameInterval is the capture tick period.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.FPS)
}

// PublicRTSPURL is the stream address advertised to clients.
func (c *Config) PublicRTSPURL() string {
	if c.Stream.PublicURL != "" {
		return c.Stream.PublicURL
	}
	return c.Stream.RTSPURL
}

// Address is the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func seconds(n int) time.Duration      { return time.Duration(n) * time.Second }
func milliseconds(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// SensorSettle returns the delay after opening the device.
func (t TimeoutConfig) SensorSettle() time.Duration { return milliseconds(t.SensorSettleMs) }

// ReadRetryBackoff returns the pause after a failed device read.
func (t TimeoutConfig) ReadRetryBackoff() time.Duration { return milliseconds(t.ReadRetryBackoffMs) }

// FeederStop returns the graceful stop budget for the encoder subprocess.
func (t TimeoutConfig) FeederStop() time.Duration { return seconds(t.FeederStopSeconds) }

// RecorderStop returns the graceful stop budget for the recording subprocess.
func (t TimeoutConfig) RecorderStop() time.Duration { return seconds(t.RecorderStopSeconds) }

// KillWait returns how long to wait for a killed process to be reaped.
func (t TimeoutConfig) KillWait() time.Duration { return seconds(t.KillWaitSeconds) }

// HTTPShutdown returns the budget for draining HTTP connections.
func (t TimeoutConfig) HTTPShutdown() time.Duration { return seconds(t.HTTPShutdownTimeout) }

// Shutdown returns the budget for the whole shutdown sequence.
func (t TimeoutConfig) Shutdown() time.Duration { return seconds(t.ShutdownTimeout) }

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
