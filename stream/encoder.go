package stream

import (
	"os"
	"strconv"

	"github.com/mgrossu/home-surveillance-system/config"
)

const (
	EncoderV4L2M2M = "h264_v4l2m2m"
	EncoderX264    = "libx264"
)

// Encoder is the ffmpeg video codec and its options.
type Encoder struct {
	Name string
	Args []string
}

// SelectEncoder picks the hardware M2M encoder when its device node exists
// and falls back to software x264. A configured encoder name wins.
func SelectEncoder(cfg config.StreamConfig, exists func(path string) bool) Encoder {
	name := cfg.Encoder
	if name == "" {
		name = EncoderX264
		if cfg.HardwareProbe != "" && exists(cfg.HardwareProbe) {
			name = EncoderV4L2M2M
		}
	}

	switch name {
	case EncoderV4L2M2M:
		bitrate := cfg.Bitrate
		if bitrate == "" {
			bitrate = "2M"
		}
		return Encoder{Name: name, Args: []string{"-c:v", name, "-b:v", bitrate}}
	case EncoderX264:
		crf := cfg.CRF
		if crf <= 0 {
			crf = 28
		}
		return Encoder{Name: name, Args: []string{
			"-c:v", name,
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-crf", strconv.Itoa(crf),
		}}
	default:
		return Encoder{Name: name, Args: []string{"-c:v", name}}
	}
}

// BuildArgs returns the ffmpeg arguments that read MJPEG from stdin and
// publish H.264 to the RTSP target with one keyframe per second.
func BuildArgs(cfg config.StreamConfig, fps int, enc Encoder) []string {
	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "warning"
	}
	rate := strconv.Itoa(fps)

	args := []string{
		"-loglevel", logLevel,
		"-f", "mjpeg",
		"-framerate", rate,
		"-i", "pipe:0",
	}
	args = append(args, enc.Args...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-g", rate,
		"-f", "rtsp",
		"-rtsp_transport", "tcp",
		cfg.RTSPURL,
	)
	return args
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
