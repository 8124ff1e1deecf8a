package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mgrossu/home-surveillance-system/camera/opencv"
	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/proc"
	"github.com/mgrossu/home-surveillance-system/recorder"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Home Surveillance Capture"
	AppVersion        = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "surveillance",
		Short: "Capture a camera, publish it over RTSP and record on demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, logLevel)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the capture service (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(configPath, logLevel)
			},
		},
		&cobra.Command{
			Use:   "recordings",
			Short: "List recorded files",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadConfig(configPath, nil)
				if err != nil {
					return err
				}
				return printRecordings(cmd, cfg.Recording.Dir)
			},
		},
		newConfigCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", AppName, AppVersion)
				fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
				fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)

	return root
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.SaveConfig(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func serve(configPath, logLevel string) error {
	cfg, err := config.LoadConfig(configPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := createLogger(cfg.Logging.Level, cfg.Logging.Dir, cfg.Limits.MaxLogFiles)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting "+AppName,
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
		zap.String("config", configPath))

	device, err := opencv.Open(cfg.Camera, logger)
	if err != nil {
		logger.Fatal("Failed to open camera", zap.String("device", cfg.Camera.Device), zap.Error(err))
	}

	app := NewApplication(cfg, device, proc.NewExecLauncher(logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify failed", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown())
	defer cancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}

func printRecordings(cmd *cobra.Command, dir string) error {
	recs, err := recorder.ScanDir(dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE (MB)\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", r.Name, r.SizeMB, r.Created.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// createLogger creates a structured logger writing to stdout and a
// timestamped file under dir, keeping the newest maxFiles files.
func createLogger(level, dir string, maxFiles int) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	outputs := []string{"stdout"}
	errOutputs := []string{"stderr"}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		ts := time.Now().Format("20060102-150405")
		logFile := filepath.Join(dir, fmt.Sprintf("surveillance-%s.log", ts))

		files, _ := filepath.Glob(filepath.Join(dir, "surveillance-*.log"))
		if maxFiles > 0 && len(files) >= maxFiles {
			sort.Strings(files) // lexicographic order matches timestamp
			for _, f := range files[:len(files)-maxFiles+1] {
				_ = os.Remove(f)
			}
		}

		outputs = append(outputs, logFile)
		errOutputs = append(errOutputs, logFile)
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
	}

	return config.Build()
}
