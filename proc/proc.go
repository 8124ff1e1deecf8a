// Package proc launches and terminates the ffmpeg helper processes.
package proc

import (
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// ErrNoStdin is returned by Write on a process launched without a stdin pipe.
var ErrNoStdin = errors.New("process has no stdin pipe")

// Spec describes a subprocess to launch
type Spec struct {
	Name  string // used in logs
	Path  string
	Args  []string
	Stdin bool // open a pipe to the child's stdin
}

// Process is a handle to a running (or exited) subprocess.
type Process interface {
	io.Writer
	Pid() int
	// Interrupt asks the process to finish: stdin is closed and SIGINT sent.
	Interrupt() error
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err is the wait error, valid after Done is closed.
	Err() error
}

// Launcher starts subprocesses
type Launcher interface {
	Launch(spec Spec) (Process, error)
}

// Exited reports whether p has exited without blocking.
func Exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// Terminate stops p in two phases: Interrupt, wait up to graceful, then Kill
// and wait up to killWait for the reaper. It reports whether a kill was needed.
func Terminate(p Process, graceful, killWait time.Duration, logger *zap.Logger) bool {
	if p == nil || Exited(p) {
		return false
	}

	if err := p.Interrupt(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("Failed to interrupt process", zap.Int("pid", p.Pid()), zap.Error(err))
	}

	select {
	case <-p.Done():
		return false
	case <-time.After(graceful):
	}

	logger.Warn("Graceful stop timed out, killing process",
		zap.Int("pid", p.Pid()),
		zap.Duration("timeout", graceful))

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("Failed to kill process", zap.Int("pid", p.Pid()), zap.Error(err))
	}

	select {
	case <-p.Done():
	case <-time.After(killWait):
		logger.Error("Process did not exit after kill signal", zap.Int("pid", p.Pid()))
	}
	return true
}
