package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// ExecLauncher runs real executables with os/exec.
type ExecLauncher struct {
	logger *zap.Logger
}

// NewExecLauncher creates a launcher that logs child stderr through logger
func NewExecLauncher(logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger}
}

// Launch starts the process described by spec
func (l *ExecLauncher) Launch(spec Spec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.SysProcAttr = sysProcAttr()

	var stdin io.WriteCloser
	if spec.Stdin {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to get stdin pipe for %s: %w", spec.Name, err)
		}
		stdin = pipe
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe for %s: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	logger := l.logger.With(zap.String("process", spec.Name), zap.Int("pid", cmd.Process.Pid))
	logger.Info("Process started", zap.String("command", spec.Path+" "+strings.Join(spec.Args, " ")))

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan struct{}),
		logger: logger,
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("ffmpeg_stderr", zap.String("line", scanner.Text()))
		}
	}()

	go func() {
		// Wait closes the stderr pipe, so drain it first.
		<-scanned
		p.err = cmd.Wait()
		if p.err != nil {
			logger.Info("Process exited", zap.Error(p.err))
		} else {
			logger.Info("Process exited")
		}
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{}
	err    error
	logger *zap.Logger

	closeOnce sync.Once
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Write(b []byte) (int, error) {
	if p.stdin == nil {
		return 0, ErrNoStdin
	}
	return p.stdin.Write(b)
}

func (p *execProcess) Interrupt() error {
	p.closeStdin()
	return p.cmd.Process.Signal(syscall.SIGINT)
}

func (p *execProcess) Kill() error {
	p.closeStdin()
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error { return p.err }

func (p *execProcess) closeStdin() {
	if p.stdin == nil {
		return
	}
	p.closeOnce.Do(func() {
		if err := p.stdin.Close(); err != nil && !errors.Is(err, syscall.EPIPE) {
			p.logger.Debug("Failed to close stdin", zap.Error(err))
		}
	})
}
