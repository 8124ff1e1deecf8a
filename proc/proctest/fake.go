// Package proctest provides in-memory launchers for testing code built on proc.
package proctest

import (
	"bytes"
	"errors"
	"os"
	"sync"

	"github.com/mgrossu/home-surveillance-system/proc"
)

// ErrBrokenPipe is what a fake process returns from Write after it exits.
var ErrBrokenPipe = errors.New("write |1: broken pipe")

// Process is a fake subprocess recording what was written to it.
type Process struct {
	mu         sync.Mutex
	pid        int
	spec       proc.Spec
	stdin      bytes.Buffer
	writes     int
	interrupts int
	kills      int
	ignoreInt  bool
	onInt      func()
	writeErr   error
	done       chan struct{}
	exitOnce   sync.Once
}

func newProcess(pid int, spec proc.Spec) *Process {
	return &Process{pid: pid, spec: spec, done: make(chan struct{})}
}

// Spec returns what the process was launched with
func (p *Process) Spec() proc.Spec { return p.spec }

func (p *Process) Pid() int { return p.pid }

func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	select {
	case <-p.done:
		return 0, ErrBrokenPipe
	default:
	}
	p.writes++
	return p.stdin.Write(b)
}

// Interrupt exits the process unless IgnoreInterrupt was called.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	p.interrupts++
	ignore := p.ignoreInt
	hook := p.onInt
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ignore {
		p.Exit()
	}
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	p.Exit()
	return nil
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Err() error { return nil }

// Exit simulates the process terminating on its own.
func (p *Process) Exit() {
	p.exitOnce.Do(func() { close(p.done) })
}

// IgnoreInterrupt makes the process survive Interrupt, forcing a kill.
func (p *Process) IgnoreInterrupt() {
	p.mu.Lock()
	p.ignoreInt = true
	p.mu.Unlock()
}

// OnInterrupt runs fn on every Interrupt, before the process reacts to it.
func (p *Process) OnInterrupt(fn func()) {
	p.mu.Lock()
	p.onInt = fn
	p.mu.Unlock()
}

// FailWrites makes every later Write return err.
func (p *Process) FailWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// Written returns a copy of everything written to stdin
func (p *Process) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.stdin.Bytes()...)
}

// Writes returns the number of successful Write calls
func (p *Process) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Interrupts returns the number of Interrupt calls
func (p *Process) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

// Kills returns the number of Kill calls
func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Launcher hands out fake processes and remembers them in launch order.
type Launcher struct {
	mu        sync.Mutex
	processes []*Process
	err       error
	// OnLaunch, if set, can adjust each new process before it is returned.
	OnLaunch func(*Process)
}

// NewLauncher creates an empty fake launcher
func NewLauncher() *Launcher {
	return &Launcher{}
}

// Launch implements proc.Launcher
func (l *Launcher) Launch(spec proc.Spec) (proc.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newProcess(1000+len(l.processes), spec)
	if l.OnLaunch != nil {
		l.OnLaunch(p)
	}
	l.processes = append(l.processes, p)
	return p, nil
}

// FailLaunches makes every later Launch return err; nil restores success.
func (l *Launcher) FailLaunches(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Launches returns the number of processes started
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes)
}

// Process returns the i-th launched process
func (l *Launcher) Process(i int) *Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processes[i]
}

// Last returns the most recently launched process, or nil
func (l *Launcher) Last() *Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.processes) == 0 {
		return nil
	}
	return l.processes[len(l.processes)-1]
}
