package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/events"
	"github.com/mgrossu/home-surveillance-system/proc"
	"github.com/mgrossu/home-surveillance-system/proc/proctest"
)

func newTestFeeder(t *testing.T, launcher proc.Launcher, bus *events.Bus) *Feeder {
	t.Helper()
	cfg := config.Default()
	cfg.Timeouts.FeederStopSeconds = 1
	cfg.Timeouts.KillWaitSeconds = 1
	return NewFeeder(cfg, launcher, bus, zaptest.NewLogger(t),
		WithDeviceProbe(func(string) bool { return false }))
}

func TestFeederStartLaunchesEncoder(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)

	require.NoError(t, f.Start())
	assert.True(t, f.IsAlive())
	assert.Equal(t, EncoderX264, f.Encoder())

	spec := launcher.Last().Spec()
	assert.Equal(t, "ffmpeg", spec.Path)
	assert.True(t, spec.Stdin)
	assert.Contains(t, spec.Args, "pipe:0")
}

func TestFeederFeedWritesFrames(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)
	require.NoError(t, f.Start())

	f.Feed([]byte("one"))
	f.Feed([]byte("two"))

	assert.Equal(t, "onetwo", string(launcher.Last().Written()))
	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, uint64(0), f.Restarts())
}

// TestFeederFeedWhileDead checks that a dead encoder is started exactly
// once and the triggering frame is not delivered.
func TestFeederFeedWhileDead(t *testing.T) {
	launcher := proctest.NewLauncher()
	bus := events.New()
	restarted := make(chan events.StreamRestarted, 1)
	defer events.Subscribe(bus, func(e events.StreamRestarted) { restarted <- e })()

	f := newTestFeeder(t, launcher, bus)
	require.NoError(t, f.Start())

	launcher.Last().Exit()
	assert.False(t, f.IsAlive())

	f.Feed([]byte("lost"))

	assert.Equal(t, 2, launcher.Launches(), "exactly one new launch")
	assert.Empty(t, launcher.Process(0).Written())
	assert.Empty(t, launcher.Process(1).Written(), "triggering frame is dropped")
	assert.True(t, f.IsAlive())
	assert.Equal(t, uint64(1), f.Restarts())

	select {
	case e := <-restarted:
		assert.Equal(t, "not running", e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected StreamRestarted event")
	}

	f.Feed([]byte("next"))
	assert.Equal(t, "next", string(launcher.Process(1).Written()))
}

func TestFeederFeedBeforeStart(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)

	f.Feed([]byte("first"))

	assert.Equal(t, 1, launcher.Launches())
	assert.Empty(t, launcher.Last().Written())
}

func TestFeederWriteErrorRestarts(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)
	require.NoError(t, f.Start())

	first := launcher.Last()
	first.FailWrites(proctest.ErrBrokenPipe)

	f.Feed([]byte("frame"))

	assert.Equal(t, 2, launcher.Launches())
	assert.Equal(t, 1, first.Interrupts(), "old encoder is stopped before relaunch")
	assert.Empty(t, launcher.Last().Written())
	assert.True(t, f.IsAlive())
}

func TestFeederLaunchFailureLeavesStopped(t *testing.T) {
	launcher := proctest.NewLauncher()
	launcher.FailLaunches(errors.New("exec: \"ffmpeg\": executable file not found"))
	f := newTestFeeder(t, launcher, nil)

	assert.Error(t, f.Start())
	assert.False(t, f.IsAlive())

	// Feed swallows the error and retries on every call.
	f.Feed([]byte("a"))
	f.Feed([]byte("b"))
	assert.False(t, f.IsAlive())
	assert.Equal(t, 3, f.launchFailures)

	launcher.FailLaunches(nil)
	f.Feed([]byte("c"))
	assert.True(t, f.IsAlive())
	assert.Equal(t, 0, f.launchFailures)
}

func TestFeederStopClearsHandle(t *testing.T) {
	launcher := proctest.NewLauncher()
	launcher.OnLaunch = func(p *proctest.Process) { p.IgnoreInterrupt() }
	f := newTestFeeder(t, launcher, nil)
	require.NoError(t, f.Start())

	f.Stop()

	p := launcher.Last()
	assert.False(t, f.IsAlive())
	assert.Equal(t, 1, p.Interrupts())
	assert.Equal(t, 1, p.Kills(), "stubborn encoder is killed after the timeout")

	// Stop on a stopped feeder is a no-op.
	f.Stop()
	assert.Equal(t, 1, p.Interrupts())
}

func TestFeederStartReplacesRunningProcess(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)

	require.NoError(t, f.Start())
	require.NoError(t, f.Start())

	assert.Equal(t, 2, launcher.Launches())
	assert.True(t, proc.Exited(launcher.Process(0)))
	assert.True(t, f.IsAlive())
}

func TestFeederCloseStopsRestarts(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)
	require.NoError(t, f.Start())

	f.Close()
	f.Feed([]byte("late"))

	assert.Equal(t, 1, launcher.Launches())
	assert.ErrorIs(t, f.Start(), ErrClosed)
}

func TestFeederConcurrentStartStop(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			if i%2 == 0 {
				_ = f.Start()
			} else {
				f.Stop()
			}
			f.Feed([]byte("x"))
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	f.Stop()
	running := 0
	for i := 0; i < launcher.Launches(); i++ {
		if !proc.Exited(launcher.Process(i)) {
			running++
		}
	}
	assert.Equal(t, 0, running, "no encoder process leaked")
}

func TestFeederIsAliveDuringStop(t *testing.T) {
	launcher := proctest.NewLauncher()
	f := newTestFeeder(t, launcher, nil)
	require.NoError(t, f.Start())
	p := launcher.Last()
	p.IgnoreInterrupt()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.Stop()
	}()
	require.Eventually(t, func() bool { return p.Interrupts() == 1 }, time.Second, 5*time.Millisecond)

	alive := make(chan bool, 1)
	go func() { alive <- f.IsAlive() }()
	select {
	case a := <-alive:
		assert.False(t, a, "handle is cleared before terminating")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("IsAlive blocked behind Stop")
	}

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, 1, p.Kills())
}
