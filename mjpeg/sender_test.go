package mjpeg

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mgrossu/home-surveillance-system/config"
)

func listenUDP(t *testing.T) (*net.UDPConn, config.MJPEGRTPConfig) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, config.MJPEGRTPConfig{
		Enabled:  true,
		DestHost: "127.0.0.1",
		DestPort: conn.LocalAddr().(*net.UDPAddr).Port,
		MTU:      600,
		SSRC:     0xCAFE,
	}
}

// TestSenderDeliversFrame tests that a fed frame arrives as RTP packets
func TestSenderDeliversFrame(t *testing.T) {
	conn, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	frame := createTestJPEG(t, 160, 120)
	f, err := parseJPEG(frame)
	if err != nil {
		t.Fatalf("parseJPEG failed: %v", err)
	}
	s.Feed(frame)

	var scan []byte
	buf := make([]byte, 2048)
	for first := true; ; first = false {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}

		pkt := unmarshal(t, buf[:n])
		if pkt.SSRC != 0xCAFE {
			t.Errorf("SSRC = %x", pkt.SSRC)
		}
		body := pkt.Payload[jpegHeaderSize:]
		if first {
			body = body[quantHeaderSize+128:]
		}
		scan = append(scan, body...)
		if pkt.Marker {
			break
		}
	}

	if !bytes.Equal(scan, f.scan) {
		t.Errorf("Received scan = %d bytes, want %d", len(scan), len(f.scan))
	}
}

// TestSenderStartTwice tests that a running sender refuses a second start
func TestSenderStartTwice(t *testing.T) {
	_, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != ErrRunning {
		t.Errorf("Second Start = %v, want ErrRunning", err)
	}
}

// TestSenderFeedWhenStopped tests that frames are ignored before Start
func TestSenderFeedWhenStopped(t *testing.T) {
	_, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))

	s.Feed([]byte{0xFF, 0xD8})

	if len(s.frames) != 0 {
		t.Error("Frame queued on a stopped sender")
	}
	if s.Stats().FramesDropped != 0 {
		t.Error("Ignored frames should not count as dropped")
	}
}

// TestSenderDropsWhenFull tests that Feed never blocks
func TestSenderDropsWhenFull(t *testing.T) {
	_, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))
	// running without a send loop, so nothing drains the queue
	s.running.Store(true)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(s.frames)+5; i++ {
			s.Feed([]byte{0xFF, 0xD8})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Feed blocked on a full queue")
	}

	if got := s.Stats().FramesDropped; got != 5 {
		t.Errorf("FramesDropped = %d, want 5", got)
	}
}

// TestSenderStopIdempotent tests repeated Stop calls
func TestSenderStopIdempotent(t *testing.T) {
	_, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("Sender still running after Stop")
	}
}

// TestSenderBadFrameCountsError tests that an invalid frame does not stop the loop
func TestSenderBadFrameCountsError(t *testing.T) {
	_, cfg := listenUDP(t)
	s := NewSender(cfg, 25, zaptest.NewLogger(t))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.Feed([]byte("not a jpeg"))

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().SendErrors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Send error not counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.IsRunning() {
		t.Error("Sender stopped after a bad frame")
	}
}
