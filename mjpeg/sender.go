package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/metrics"
)

const sinkName = "mjpeg_rtp"

var ErrRunning = errors.New("mjpeg sender already running")

// Sender mirrors encoded frames to a UDP destination as RTP/JPEG. It is a
// capture sink: Feed never blocks the capture loop.
type Sender struct {
	cfg    config.MJPEGRTPConfig
	fps    int
	logger *zap.Logger

	packetizer *Packetizer
	frames     chan []byte

	mu     sync.Mutex
	conn   *net.UDPConn
	dest   *net.UDPAddr
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running    atomic.Bool
	sent       atomic.Uint64
	dropped    atomic.Uint64
	sendErrors atomic.Uint64
}

// NewSender creates a sender for frames produced at fps
func NewSender(cfg config.MJPEGRTPConfig, fps int, logger *zap.Logger) *Sender {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if fps <= 0 {
		fps = 30
	}
	return &Sender{
		cfg:        cfg,
		fps:        fps,
		logger:     logger,
		packetizer: NewPacketizer(cfg.SSRC, cfg.MTU),
		frames:     make(chan []byte, 10),
	}
}

// Start opens the UDP socket and begins sending
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrRunning
	}

	dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.DestHost, fmt.Sprint(s.cfg.DestPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve destination address: %w", err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}
	if err := conn.SetWriteBuffer(1024 * 1024); err != nil {
		s.logger.Warn("Failed to set UDP write buffer size", zap.Error(err))
	}

	s.conn, s.dest = conn, dest
	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.sendLoop(ctx, conn, dest)

	if s.cfg.StatsInterval > 0 {
		s.wg.Add(1)
		go s.monitorStats(ctx, time.Duration(s.cfg.StatsInterval)*time.Second)
	}

	s.logger.Info("MJPEG-RTP mirror started",
		zap.String("local_addr", conn.LocalAddr().String()),
		zap.String("dest_addr", dest.String()),
		zap.Int("mtu", s.cfg.MTU),
		zap.Int("fps", s.fps))
	return nil
}

// Stop halts sending and closes the socket
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.conn.Close()

	stats := s.Stats()
	s.logger.Info("MJPEG-RTP mirror stopped",
		zap.Uint64("frames_sent", stats.FramesSent),
		zap.Uint64("frames_dropped", stats.FramesDropped),
		zap.Uint64("send_errors", stats.SendErrors))
}

// Feed queues a frame, dropping it when the queue is full or the sender
// is stopped.
func (s *Sender) Feed(frame []byte) {
	if !s.running.Load() {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
		metrics.IncFramesDropped(sinkName)
	}
}

func (s *Sender) sendLoop(ctx context.Context, conn *net.UDPConn, dest *net.UDPAddr) {
	defer s.wg.Done()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			if err := s.send(conn, dest, frame, FrameTimestamp(n, s.fps)); err != nil {
				if e := s.sendErrors.Add(1); e == 1 || e%100 == 0 {
					s.logger.Warn("Failed to send RTP frame", zap.Error(err), zap.Uint64("frame", n))
				}
			} else {
				s.sent.Add(1)
			}
			n++
		}
	}
}

func (s *Sender) send(conn *net.UDPConn, dest *net.UDPAddr, frame []byte, ts uint32) error {
	packets, err := s.packetizer.Packetize(frame, ts)
	if err != nil {
		return fmt.Errorf("failed to packetize JPEG: %w", err)
	}
	for i, pkt := range packets {
		if _, err := conn.WriteToUDP(pkt, dest); err != nil {
			return fmt.Errorf("failed to send RTP packet %d/%d: %w", i+1, len(packets), err)
		}
	}
	metrics.AddRTPPackets(len(packets))
	return nil
}

func (s *Sender) monitorStats(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last SenderStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Stats()
			fps := float64(stats.FramesSent-last.FramesSent) / interval.Seconds()
			s.logger.Info("MJPEG-RTP stats",
				zap.Uint64("frames_sent", stats.FramesSent),
				zap.Uint64("frames_dropped", stats.FramesDropped),
				zap.Uint64("send_errors", stats.SendErrors),
				zap.Uint64("rtp_packets", stats.Packets),
				zap.Float64("fps", fps))
			last = stats
		}
	}
}

// SenderStats combines queue and packetizer counters
type SenderStats struct {
	Stats
	FramesSent    uint64
	FramesDropped uint64
	SendErrors    uint64
}

// Stats returns the current counters
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Stats:         s.packetizer.Stats(),
		FramesSent:    s.sent.Load(),
		FramesDropped: s.dropped.Load(),
		SendErrors:    s.sendErrors.Load(),
	}
}

// IsRunning reports whether Start succeeded and Stop has not been called
func (s *Sender) IsRunning() bool {
	return s.running.Load()
}
