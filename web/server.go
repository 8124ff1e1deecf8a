// Package web serves the control API, the live event socket and the
// frontend bundle.
package web

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/config"
	"github.com/mgrossu/home-surveillance-system/events"
)

// Server represents the main web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server

	handlers *Handlers
	hub      *Hub
}

// NewServer creates a new web server. Events published on bus are pushed
// to websocket clients.
func NewServer(cfg *config.Config, ctl Control, bus *events.Bus, logger *zap.Logger) *Server {
	hub := NewHub(cfg.Server.AllowedOrigins, cfg.Limits.WebSocketSendBuffer, logger)
	hub.SetStatus(func() any { return ctl.Status() })
	hub.Attach(bus)

	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: NewHandlers(ctl, logger),
		hub:      hub,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.addMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handlers.HandleStatus)
		r.Post("/camera/enable", s.handlers.HandleCameraEnable)
		r.Post("/camera/disable", s.handlers.HandleCameraDisable)
		r.Post("/recording/start", s.handlers.HandleRecordingStart)
		r.Post("/recording/stop", s.handlers.HandleRecordingStop)
		r.Get("/snapshot", s.handlers.HandleSnapshot)
		r.Get("/recordings", s.handlers.HandleRecordings)
		r.Get("/ws", s.hub.HandleWebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handlers.HandleHealth)

	if dist := s.config.Server.UIDist; dist != "" {
		if info, err := os.Stat(dist); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dist)))
			s.logger.Info("Serving frontend", zap.String("dir", dist))
		} else {
			s.logger.Warn("Frontend directory not found, UI disabled", zap.String("dir", dist))
		}
	}

	return r
}

// Start starts the web server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.config.Address(),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: websocket connections are long-lived
		IdleTimeout: 60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started", zap.String("address", ln.Addr().String()))
	return nil
}

// addMiddleware adds CORS headers and request logging
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler.ServeHTTP(lw, r)

		// snapshot polling and scrapes would drown the log
		log := s.logger.Info
		if r.URL.Path == "/api/snapshot" || r.URL.Path == "/metrics" {
			log = s.logger.Debug
		}
		log("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping web server")

	s.hub.Close()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeouts.HTTPShutdown())
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
