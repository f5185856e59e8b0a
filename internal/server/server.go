// Package server exposes navigation sessions over HTTP: a health probe,
// session listing, nearby room lookup, a JSON snapshot endpoint and a
// WebSocket that pushes every snapshot the session's engine publishes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/stuartshay/campus-nav/internal/directory"
	"github.com/stuartshay/campus-nav/internal/geo"
	"github.com/stuartshay/campus-nav/internal/metricslog"
	"github.com/stuartshay/campus-nav/internal/session"
)

const (
	// snapshots queued per WebSocket client before the oldest is dropped
	wsBuffer = 64

	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second

	defaultNearbyRadius = 50.0
	defaultListLimit    = 50
)

// Server serves the HTTP surface for a session registry
type Server struct {
	sessions    *session.Registry
	directory   *directory.Directory
	serviceName string
	metricsPath string
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
}

// New creates a Server
func New(sessions *session.Registry, serviceName string, logger zerolog.Logger) *Server {
	return &Server{
		sessions:    sessions,
		serviceName: serviceName,
		logger:      logger.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetMetricsLog enables GET /api/metrics/summary over the CSV at path
func (s *Server) SetMetricsLog(path string) {
	s.metricsPath = path
}

// SetDirectory enables GET /api/rooms/nearby
func (s *Server) SetDirectory(dir *directory.Directory) {
	s.directory = dir
}

// Handler returns the routed handler wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", s.handleHealth)
	router.GET("/api/sessions", s.handleSessions)
	router.GET("/api/rooms/nearby", s.handleNearby)
	router.GET("/api/sessions/:id/state", s.handleState)
	router.GET("/api/sessions/:id/ws", s.handleWS)
	router.GET("/api/metrics/summary", s.handleMetricsSummary)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return alice.New(corsHandler.Handler, s.recoverPanic, s.accessLog).Then(router)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("HTTP server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.serviceName,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	sess, err := s.sessions.Get(p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Engine.Snapshot())
}

// handleSessions pages through live sessions with ?limit= and ?offset=
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.List(limit, offset),
		"stats":    s.sessions.Stats(),
	})
}

// handleNearby lists rooms around ?lat=&lng= within ?radius= meters
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.directory == nil {
		writeError(w, http.StatusNotFound, errors.New("room directory not configured"))
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, errors.New("lat and lng are required numbers"))
		return
	}
	radius := defaultNearbyRadius
	if raw := q.Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, directory.ErrInvalidRadius)
			return
		}
		radius = v
	}

	rooms, err := s.directory.Nearby(lat, lng, radius)
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate), errors.Is(err, directory.ErrInvalidRadius):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, directory.ErrNearbyUnsupported):
		writeError(w, http.StatusNotImplemented, err)
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Nearby room lookup failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.metricsPath == "" {
		writeError(w, http.StatusNotFound, errors.New("metrics log disabled"))
		return
	}

	f, err := os.Open(s.metricsPath)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusOK, metricslog.Summary{})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.metricsPath).Msg("Failed to open metrics log")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	summary, err := metricslog.Summarize(f)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.metricsPath).Msg("Failed to summarize metrics log")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleWS streams the session's snapshots until the client disconnects or
// the session ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	sess, err := s.sessions.Get(p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	// Subscribe before the handshake completes so no snapshot published
	// after the client sees the upgrade is missed.
	states, unsubscribe := sess.Engine.Subscribe(wsBuffer)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	logger := s.logger.With().Str("session_id", sess.ID).Logger()
	logger.Debug().Msg("WebSocket client connected")

	// Writer
	go func() {
		defer conn.Close()
		for st := range states {
			msg, err := json.Marshal(st)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to encode snapshot")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				unsubscribe()
				break
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(writeWait))
	}()

	// Reader: drains control frames and notices the client going away
	go func() {
		defer func() {
			unsubscribe()
			logger.Debug().Msg("WebSocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Recovered from panic")
				w.Header().Set("Connection", "close")
				writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// intParam reads a non-negative integer query parameter
func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
