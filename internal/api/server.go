// Package api serves the HTTP interface: frame ingest, live track state,
// stored alerts, configuration and runtime statistics.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/httputil"
	"github.com/banshee-data/fallwatch/internal/ingest"
	"github.com/banshee-data/fallwatch/internal/monitor"
	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/publish"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxFrameBody bounds a POST /api/frames body.
const maxFrameBody = ingest.MaxFrameBytes

// Runner is the part of pipeline.Runner the API needs.
type Runner interface {
	Submit(f detect.Frame) error
	Latest(stream string) (pipeline.FrameResult, bool)
	Streams() []string
	Stats() pipeline.RunnerStats
}

// AlertStore is the part of alertstore.Store the API needs.
type AlertStore interface {
	RecentAlerts(ctx context.Context, limit int) ([]pipeline.Alert, error)
	AlertsForStream(ctx context.Context, stream string, since time.Time) ([]pipeline.Alert, error)
	CountByStream(ctx context.Context) (map[string]int, error)
}

// ServerConfig wires the server to the rest of the process. Only Runner is
// required.
type ServerConfig struct {
	Runner     Runner
	Alerts     AlertStore           // nil when no database is configured
	Publisher  *publish.Publisher   // Optional: delivery statistics
	FrameStats *monitor.FrameStats  // Optional: latency statistics and charts
	Tuning     *config.TuningConfig // Served from /api/config
	Events     http.Handler         // Optional: mounted at /ws
}

// Server is the HTTP API.
type Server struct {
	runner     Runner
	alerts     AlertStore
	publisher  *publish.Publisher
	frameStats *monitor.FrameStats
	tuning     *config.TuningConfig
	events     http.Handler
}

// NewServer creates a server.
func NewServer(cfg ServerConfig) *Server {
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	s := &Server{
		runner:     cfg.Runner,
		publisher:  cfg.Publisher,
		frameStats: cfg.FrameStats,
		tuning:     tuning,
		events:     cfg.Events,
	}
	if cfg.Alerts != nil && !isNilStore(cfg.Alerts) {
		s.alerts = cfg.Alerts
	}
	return s
}

func isNilStore(a AlertStore) bool {
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through so /ws can be upgraded behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration. Frame
// posts are high volume, so only their failures reach the ops stream.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		msg := fmt.Sprintf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
		switch {
		case lrw.statusCode >= 500:
			opsf("%s", msg)
		case r.URL.Path == "/api/frames":
			tracef("%s", msg)
		default:
			diagf("%s", msg)
		}
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/frames", s.postFrame)
	mux.HandleFunc("/api/streams", s.listStreams)
	mux.HandleFunc("/api/tracks", s.showTracks)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/stats", s.showStats)
	if s.events != nil {
		mux.Handle("/ws", s.events)
	}
	return mux
}

// AttachDebugRoutes mounts the frame charts on the tsweb debug page.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	if s.frameStats == nil {
		return
	}
	debug := tsweb.Debugger(mux)
	debug.Handle("charts", "Frame processing charts", monitor.ChartsHandler{Stats: s.frameStats})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.WriteJSON(w, status, v)
}

func (s *Server) postFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Failed to read frame: %v", err))
		return
	}
	f, err := ingest.DecodeFrame(body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.StreamID == "" {
		f.StreamID = r.URL.Query().Get("stream")
	}

	switch err := s.runner.Submit(f); {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "queued",
			"stream": f.StreamID,
			"frame":  f.Index,
		})
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrClosed):
		httputil.ServiceUnavailable(w, err.Error(), time.Second)
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.Streams())
}

func (s *Server) showTracks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = pipeline.DefaultStreamID
	}
	res, ok := s.runner.Latest(stream)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No frames seen for stream %q", stream))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.alerts == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Alert store not configured")
		return
	}

	q := r.URL.Query()
	limit := 100 // default value
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 10000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	var (
		alerts []pipeline.Alert
		err    error
	)
	if stream := q.Get("stream"); stream != "" {
		var since time.Time
		if v := q.Get("since"); v != "" {
			since, err = time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter")
				return
			}
		}
		alerts, err = s.alerts.AlertsForStream(r.Context(), stream, since)
		if len(alerts) > limit {
			alerts = alerts[len(alerts)-limit:]
		}
	} else {
		alerts, err = s.alerts.RecentAlerts(r.Context(), limit)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []pipeline.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.tuning)
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Runner         pipeline.RunnerStats    `json:"runner"`
	Publisher      *publish.PublisherStats `json:"publisher,omitempty"`
	Frames         *monitor.StatsSnapshot  `json:"frames,omitempty"`
	AlertsByStream map[string]int          `json:"alerts_by_stream,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := StatsResponse{Runner: s.runner.Stats()}
	if s.publisher != nil {
		ps := s.publisher.Stats()
		resp.Publisher = &ps
	}
	if s.frameStats != nil {
		snap := s.frameStats.Snapshot(r.URL.Query().Get("stream"))
		resp.Frames = &snap
	}
	if s.alerts != nil {
		counts, err := s.alerts.CountByStream(r.Context())
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count alerts: %v", err))
			return
		}
		resp.AlertsByStream = counts
	}
	s.writeJSON(w, http.StatusOK, resp)
}
