package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/job"
	"github.com/JakeFAU/wpchain/internal/metrics"
)

const (
	statusOK           = "ok"
	statusMissingParam = "missing_param"
	paramURL           = "url"
	jsonContentType    = "application/json; charset=utf-8"
)

// Jobs is the job manager surface the handlers need.
type Jobs interface {
	Submit(ctx context.Context, url string) job.Snapshot
	Open(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// Server wires HTTP handlers to the job manager.
type Server struct {
	router chi.Router
	jobs   Jobs
	stop   func()
	logger *zap.Logger
}

type dumpResponse struct {
	Status string        `json:"status"`
	Task   *job.Snapshot `json:"task,omitempty"`
	Params []string      `json:"params,omitempty"`
}

// NewServer constructs a Server with middleware and routes. stop is called
// once per /stop request and must not block.
func NewServer(jobs Jobs, stop func(), requestTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = func() {}
	}
	metrics.Init()
	s := &Server{
		jobs:   jobs,
		stop:   stop,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if requestTimeout > 0 {
		r.Use(timeoutMiddleware(requestTimeout))
	}

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/dump", s.dump)
	r.Get("/get", s.get)
	r.Get("/stop", s.stopServer)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK})
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) dump(w http.ResponseWriter, r *http.Request) {
	url, ok := urlParam(r)
	if !ok {
		s.logger.Info("bad request: missing parameter", zap.String("param", paramURL))
		writeJSON(w, http.StatusOK, dumpResponse{Status: statusMissingParam, Params: []string{paramURL}})
		return
	}
	s.logger.Info("dump requested", zap.String("url", url))
	snap := s.jobs.Submit(r.Context(), url)
	s.logger.Debug("returning status", zap.String("url", url), zap.String("status", string(snap.Status)))
	writeJSON(w, http.StatusOK, dumpResponse{Status: statusOK, Task: &snap})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	url, ok := urlParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	body, title, err := s.jobs.Open(r.Context(), url)
	if err != nil {
		if errors.Is(err, job.ErrNotReady) || errors.Is(err, cache.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not available")
			return
		}
		s.logger.Error("open book", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", cache.ContentType)
	w.Header().Set("Content-Disposition", ContentDisposition(title))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("stream book", zap.String("url", url), zap.Error(err))
	}
}

func (s *Server) stopServer(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("server stop command received")
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK})
	s.stop()
}

func urlParam(r *http.Request) (string, bool) {
	values, present := r.URL.Query()[paramURL]
	if !present || len(values) == 0 {
		return "", false
	}
	url := strings.TrimSpace(values[0])
	return url, url != ""
}

// ContentDisposition builds an attachment header whose RFC 5987 filename is
// the book title with an .epub extension.
func ContentDisposition(title string) string {
	const attrChars = "!#$&+-.^_`|~"
	name := title + ".epub"
	var sb strings.Builder
	sb.WriteString("attachment; filename*=utf-8''")
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', strings.IndexByte(attrChars, c) >= 0:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
