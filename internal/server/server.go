// Package server exposes extraction and the OCR job lifecycle over HTTP, plus
// the gRPC health endpoint.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/core"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/export"
	"github.com/joseph-ayodele/tender-docs/internal/extract"
	"github.com/joseph-ayodele/tender-docs/internal/ingest"
	"github.com/joseph-ayodele/tender-docs/internal/metrics"
)

const defaultMaxUploadBytes = 50 << 20

// Extractor is the synchronous extraction entry point.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source) *entity.ExtractionResult
}

// Deps are the collaborators behind the HTTP API. Export may be nil.
type Deps struct {
	Extractor Extractor
	Ingestor  ingest.Ingestor
	Jobs      *core.Service
	Export    *export.Service
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	deps      Deps
	maxUpload int64
	logger    *slog.Logger
}

type Option func(*Server)

// WithMaxUploadMB caps multipart request bodies.
func WithMaxUploadMB(mb int64) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUpload = mb << 20
		}
	}
}

func New(deps Deps, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, maxUpload: defaultMaxUploadBytes, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.extractUpload)
		r.Post("/documents", s.registerDocument)
		r.Post("/documents/{id}/ocr", s.requestOCR)
		r.Get("/documents/{id}/ocr", s.ocrStatus)
		r.Put("/documents/{id}/ocr", s.correctOCR)
		r.Post("/ocr/bulk", s.bulkOCR)
		r.Get("/ocr/batches/{id}", s.batchStatus)
		r.Get("/ocr/batches/{id}/stream", s.batchStream)
		r.Get("/ocr/export", s.exportJobs)
	})
	return r
}

// statusRecorder captures the response status for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack lets the batch stream upgrade to a websocket.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		logger := s.logger.With("request_id", reqID)
		ctx := common.WithLogger(common.WithRequestID(r.Context(), reqID), logger)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequest(r.Method, route, strconv.Itoa(rec.status))
		logger.Debug("http request", "method", r.Method, "route", route, "status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
