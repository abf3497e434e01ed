// Package server exposes the consultant service over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai_consultant/consultant"
	"ai_consultant/logger"
	"ai_consultant/metrics"
)

const defaultRequestTimeout = 120 * time.Second

type Options struct {
	// Jobs runs full report generation; nil creates a dispatcher with
	// four workers and a ten minute deadline.
	Jobs    *Dispatcher
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer       prometheus.Gatherer
	CORSOrigins    []string
	RequestTimeout time.Duration
	Version        string
}

type Server struct {
	svc         *consultant.Service
	jobs        *Dispatcher
	log         *logger.Logger
	metrics     *metrics.Metrics
	metricsH    http.Handler
	corsOrigins []string
	timeout     time.Duration
	version     string
	now         func() time.Time
}

func New(svc *consultant.Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("consultant service required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = NewDispatcher(4, 10*time.Minute, log, opts.Metrics)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	metricsH := promhttp.Handler()
	if opts.Gatherer != nil {
		metricsH = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		svc:         svc,
		jobs:        jobs,
		log:         log.With("http"),
		metrics:     opts.Metrics,
		metricsH:    metricsH,
		corsOrigins: opts.CORSOrigins,
		timeout:     timeout,
		version:     version,
		now:         time.Now,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", s.metricsH)

	mux.HandleFunc("POST /conversation/start", s.handleConversationStart)
	mux.HandleFunc("POST /conversation/continue", s.handleConversationContinue)
	mux.HandleFunc("POST /preview/generate", s.handlePreview)
	mux.HandleFunc("POST /lead/capture", s.handleLeadCapture)

	mux.HandleFunc("POST /report/get", s.handleReportGet)
	mux.HandleFunc("POST /report/refine", s.handleReportRefine)
	mux.HandleFunc("GET /report/{session_id}/download", s.handleReportDownload)

	mux.HandleFunc("GET /progress/{session_id}", s.handleProgress)
	mux.HandleFunc("GET /social-proof", s.handleSocialProof)

	mux.HandleFunc("GET /analytics/overview", s.handleAnalytics)
	mux.HandleFunc("GET /analytics/top-leads", s.handleTopLeads)
	mux.HandleFunc("GET /analytics/lead/{lead_id}", s.handleLeadGet)
	mux.HandleFunc("PATCH /analytics/lead/{lead_id}", s.handleLeadUpdate)
	mux.HandleFunc("GET /session/{session_id}/full", s.handleFullSession)

	mux.HandleFunc("POST /webhooks/report-complete", s.handleReportWebhook)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "Resource not found"})
	})
	return s.corsMiddleware(s.logMiddleware(mux))
}

// Shutdown drains background jobs. Call it after the HTTP server has
// stopped accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.jobs.Shutdown(ctx)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// --- Helpers ---

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func classify(err error) (int, errorBody) {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, errorBody{"validation_error", ve.Error()}
	case errors.Is(err, consultant.ErrSessionNotFound):
		return http.StatusNotFound, errorBody{"not_found", "Session not found"}
	case errors.Is(err, consultant.ErrLeadNotFound):
		return http.StatusNotFound, errorBody{"not_found", "Lead not found"}
	case errors.Is(err, consultant.ErrLeadAlreadyCaptured):
		return http.StatusBadRequest, errorBody{"lead_already_captured", "Lead already captured for this session"}
	case errors.Is(err, consultant.ErrLeadNotCaptured):
		return http.StatusForbidden, errorBody{"lead_not_captured", "You must complete the full report before refining"}
	case errors.Is(err, consultant.ErrReportIncomplete):
		return http.StatusBadRequest, errorBody{"report_incomplete", "Report not complete yet. Please wait for generation to finish."}
	case errors.Is(err, consultant.ErrInvalidLeadStatus):
		return http.StatusBadRequest, errorBody{"invalid_status", err.Error()}
	case errors.Is(err, ErrDispatcherClosed):
		return http.StatusServiceUnavailable, errorBody{"unavailable", "The service is shutting down. Please try again shortly."}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{"timeout", "The request took too long. Please try again."}
	default:
		return http.StatusInternalServerError, errorBody{"internal_error", "An unexpected error occurred. Please try again later."}
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed").Str("method", r.Method).Str("path", r.URL.Path).Err(err).Send()
	}
	writeJSON(w, status, body)
}
