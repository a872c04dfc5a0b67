package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/metrics"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// Enqueuer sends job payloads onto the scrape queue.
type Enqueuer interface {
	Send(ctx context.Context, queue string, payload any, delay time.Duration) (int64, error)
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Options configures the routes.
type Options struct {
	QueueName string
	// APIKey, when set, guards the /v1 routes.
	APIKey string
}

// Server wires HTTP handlers to the job store and queue.
type Server struct {
	router   chi.Router
	jobs     scrape.JobStore
	queue    Enqueuer
	idGen    scrape.IDGenerator
	clock    scrape.Clock
	ready    ReadinessCheck
	opts     Options
	logger   *zap.Logger
	timeout  time.Duration
	validate *validator.Validate
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs scrape.JobStore,
	queue Enqueuer,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	ready ReadinessCheck,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobs,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		ready:    ready,
		opts:     opts,
		logger:   logger.Named("api"),
		timeout:  5 * time.Second,
		validate: newValidator(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	URL    string `json:"url" validate:"required,http_url"`
}

type submitJobResponse struct {
	JobID     string `json:"jobId"`
	MessageID int64  `json:"messageId"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validateSubmit(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.enqueueJob(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errEnqueue) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) validateSubmit(req submitJobRequest) error {
	err := s.validate.Struct(req)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s required", fe.Field())
	case "http_url":
		return fmt.Errorf("%s must be an absolute http(s) URL", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errEnqueue = errors.New("enqueue job")

func (s *Server) enqueueJob(ctx context.Context, req submitJobRequest) (submitJobResponse, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return submitJobResponse{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := scrape.Job{
		ID:        jobID,
		UserID:    req.UserID,
		URL:       req.URL,
		Status:    scrape.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return submitJobResponse{}, fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	msgID, err := s.queue.Send(queueCtx, s.opts.QueueName, scrape.QueuePayload{
		JobID:  jobID,
		UserID: req.UserID,
		URL:    req.URL,
	}, 0)
	if err != nil {
		reason := fmt.Sprintf("enqueue failed: %v", err)
		if ferr := s.jobs.FailJob(context.WithoutCancel(ctx), jobID, s.clock.Now(), reason); ferr != nil {
			s.logger.Error("failed to mark unqueued job", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return submitJobResponse{}, fmt.Errorf("%w %s: %v", errEnqueue, jobID, err)
	}
	s.logger.Info("job submitted", zap.String("job_id", jobID), zap.Int64("msg_id", msgID))
	return submitJobResponse{JobID: jobID, MessageID: msgID}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, scrape.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
