package http

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/observability"
	"github.com/bravapress/bravapress/internal/processor"
)

// Trigger is the part of the processor the server drives.
type Trigger interface {
	Tick(ctx context.Context) (processor.TickResult, error)
	RequeueStuck(ctx context.Context, after time.Duration) (domain.StuckResult, error)
}

// Options configures Server.
type Options struct {
	Addr          string
	AdminToken    string
	WebhookSecret string
	Logger        *slog.Logger
}

// Server is the HTTP adapter for payment webhooks, triggers and admin reads.
type Server struct {
	queue   *domain.QueueService
	subs    domain.SubmissionRepository
	trigger Trigger
	opts    Options
	logger  *slog.Logger
	mux     *http.ServeMux
	server  *http.Server

	// paymentMu serializes the enqueueable check and the enqueue.
	paymentMu sync.Mutex
}

// NewServer creates a new HTTP server.
func NewServer(queue *domain.QueueService, subs domain.SubmissionRepository, trigger Trigger, opts Options) *Server {
	s := &Server{
		queue:   queue,
		subs:    subs,
		trigger: trigger,
		opts:    opts,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.routes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /webhooks/payment", s.handlePaymentWebhook)
	s.mux.HandleFunc("POST /process", s.admin(s.handleProcess))
	s.mux.HandleFunc("POST /jobs", s.admin(s.handleEnqueue))
	s.mux.HandleFunc("GET /jobs", s.admin(s.handleListJobs))
	s.mux.HandleFunc("GET /jobs/{id}", s.admin(s.handleGetJob))
	s.mux.HandleFunc("GET /stats", s.admin(s.handleStats))
	s.mux.HandleFunc("GET /submissions/{id}", s.admin(s.handleGetSubmission))
	s.mux.HandleFunc("POST /submissions/{id}/retry", s.admin(s.handleRetrySubmission))
	s.mux.HandleFunc("POST /admin/requeue-stuck", s.admin(s.handleRequeueStuck))
	s.mux.HandleFunc("POST /admin/cleanup", s.admin(s.handleCleanup))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Payment event types accepted by the webhook.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventCheckoutCanceled = "checkout.canceled"
)

// paymentEvent is the request body for POST /webhooks/payment.
type paymentEvent struct {
	Type         string             `json:"type"`
	SubmissionID string             `json:"submission_id"`
	PackageType  string             `json:"package_type,omitempty"`
	PaymentMode  domain.PaymentMode `json:"payment_mode,omitempty"`
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Data        json.RawMessage `json:"data,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ScheduledAt string          `json:"scheduled_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.opts.WebhookSecret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.logger.Warn("webhook verification failed", "error", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ev.SubmissionID == "" {
		s.writeError(w, http.StatusBadRequest, "submission_id is required")
		return
	}
	l := s.logger.With("submission_id", ev.SubmissionID, "event", ev.Type)

	switch ev.Type {
	case EventPaymentSucceeded:
		s.paymentSucceeded(w, r, l, ev)
	case EventPaymentFailed, EventCheckoutCanceled:
		if err := s.subs.AppendLog(r.Context(), ev.SubmissionID, domain.ProcessingLog{
			Timestamp: time.Now().UTC(),
			Step:      "payment",
			Status:    domain.StepFailed,
			Details:   ev.Type,
		}); err != nil && !errors.Is(err, domain.ErrSubmissionNotFound) {
			l.Error("append payment log", "error", err)
		}
		l.Info("payment not completed, no job enqueued")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

func (s *Server) paymentSucceeded(w http.ResponseWriter, r *http.Request, l *slog.Logger, ev paymentEvent) {
	ctx := r.Context()
	s.paymentMu.Lock()
	defer s.paymentMu.Unlock()

	sub, err := s.subs.Get(ctx, ev.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			s.writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		l.Error("get submission", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !sub.Enqueueable() {
		l.Info("duplicate payment event ignored", "status", sub.Status)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "submission_status": string(sub.Status)})
		return
	}

	// The job goes in before the status flips, so a failed enqueue leaves
	// the submission enqueueable for the provider's redelivery.
	job, err := s.queue.EnqueueSubmission(ctx, domain.SubmissionPayload{
		SubmissionID: sub.ID,
		PackageType:  ev.PackageType,
		PaymentMode:  ev.PaymentMode,
	})
	if err != nil {
		l.Error("enqueue submission", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// The handler moves the submission to processing on its own, so a lost
	// paid flag only costs the intermediate status. Acknowledge regardless.
	if err := s.subs.SetStatus(ctx, sub.ID, domain.SubmissionPaid); err != nil {
		l.Warn("mark submission paid", "job_id", job.ID, "error", err)
	}
	observability.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()
	l.Info("submission job enqueued", "job_id", job.ID)
	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

const maxTimestampSkew = 5 * time.Minute

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	if !hmacEqual(signature, Sign(timestamp, body, s.opts.WebhookSecret)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Sign computes SHA256("${timestamp}\n${body}\n${secret}") as hex.
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func hmacEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// admin requires the bearer token when one is configured.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !hmacEqual(token, s.opts.AdminToken) {
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	// A claimed job runs to the end even if the caller hangs up.
	res, err := s.trigger.Tick(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("triggered tick failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// enqueueRequest is the body of the raw admin enqueue.
type enqueueRequest struct {
	Type        domain.JobType  `json:"type"`
	Data        json.RawMessage `json:"data"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	job, err := s.queue.Enqueue(r.Context(), domain.NewJob{
		Type:        req.Type,
		Data:        req.Data,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		s.logger.Error("enqueue job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	observability.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()
	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.JobFilter{
		Status: domain.JobStatus(q.Get("status")),
		Type:   domain.JobType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.queue.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// statsResponse is the JSON response for GET /stats.
type statsResponse struct {
	Counts   []domain.StatusCount `json:"counts"`
	ByStatus map[string]int64     `json:"by_status"`
	Total    int64                `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := statsResponse{Counts: counts, ByStatus: map[string]int64{}}
	for _, c := range counts {
		resp.ByStatus[string(c.Status)] += c.Count
		resp.Total += c.Count
	}
	if resp.Counts == nil {
		resp.Counts = []domain.StatusCount{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

// handleRetrySubmission queues a fresh job; terminal jobs are never reopened.
func (s *Server) handleRetrySubmission(w http.ResponseWriter, r *http.Request) {
	var mode domain.PaymentMode
	if v := r.URL.Query().Get("payment_mode"); v != "" {
		m, err := domain.ParsePaymentMode(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	s.paymentMu.Lock()
	defer s.paymentMu.Unlock()

	id := r.PathValue("id")
	job, err := s.queue.RetrySubmission(r.Context(), s.subs, id, mode)
	switch {
	case errors.Is(err, domain.ErrSubmissionNotFound):
		s.writeError(w, http.StatusNotFound, "submission not found")
		return
	case errors.Is(err, domain.ErrNotRetryable):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("retry submission", "submission_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("submission retry enqueued", "submission_id", id, "job_id", job.ID)
	observability.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()
	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) loadSubmission(w http.ResponseWriter, r *http.Request) (*domain.Submission, bool) {
	sub, err := s.subs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			s.writeError(w, http.StatusNotFound, "submission not found")
			return nil, false
		}
		s.logger.Error("get submission", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return sub, true
}

func (s *Server) handleRequeueStuck(w http.ResponseWriter, r *http.Request) {
	after, ok := s.durationParam(w, r, "after")
	if !ok {
		return
	}
	res, err := s.trigger.RequeueStuck(r.Context(), after)
	if err != nil {
		s.logger.Error("requeue stuck", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"requeued": res.Requeued, "failed": int64(len(res.Failed))})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention, ok := s.durationParam(w, r, "retention")
	if !ok {
		return
	}
	n, err := s.queue.Cleanup(r.Context(), retention)
	if err != nil {
		s.logger.Error("cleanup", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// durationParam parses an optional Go duration query parameter; zero means default.
func (s *Server) durationParam(w http.ResponseWriter, r *http.Request, name string) (time.Duration, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return d, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func jobToResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:          job.ID,
		Type:        string(job.Type),
		Status:      string(job.ReportedStatus()),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Data:        job.Data,
		Result:      job.Result,
		Error:       job.Error,
		ScheduledAt: formatTime(job.ScheduledAt),
		CreatedAt:   formatTime(job.CreatedAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
	}
	if job.StartedAt != nil {
		resp.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = formatTime(*job.CompletedAt)
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
