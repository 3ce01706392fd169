package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bravapress/bravapress/internal/adapter/sqlite"
	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/processor"
)

const testSecret = "test-secret"

// mockTrigger implements Trigger for testing. Sweeps go to the real queue.
type mockTrigger struct {
	queue  *domain.QueueService
	calls  int
	ctxErr error
	result processor.TickResult
	err    error
}

func (m *mockTrigger) Tick(ctx context.Context) (processor.TickResult, error) {
	m.calls++
	m.ctxErr = ctx.Err()
	return m.result, m.err
}

func (m *mockTrigger) RequeueStuck(ctx context.Context, after time.Duration) (domain.StuckResult, error) {
	return m.queue.RequeueStuck(ctx, after)
}

type testEnv struct {
	srv     *Server
	repo    *sqlite.Repository
	queue   *domain.QueueService
	subs    *sqlite.SubmissionStore
	trigger *mockTrigger
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	opts.Logger = slog.New(slog.DiscardHandler)
	env := &testEnv{
		repo:    repo,
		queue:   domain.NewQueueService(repo, domain.DefaultQueueOptions()),
		subs:    repo.Submissions(),
		trigger: &mockTrigger{result: processor.TickResult{Outcome: processor.OutcomeIdle}},
	}
	env.trigger.queue = env.queue
	env.srv = NewServer(env.queue, env.subs, env.trigger, opts)
	return env
}

func (e *testEnv) createSubmission(t *testing.T, status domain.SubmissionStatus) *domain.Submission {
	t.Helper()
	sub := &domain.Submission{Title: "Launch", ContactEmail: "pr@example.com", Status: status}
	if err := e.subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func signedRequest(body, secret string, ts time.Time) *http.Request {
	timestamp := ts.UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", Sign(timestamp, []byte(body), secret))
	return req
}

func paymentBody(typ, submissionID string) string {
	b, _ := json.Marshal(paymentEvent{Type: typ, SubmissionID: submissionID})
	return string(b)
}

func TestServer_PaymentWebhook_EnqueuesOnce(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: testSecret})
	sub := env.createSubmission(t, domain.SubmissionPaymentPending)
	body := paymentBody(EventPaymentSucceeded, sub.ID)

	rec := env.do(signedRequest(body, testSecret, time.Now()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Type != string(domain.TypeSubmission) || resp.Status != "pending" {
		t.Errorf("job = %+v", resp)
	}
	if resp.Priority != domain.PriorityHigh {
		t.Errorf("priority = %d, want %d", resp.Priority, domain.PriorityHigh)
	}

	// Redelivery of the same event is acknowledged without a second job.
	rec = env.do(signedRequest(body, testSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ignored"`) {
		t.Errorf("redelivery body = %s", rec.Body.String())
	}

	jobs, err := env.queue.List(context.Background(), domain.JobFilter{Type: domain.TypeSubmission})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("got %d submission jobs, want 1", len(jobs))
	}

	got, err := env.subs.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.Status != domain.SubmissionPaid {
		t.Errorf("submission status = %s, want paid", got.Status)
	}
}

// flakyStore fails the first n Enqueue calls.
type flakyStore struct {
	domain.JobStore
	failures int
}

func (f *flakyStore) Enqueue(ctx context.Context, job domain.NewJob) (*domain.Job, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("database is locked")
	}
	return f.JobStore.Enqueue(ctx, job)
}

func TestServer_PaymentWebhook_EnqueueFailureAllowsRedelivery(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: testSecret})
	env.queue = domain.NewQueueService(&flakyStore{JobStore: env.repo, failures: 1}, domain.DefaultQueueOptions())
	env.srv = NewServer(env.queue, env.subs, env.trigger, Options{WebhookSecret: testSecret, Logger: slog.New(slog.DiscardHandler)})

	sub := env.createSubmission(t, domain.SubmissionPaymentPending)
	body := paymentBody(EventPaymentSucceeded, sub.ID)

	rec := env.do(signedRequest(body, testSecret, time.Now()))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	got, err := env.subs.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.Status != domain.SubmissionPaymentPending {
		t.Errorf("after failed enqueue status = %s, want payment_pending", got.Status)
	}

	rec = env.do(signedRequest(body, testSecret, time.Now()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("redelivery status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	jobs, err := env.queue.List(context.Background(), domain.JobFilter{Type: domain.TypeSubmission})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("got %d submission jobs, want 1", len(jobs))
	}
	got, err = env.subs.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.Status != domain.SubmissionPaid {
		t.Errorf("submission status = %s, want paid", got.Status)
	}
}

func TestServer_PaymentWebhook_FailedPaymentEnqueuesNothing(t *testing.T) {
	for _, typ := range []string{EventPaymentFailed, EventCheckoutCanceled} {
		t.Run(typ, func(t *testing.T) {
			env := setupTestServer(t, Options{WebhookSecret: testSecret})
			sub := env.createSubmission(t, domain.SubmissionPaymentPending)

			rec := env.do(signedRequest(paymentBody(typ, sub.ID), testSecret, time.Now()))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			jobs, _ := env.queue.List(context.Background(), domain.JobFilter{})
			if len(jobs) != 0 {
				t.Errorf("got %d jobs, want 0", len(jobs))
			}
			got, _ := env.subs.Get(context.Background(), sub.ID)
			if got.Status != domain.SubmissionPaymentPending {
				t.Errorf("submission status = %s", got.Status)
			}
			if len(got.ProcessingLogs) != 1 || got.ProcessingLogs[0].Details != typ {
				t.Errorf("processing logs = %+v", got.ProcessingLogs)
			}
		})
	}
}

func TestServer_PaymentWebhook_Validation(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: testSecret})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid JSON", `{invalid`, http.StatusBadRequest},
		{"missing submission", `{"type":"payment.succeeded"}`, http.StatusBadRequest},
		{"unknown event", paymentBody("refund.created", "abc"), http.StatusBadRequest},
		{"unknown submission", paymentBody(EventPaymentSucceeded, "nope"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(signedRequest(tt.body, testSecret, time.Now()))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestServer_PaymentWebhook_Signature(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: testSecret})
	sub := env.createSubmission(t, domain.SubmissionDraft)
	body := paymentBody(EventPaymentSucceeded, sub.ID)

	tests := []struct {
		name    string
		req     func() *http.Request
		wantErr string
	}{
		{
			name:    "wrong secret",
			req:     func() *http.Request { return signedRequest(body, "other", time.Now()) },
			wantErr: "invalid signature",
		},
		{
			name:    "stale timestamp",
			req:     func() *http.Request { return signedRequest(body, testSecret, time.Now().Add(-10*time.Minute)) },
			wantErr: "too far",
		},
		{
			name: "missing timestamp",
			req: func() *http.Request {
				r := signedRequest(body, testSecret, time.Now())
				r.Header.Del("X-Timestamp")
				return r
			},
			wantErr: "missing X-Timestamp",
		},
		{
			name: "missing signature",
			req: func() *http.Request {
				r := signedRequest(body, testSecret, time.Now())
				r.Header.Del("X-Signature")
				return r
			},
			wantErr: "missing X-Signature",
		},
		{
			name: "bad timestamp format",
			req: func() *http.Request {
				r := signedRequest(body, testSecret, time.Now())
				r.Header.Set("X-Timestamp", "yesterday")
				return r
			},
			wantErr: "invalid X-Timestamp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.req())
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			var resp errorResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("error = %q, want containing %q", resp.Error, tt.wantErr)
			}
		})
	}

	jobs, _ := env.queue.List(context.Background(), domain.JobFilter{})
	if len(jobs) != 0 {
		t.Errorf("got %d jobs after rejected webhooks", len(jobs))
	}
}

func TestServer_AdminToken(t *testing.T) {
	env := setupTestServer(t, Options{AdminToken: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	if rec := env.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if rec := env.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if rec := env.do(req); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Health stays public.
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestServer_Process(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.trigger.result = processor.TickResult{Outcome: processor.OutcomeCompleted, JobID: "j1", Type: domain.TypeCleanup}

	rec := env.do(httptest.NewRequest(http.MethodPost, "/process", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var res processor.TickResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if res.Outcome != processor.OutcomeCompleted || res.JobID != "j1" {
		t.Errorf("result = %+v", res)
	}

	env.trigger.err = errors.New("database is locked")
	rec = env.do(httptest.NewRequest(http.MethodPost, "/process", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if env.trigger.calls != 2 {
		t.Errorf("calls = %d, want 2", env.trigger.calls)
	}

	// A caller that hangs up does not cancel the tick.
	env.trigger.err = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec = env.do(httptest.NewRequest(http.MethodPost, "/process", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if env.trigger.ctxErr != nil {
		t.Errorf("tick ctx err = %v, want detached from the request", env.trigger.ctxErr)
	}
}

func TestServer_Jobs(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()

	rec := env.do(httptest.NewRequest(http.MethodPost, "/jobs",
		bytes.NewBufferString(`{"type":"cleanup","data":{"retention_hours":1}}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d: %s", rec.Code, rec.Body.String())
	}
	var created jobResponse
	json.NewDecoder(rec.Body).Decode(&created)

	if _, err := env.queue.EnqueueMonitoring(ctx); err != nil {
		t.Fatalf("enqueue monitoring: %v", err)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got jobResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.ID != created.ID || got.Type != "cleanup" || got.MaxAttempts != 1 {
		t.Errorf("job = %+v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs?type=monitoring", nil))
	var list []jobResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].Type != "monitoring" {
		t.Errorf("list = %+v", list)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing type status = %d", rec.Code)
	}
}

func TestServer_JobReportsRetrying(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()

	job, err := env.queue.EnqueueSubmission(ctx, domain.SubmissionPayload{SubmissionID: "sub-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := env.queue.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if _, err := env.queue.Fail(ctx, claimed, errors.New("boom"), true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
	var got jobResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Status != "retrying" || got.Error != "boom" || got.Attempts != 1 {
		t.Errorf("job = %+v", got)
	}
}

func TestServer_Stats(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()
	env.queue.EnqueueMonitoring(ctx)
	env.queue.EnqueueMonitoring(ctx)
	env.queue.EnqueueCleanup(ctx, time.Hour)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Total != 3 || resp.ByStatus["pending"] != 3 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestServer_Submissions(t *testing.T) {
	env := setupTestServer(t, Options{})
	failed := env.createSubmission(t, domain.SubmissionFailed)
	done := env.createSubmission(t, domain.SubmissionCompleted)
	draft := env.createSubmission(t, domain.SubmissionDraft)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/submissions/"+failed.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var sub domain.Submission
	json.NewDecoder(rec.Body).Decode(&sub)
	if sub.ID != failed.ID || sub.Status != domain.SubmissionFailed {
		t.Errorf("submission = %+v", sub)
	}

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/submissions/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/submissions/"+failed.ID+"/retry?payment_mode=manual", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry status = %d: %s", rec.Code, rec.Body.String())
	}
	var job jobResponse
	json.NewDecoder(rec.Body).Decode(&job)
	if !strings.Contains(string(job.Data), `"payment_mode":"manual"`) {
		t.Errorf("job data = %s", job.Data)
	}
	got, _ := env.subs.Get(context.Background(), failed.ID)
	if got.Status != domain.SubmissionPaid {
		t.Errorf("status after retry = %s", got.Status)
	}

	for _, id := range []string{done.ID, draft.ID} {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/submissions/"+id+"/retry", nil))
		if rec.Code != http.StatusConflict {
			t.Errorf("retry %s status = %d, want %d", id, rec.Code, http.StatusConflict)
		}
	}
}

func TestServer_AdminMaintenance(t *testing.T) {
	env := setupTestServer(t, Options{})

	rec := env.do(httptest.NewRequest(http.MethodPost, "/admin/requeue-stuck?after=1h", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"requeued":0`) || !strings.Contains(rec.Body.String(), `"failed":0`) {
		t.Errorf("requeue = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":0`) {
		t.Errorf("cleanup = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/admin/cleanup?retention=soon", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad retention status = %d", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t, Options{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t, Options{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics body missing runtime collectors")
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := setupTestServer(t, Options{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/webhooks/payment", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
