package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// mockStore implements JobStore for testing.
type mockStore struct {
	jobs       map[string]*Job
	nextID     int
	enqueueErr error
	lastCutoff time.Time
	failures   []Failure
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]*Job), nextID: 1}
}

func (m *mockStore) Enqueue(ctx context.Context, nj NewJob) (*Job, error) {
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	job := &Job{
		ID:          fmt.Sprintf("job-%d", m.nextID),
		Type:        nj.Type,
		Status:      StatusPending,
		Priority:    nj.Priority,
		Data:        nj.Data,
		MaxAttempts: nj.MaxAttempts,
		ScheduledAt: nj.ScheduledAt,
	}
	m.jobs[job.ID] = job
	m.nextID++
	return job, nil
}

func (m *mockStore) Get(ctx context.Context, id string) (*Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *mockStore) List(ctx context.Context, f JobFilter) ([]Job, error) { return nil, nil }
func (m *mockStore) ClaimNext(ctx context.Context) (*Job, error)          { return nil, nil }
func (m *mockStore) Stats(ctx context.Context) ([]StatusCount, error)     { return nil, nil }

func (m *mockStore) MarkCompleted(ctx context.Context, id string, attempt int, result json.RawMessage) error {
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Attempts != attempt {
		return ErrStaleClaim
	}
	job.Status = StatusCompleted
	job.Result = result
	return nil
}

func (m *mockStore) MarkFailed(ctx context.Context, id string, attempt int, f Failure) (JobStatus, error) {
	job, ok := m.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	if job.Attempts != attempt {
		return "", ErrStaleClaim
	}
	m.failures = append(m.failures, f)
	job.Error = f.Reason
	if f.Retry && job.Attempts < job.MaxAttempts {
		job.Status = StatusPending
	} else {
		job.Status = StatusFailed
	}
	return job.Status, nil
}

func (m *mockStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.lastCutoff = cutoff
	return 2, nil
}

func (m *mockStore) RequeueStuck(ctx context.Context, before time.Time) (StuckResult, error) {
	m.lastCutoff = before
	return StuckResult{Requeued: 1}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestQueueService_EnqueueSubmission(t *testing.T) {
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{})

	job, err := svc.EnqueueSubmission(context.Background(), SubmissionPayload{
		SubmissionID: "sub-1",
		PackageType:  "premium",
	})
	if err != nil {
		t.Fatalf("EnqueueSubmission() error = %v", err)
	}
	if job.Type != TypeSubmission {
		t.Errorf("Type = %q, want %q", job.Type, TypeSubmission)
	}
	if job.Priority != PriorityHigh {
		t.Errorf("Priority = %d, want %d", job.Priority, PriorityHigh)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", job.MaxAttempts)
	}

	p, err := job.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	sp := p.(SubmissionPayload)
	if sp.SubmissionID != "sub-1" || sp.PackageType != "premium" {
		t.Errorf("Payload() = %+v", sp)
	}
}

func TestQueueService_EnqueueSubmission_MissingID(t *testing.T) {
	svc := NewQueueService(newMockStore(), QueueOptions{})
	_, err := svc.EnqueueSubmission(context.Background(), SubmissionPayload{})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("EnqueueSubmission() error = %v, want %v", err, ErrInvalidPayload)
	}
}

func TestQueueService_EnqueueNotification(t *testing.T) {
	svc := NewQueueService(newMockStore(), QueueOptions{})
	job, err := svc.EnqueueNotification(context.Background(), NotificationPayload{To: "a@b.c", Template: "paid"})
	if err != nil {
		t.Fatalf("EnqueueNotification() error = %v", err)
	}
	if job.Priority != PriorityMedium {
		t.Errorf("Priority = %d, want %d", job.Priority, PriorityMedium)
	}
	if job.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", job.MaxAttempts)
	}
}

func TestQueueService_Enqueue_Defaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewQueueService(newMockStore(), QueueOptions{}).WithClock(fixedClock(now))

	job, err := svc.Enqueue(context.Background(), NewJob{Type: "fax_delivery"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", job.MaxAttempts)
	}
	if !job.ScheduledAt.Equal(now) {
		t.Errorf("ScheduledAt = %v, want %v", job.ScheduledAt, now)
	}
	if string(job.Data) != "{}" {
		t.Errorf("Data = %s, want {}", job.Data)
	}
}

func TestQueueService_Fail(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{}).WithClock(fixedClock(now))
	ctx := context.Background()

	job, _ := svc.EnqueueSubmission(ctx, SubmissionPayload{SubmissionID: "sub-1"})
	job.Attempts = 1

	status, err := svc.Fail(ctx, job, errors.New("navigation timeout"), true)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if status != StatusRetrying {
		t.Errorf("Fail() status = %q, want %q", status, StatusRetrying)
	}
	f := store.failures[0]
	if f.Reason != "navigation timeout" {
		t.Errorf("Reason = %q", f.Reason)
	}
	if want := now.Add(30 * time.Second); !f.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", f.RetryAt, want)
	}

	job.Attempts = 3
	status, _ = svc.Fail(ctx, job, errors.New("navigation timeout"), true)
	if status != StatusFailed {
		t.Errorf("Fail() at max attempts status = %q, want %q", status, StatusFailed)
	}
}

func TestQueueService_RetryDelay(t *testing.T) {
	svc := NewQueueService(newMockStore(), QueueOptions{RetryBase: time.Second, RetryCap: 10 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := svc.RetryDelay(tt.attempts); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestQueueService_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{}).WithClock(fixedClock(now))

	n, err := svc.Cleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Cleanup() = %d, want 2", n)
	}
	if want := now.Add(-7 * 24 * time.Hour); !store.lastCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.lastCutoff, want)
	}

	svc.Cleanup(context.Background(), 48*time.Hour)
	if want := now.Add(-48 * time.Hour); !store.lastCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.lastCutoff, want)
	}
}

func TestQueueService_RequeueStuck(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{}).WithClock(fixedClock(now))

	if _, err := svc.RequeueStuck(context.Background(), 0); err != nil {
		t.Fatalf("RequeueStuck() error = %v", err)
	}
	if want := now.Add(-30 * time.Minute); !store.lastCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.lastCutoff, want)
	}

	svc.RecoverStale(context.Background())
	if !store.lastCutoff.Equal(now) {
		t.Errorf("RecoverStale() cutoff = %v, want %v", store.lastCutoff, now)
	}
}

func TestQueueService_Complete(t *testing.T) {
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{})
	ctx := context.Background()

	job, _ := svc.EnqueueMonitoring(ctx)
	if err := svc.Complete(ctx, job, map[string]int{"requeued": 1}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if string(store.jobs[job.ID].Result) != `{"requeued":1}` {
		t.Errorf("Result = %s", store.jobs[job.ID].Result)
	}
	if err := svc.Complete(ctx, &Job{ID: "missing"}, nil); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Complete(missing) error = %v, want %v", err, ErrJobNotFound)
	}
}

func TestQueueService_OutcomeCarriesClaimAttempt(t *testing.T) {
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{})
	ctx := context.Background()

	job, _ := svc.EnqueueSubmission(ctx, SubmissionPayload{SubmissionID: "sub-1"})
	store.jobs[job.ID].Attempts = 2
	first := *job
	first.Attempts = 1

	if err := svc.Complete(ctx, &first, nil); !errors.Is(err, ErrStaleClaim) {
		t.Errorf("Complete(first claim) error = %v, want %v", err, ErrStaleClaim)
	}
	if _, err := svc.Fail(ctx, &first, errors.New("late"), true); !errors.Is(err, ErrStaleClaim) {
		t.Errorf("Fail(first claim) error = %v, want %v", err, ErrStaleClaim)
	}
	if store.jobs[job.ID].Status != StatusPending {
		t.Errorf("status = %q, want untouched %q", store.jobs[job.ID].Status, StatusPending)
	}
}

// mockSubs implements SubmissionRepository for testing.
type mockSubs struct {
	subs map[string]*Submission
}

func (m *mockSubs) Create(ctx context.Context, s *Submission) error {
	m.subs[s.ID] = s
	return nil
}

func (m *mockSubs) Get(ctx context.Context, id string) (*Submission, error) {
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return s, nil
}

func (m *mockSubs) List(ctx context.Context, limit int) ([]Submission, error) { return nil, nil }

func (m *mockSubs) SetStatus(ctx context.Context, id string, status SubmissionStatus) error {
	m.subs[id].Status = status
	return nil
}

func (m *mockSubs) AppendLog(ctx context.Context, id string, entry ProcessingLog) error {
	m.subs[id].ProcessingLogs = append(m.subs[id].ProcessingLogs, entry)
	return nil
}

func (m *mockSubs) AppendError(ctx context.Context, id string, entry ErrorLog) error { return nil }
func (m *mockSubs) RecordPurchase(ctx context.Context, id, orderID string) error     { return nil }
func (m *mockSubs) RecordConfirmation(ctx context.Context, id, url string) error     { return nil }

func TestQueueService_RetrySubmission(t *testing.T) {
	store := newMockStore()
	svc := NewQueueService(store, QueueOptions{})
	subs := &mockSubs{subs: map[string]*Submission{
		"failed":    {ID: "failed", Status: SubmissionFailed},
		"approval":  {ID: "approval", Status: SubmissionAwaitingApproval},
		"completed": {ID: "completed", Status: SubmissionCompleted},
		"draft":     {ID: "draft", Status: SubmissionDraft},
		"running":   {ID: "running", Status: SubmissionProcessing},
	}}
	ctx := context.Background()

	job, err := svc.RetrySubmission(ctx, subs, "failed", PaymentCredit)
	if err != nil {
		t.Fatalf("RetrySubmission() error = %v", err)
	}
	if job.Type != TypeSubmission || job.MaxAttempts != 3 {
		t.Errorf("job = %+v", job)
	}
	if string(job.Data) != `{"submission_id":"failed","payment_mode":"credit"}` {
		t.Errorf("Data = %s", job.Data)
	}
	if subs.subs["failed"].Status != SubmissionPaid {
		t.Errorf("status = %s, want paid", subs.subs["failed"].Status)
	}
	if logs := subs.subs["failed"].ProcessingLogs; len(logs) != 1 || logs[0].Step != "retry" {
		t.Errorf("logs = %+v", logs)
	}

	if _, err := svc.RetrySubmission(ctx, subs, "approval", ""); err != nil {
		t.Errorf("RetrySubmission(awaiting_approval) error = %v", err)
	}

	for _, id := range []string{"completed", "draft", "running"} {
		if _, err := svc.RetrySubmission(ctx, subs, id, ""); !errors.Is(err, ErrNotRetryable) {
			t.Errorf("RetrySubmission(%s) error = %v, want %v", id, err, ErrNotRetryable)
		}
	}
	if _, err := svc.RetrySubmission(ctx, subs, "missing", ""); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("RetrySubmission(missing) error = %v", err)
	}
	if len(store.jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(store.jobs))
	}
}
