package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/google/uuid"
)

const jobColumns = `id, type, status, priority, data, COALESCE(result, ''), COALESCE(error, ''),
	attempts, max_attempts, scheduled_at, started_at, completed_at, created_at, updated_at`

// Enqueue inserts a new pending job.
func (r *Repository) Enqueue(ctx context.Context, nj domain.NewJob) (*domain.Job, error) {
	now := r.now()
	scheduled := nj.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	data := nj.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, priority, data, attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		id, nj.Type, domain.StatusPending, nj.Priority, string(data), nj.MaxAttempts,
		formatTime(scheduled), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return r.Get(ctx, id)
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns jobs matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	var where []string
	var args []any
	switch f.Status {
	case "":
	case domain.StatusRetrying:
		where = append(where, "status = ? AND attempts > 0")
		args = append(args, domain.StatusPending)
	case domain.StatusPending:
		where = append(where, "status = ? AND attempts = 0")
		args = append(args, domain.StatusPending)
	default:
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimNext atomically claims the highest-priority eligible job.
// It returns nil when no job is eligible.
func (r *Repository) ClaimNext(ctx context.Context) (*domain.Job, error) {
	now := r.stamp()
	row := r.db.QueryRowContext(ctx,
		`UPDATE jobs
		 SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE status = ? AND scheduled_at <= ?
		     ORDER BY priority DESC, scheduled_at ASC, created_at ASC
		     LIMIT 1
		 ) AND status = ?
		 RETURNING `+jobColumns,
		domain.StatusProcessing, now, now,
		domain.StatusPending, now, domain.StatusPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted marks a job completed if it is still processing under the
// claim numbered attempt. Repeated calls for the same claim are no-ops.
func (r *Repository) MarkCompleted(ctx context.Context, id string, attempt int, result json.RawMessage) error {
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	now := r.stamp()
	out, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, error = NULL, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND attempts = ?`,
		domain.StatusCompleted, res, now, now, id, domain.StatusProcessing, attempt,
	)
	if err != nil {
		return err
	}
	affected, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err := r.settled(ctx, id, attempt)
		return err
	}
	return nil
}

// MarkFailed records a failed attempt on a job still processing under the
// claim numbered attempt and returns the stored status. Repeated calls for
// a claim that already ended terminally return that status unchanged.
func (r *Repository) MarkFailed(ctx context.Context, id string, attempt int, f domain.Failure) (domain.JobStatus, error) {
	retry := 0
	if f.Retry {
		retry = 1
	}
	retryAt := f.RetryAt
	if retryAt.IsZero() {
		retryAt = r.now()
	}
	now := r.stamp()

	var status string
	err := r.db.QueryRowContext(ctx,
		`UPDATE jobs SET
		     status       = CASE WHEN ?1 = 1 AND attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		     scheduled_at = CASE WHEN ?1 = 1 AND attempts < max_attempts THEN ?2 ELSE scheduled_at END,
		     completed_at = CASE WHEN ?1 = 1 AND attempts < max_attempts THEN NULL ELSE ?3 END,
		     error        = ?4,
		     updated_at   = ?3
		 WHERE id = ?5 AND status = 'processing' AND attempts = ?6
		 RETURNING status`,
		retry, formatTime(retryAt), now, f.Reason, id, attempt,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		job, err := r.settled(ctx, id, attempt)
		if err != nil {
			return "", err
		}
		return job.Status, nil
	}
	if err != nil {
		return "", err
	}
	return domain.JobStatus(status), nil
}

// settled explains a fenced update that matched no row. The job is missing,
// already terminal under this claim, or taken over by a requeue or a newer
// claim (ErrStaleClaim).
func (r *Repository) settled(ctx context.Context, id string, attempt int) (*domain.Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Attempts != attempt || !job.Status.Terminal() {
		return nil, domain.ErrStaleClaim
	}
	return job, nil
}

// Stats counts jobs by reported status and type.
func (r *Repository) Stats(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT CASE WHEN status = 'pending' AND attempts > 0 THEN 'retrying' ELSE status END AS reported,
		        type, COUNT(*)
		 FROM jobs GROUP BY reported, type ORDER BY reported, type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.StatusCount
	for rows.Next() {
		var c domain.StatusCount
		var status, typ string
		if err := rows.Scan(&status, &typ, &c.Count); err != nil {
			return nil, err
		}
		c.Status = domain.JobStatus(status)
		c.Type = domain.JobType(typ)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DeleteTerminalBefore removes completed and failed jobs that finished before cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs
		 WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		domain.StatusCompleted, domain.StatusFailed, formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RequeueStuck resets jobs processing since before the cutoff. Jobs without
// attempts left are failed instead and returned so their owners can react.
func (r *Repository) RequeueStuck(ctx context.Context, startedBefore time.Time) (domain.StuckResult, error) {
	var res domain.StuckResult
	now, cutoff := r.stamp(), formatTime(startedBefore)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`UPDATE jobs SET status = 'failed', completed_at = ?1, error = ?3, updated_at = ?1
		 WHERE status = 'processing' AND started_at < ?2 AND attempts >= max_attempts
		 RETURNING `+jobColumns,
		now, cutoff, domain.ErrProcessingTimeout.Error(),
	)
	if err != nil {
		return res, fmt.Errorf("fail exhausted stuck jobs: %w", err)
	}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return res, err
		}
		res.Failed = append(res.Failed, *job)
	}
	if err := rows.Close(); err != nil {
		return res, err
	}
	if err := rows.Err(); err != nil {
		return res, err
	}

	out, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', completed_at = NULL, scheduled_at = ?1,
		     error = 'requeued after processing timeout', updated_at = ?1
		 WHERE status = 'processing' AND started_at < ?2`,
		now, cutoff,
	)
	if err != nil {
		return res, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	if res.Requeued, err = out.RowsAffected(); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var typ, status, data, result, scheduled, created, updated string
	var started, completed sql.NullString
	err := row.Scan(&job.ID, &typ, &status, &job.Priority, &data, &result, &job.Error,
		&job.Attempts, &job.MaxAttempts, &scheduled, &started, &completed, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(typ)
	job.Status = domain.JobStatus(status)
	job.Data = json.RawMessage(data)
	if result != "" {
		job.Result = json.RawMessage(result)
	}
	job.ScheduledAt = parseTime(scheduled)
	job.StartedAt = parseNullTime(started)
	job.CompletedAt = parseNullTime(completed)
	job.CreatedAt = parseTime(created)
	job.UpdatedAt = parseTime(updated)
	return &job, nil
}
