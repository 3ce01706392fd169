package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id::text, type, status, priority, data, result, COALESCE(error, ''),
	attempts, max_attempts, scheduled_at, started_at, completed_at, created_at, updated_at`

// Enqueue inserts a new pending job.
func (s *Store) Enqueue(ctx context.Context, nj domain.NewJob) (*domain.Job, error) {
	now := s.now()
	scheduled := nj.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	data := nj.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, type, status, priority, data, attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
		 RETURNING `+jobColumns,
		uuid.NewString(), string(nj.Type), string(domain.StatusPending), nj.Priority, string(data), nj.MaxAttempts, scheduled, now,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrJobNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch f.Status {
	case "":
	case domain.StatusRetrying:
		where = append(where, "status = "+arg(string(domain.StatusPending))+" AND attempts > 0")
	case domain.StatusPending:
		where = append(where, "status = "+arg(string(domain.StatusPending))+" AND attempts = 0")
	default:
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Type != "" {
		where = append(where, "type = "+arg(string(f.Type)))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
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
// Concurrent claimers skip rows locked by each other.
func (s *Store) ClaimNext(ctx context.Context) (*domain.Job, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'processing', attempts = attempts + 1, started_at = $1, updated_at = $1
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE status = 'pending' AND scheduled_at <= $1
		     ORDER BY priority DESC, scheduled_at ASC, created_at ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now,
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
func (s *Store) MarkCompleted(ctx context.Context, id string, attempt int, result json.RawMessage) error {
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $2, error = NULL, completed_at = $3, updated_at = $3
		 WHERE id::text = $1 AND status = 'processing' AND attempts = $4`,
		id, res, s.now(), attempt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		_, err := s.settled(ctx, id, attempt)
		return err
	}
	return nil
}

// MarkFailed records a failed attempt on a job still processing under the
// claim numbered attempt and returns the stored status.
func (s *Store) MarkFailed(ctx context.Context, id string, attempt int, f domain.Failure) (domain.JobStatus, error) {
	retryAt := f.RetryAt
	now := s.now()
	if retryAt.IsZero() {
		retryAt = now
	}

	var status string
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET
		     status       = CASE WHEN $2::boolean AND attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		     scheduled_at = CASE WHEN $2::boolean AND attempts < max_attempts THEN $3::timestamptz ELSE scheduled_at END,
		     completed_at = CASE WHEN $2::boolean AND attempts < max_attempts THEN NULL ELSE $4::timestamptz END,
		     error        = $5,
		     updated_at   = $4
		 WHERE id::text = $1 AND status = 'processing' AND attempts = $6
		 RETURNING status`,
		id, f.Retry, retryAt, now, f.Reason, attempt,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		job, err := s.settled(ctx, id, attempt)
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

// settled explains a fenced update that matched no row: missing job,
// terminal under this claim, or ErrStaleClaim.
func (s *Store) settled(ctx context.Context, id string, attempt int) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Attempts != attempt || !job.Status.Terminal() {
		return nil, domain.ErrStaleClaim
	}
	return job, nil
}

// Stats counts jobs by reported status and type.
func (s *Store) Stats(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := s.pool.Query(ctx,
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
		var status, typ string
		var n int64
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return nil, err
		}
		counts = append(counts, domain.StatusCount{
			Status: domain.JobStatus(status),
			Type:   domain.JobType(typ),
			Count:  n,
		})
	}
	return counts, rows.Err()
}

// DeleteTerminalBefore removes completed and failed jobs that finished before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RequeueStuck resets jobs processing since before the cutoff. Jobs without
// attempts left are failed instead and returned so their owners can react.
func (s *Store) RequeueStuck(ctx context.Context, startedBefore time.Time) (domain.StuckResult, error) {
	var res domain.StuckResult
	now := s.now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE jobs SET status = 'failed', completed_at = $1, error = $3, updated_at = $1
			 WHERE status = 'processing' AND started_at < $2 AND attempts >= max_attempts
			 RETURNING `+jobColumns,
			now, startedBefore, domain.ErrProcessingTimeout.Error(),
		)
		if err != nil {
			return fmt.Errorf("fail exhausted stuck jobs: %w", err)
		}
		res.Failed, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Job, error) {
			job, err := scanJob(row)
			if err != nil {
				return domain.Job{}, err
			}
			return *job, nil
		})
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'pending', completed_at = NULL, scheduled_at = $1,
			     error = 'requeued after processing timeout', updated_at = $1
			 WHERE status = 'processing' AND started_at < $2`,
			now, startedBefore,
		)
		if err != nil {
			return fmt.Errorf("requeue stuck jobs: %w", err)
		}
		res.Requeued = tag.RowsAffected()
		return nil
	})
	return res, err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var typ, status string
	var data, result []byte
	err := row.Scan(&job.ID, &typ, &status, &job.Priority, &data, &result, &job.Error,
		&job.Attempts, &job.MaxAttempts, &job.ScheduledAt, &job.StartedAt, &job.CompletedAt,
		&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(typ)
	job.Status = domain.JobStatus(status)
	job.Data = json.RawMessage(data)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}
