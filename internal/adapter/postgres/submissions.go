package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubmissionStore implements domain.SubmissionRepository on PostgreSQL.
type SubmissionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const submissionColumns = `id, user_id, title, summary, body, location, company,
	contact_name, contact_email, contact_phone, website, industry, package_type,
	release_at, timezone, status, external_order_id, confirmation_url,
	processing_logs, error_logs, created_at, updated_at`

// Create inserts a submission. An empty ID is generated and an empty status defaults to draft.
func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = domain.SubmissionDraft
	}
	now := s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, '[]', '[]', $19, $19)`,
		sub.ID, sub.UserID, sub.Title, sub.Summary, sub.Body, sub.Location, sub.Company,
		sub.ContactName, sub.ContactEmail, sub.ContactPhone, sub.Website, sub.Industry, sub.PackageType,
		sub.ReleaseAt, sub.Timezone, string(sub.Status), sub.ExternalOrderID, sub.ConfirmationURL, now,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get retrieves a submission with its logs.
func (s *SubmissionStore) Get(ctx context.Context, id string) (*domain.Submission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

// List returns the most recently updated submissions.
func (s *SubmissionStore) List(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SetStatus updates the business status.
func (s *SubmissionStore) SetStatus(ctx context.Context, id string, status domain.SubmissionStatus) error {
	return s.update(ctx, `UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), s.now())
}

// AppendLog appends one processing log entry.
func (s *SubmissionStore) AppendLog(ctx context.Context, id string, entry domain.ProcessingLog) error {
	return s.appendJSON(ctx, id, "processing_logs", entry)
}

// AppendError appends one user-visible error entry.
func (s *SubmissionStore) AppendError(ctx context.Context, id string, entry domain.ErrorLog) error {
	return s.appendJSON(ctx, id, "error_logs", entry)
}

// RecordPurchase stores the external order of a successful purchase.
func (s *SubmissionStore) RecordPurchase(ctx context.Context, id, orderID string) error {
	return s.update(ctx, `UPDATE submissions SET external_order_id = $2, updated_at = $3 WHERE id = $1`, id, orderID, s.now())
}

// RecordConfirmation stores the confirmation URL of a published release.
func (s *SubmissionStore) RecordConfirmation(ctx context.Context, id, url string) error {
	return s.update(ctx, `UPDATE submissions SET confirmation_url = $2, updated_at = $3 WHERE id = $1`, id, url, s.now())
}

func (s *SubmissionStore) appendJSON(ctx context.Context, id, column string, entry any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE submissions SET %[1]s = %[1]s || jsonb_build_array($2::jsonb), updated_at = $3 WHERE id = $1`, column)
	return s.update(ctx, q, id, string(data), s.now())
}

func (s *SubmissionStore) update(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var status string
	var logs, errs []byte
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Title, &sub.Summary, &sub.Body, &sub.Location, &sub.Company,
		&sub.ContactName, &sub.ContactEmail, &sub.ContactPhone, &sub.Website, &sub.Industry, &sub.PackageType,
		&sub.ReleaseAt, &sub.Timezone, &status, &sub.ExternalOrderID, &sub.ConfirmationURL,
		&logs, &errs, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubmissionStatus(status)
	if err := json.Unmarshal(logs, &sub.ProcessingLogs); err != nil {
		return nil, fmt.Errorf("decode processing_logs: %w", err)
	}
	if err := json.Unmarshal(errs, &sub.ErrorLogs); err != nil {
		return nil, fmt.Errorf("decode error_logs: %w", err)
	}
	return &sub, nil
}
