package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/google/uuid"
)

// SubmissionStore implements domain.SubmissionRepository on the same database as the jobs.
type SubmissionStore struct {
	db  *sql.DB
	now func() time.Time
}

// Submissions returns the submission repository sharing this connection.
func (r *Repository) Submissions() *SubmissionStore {
	return &SubmissionStore{db: r.db, now: r.now}
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
	now := s.now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', '[]', ?, ?)`,
		sub.ID, sub.UserID, sub.Title, sub.Summary, sub.Body, sub.Location, sub.Company,
		sub.ContactName, sub.ContactEmail, sub.ContactPhone, sub.Website, sub.Industry, sub.PackageType,
		nullTime(sub.ReleaseAt), sub.Timezone, sub.Status, sub.ExternalOrderID, sub.ConfirmationURL,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get retrieves a submission with its logs.
func (s *SubmissionStore) Get(ctx context.Context, id string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

// List returns the most recently updated submissions.
func (s *SubmissionStore) List(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions ORDER BY updated_at DESC LIMIT ?`, limit)
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
	return s.update(ctx, `UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`, status, s.stamp(), id)
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
	return s.update(ctx, `UPDATE submissions SET external_order_id = ?, updated_at = ? WHERE id = ?`, orderID, s.stamp(), id)
}

// RecordConfirmation stores the confirmation URL of a published release.
func (s *SubmissionStore) RecordConfirmation(ctx context.Context, id, url string) error {
	return s.update(ctx, `UPDATE submissions SET confirmation_url = ?, updated_at = ? WHERE id = ?`, url, s.stamp(), id)
}

// appendJSON appends in a single statement so concurrent writers never drop entries.
func (s *SubmissionStore) appendJSON(ctx context.Context, id, column string, entry any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE submissions SET %[1]s = json_insert(%[1]s, '$[#]', json(?)), updated_at = ? WHERE id = ?`, column)
	return s.update(ctx, q, string(data), s.stamp(), id)
}

func (s *SubmissionStore) update(ctx context.Context, q string, args ...any) error {
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (s *SubmissionStore) stamp() string {
	return formatTime(s.now())
}

func scanSubmission(row scanner) (*domain.Submission, error) {
	var sub domain.Submission
	var status, logs, errs, created, updated string
	var releaseAt sql.NullString
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Title, &sub.Summary, &sub.Body, &sub.Location, &sub.Company,
		&sub.ContactName, &sub.ContactEmail, &sub.ContactPhone, &sub.Website, &sub.Industry, &sub.PackageType,
		&releaseAt, &sub.Timezone, &status, &sub.ExternalOrderID, &sub.ConfirmationURL,
		&logs, &errs, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubmissionStatus(status)
	sub.ReleaseAt = parseNullTime(releaseAt)
	sub.CreatedAt = parseTime(created)
	sub.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(logs), &sub.ProcessingLogs); err != nil {
		return nil, fmt.Errorf("decode processing_logs: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &sub.ErrorLogs); err != nil {
		return nil, fmt.Errorf("decode error_logs: %w", err)
	}
	return &sub, nil
}
