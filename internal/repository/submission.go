package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phoebebright/newsletterd/internal/models"
)

type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create creates a new pending submission.
func (r *SubmissionRepository) Create(s *models.Submission) error {
	s.ID = uuid.New().String()
	s.Status = models.SubmissionPending
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	if s.PublishDate.IsZero() {
		s.PublishDate = s.CreatedAt
	}

	_, err := r.db.Exec(`
		INSERT INTO submissions (id, message_id, newsletter_id, status, publish_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.MessageID, s.NewsletterID, s.Status, s.PublishDate, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// GetByID returns a submission, or models.ErrNotFound.
func (r *SubmissionRepository) GetByID(id string) (*models.Submission, error) {
	s := &models.Submission{}
	var sentAt sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, message_id, newsletter_id, status, publish_date, sent_at,
			recipients, succeeded, failed, created_at, updated_at
		FROM submissions WHERE id = ?`, id,
	).Scan(&s.ID, &s.MessageID, &s.NewsletterID, &s.Status, &s.PublishDate, &sentAt,
		&s.Recipients, &s.Succeeded, &s.Failed, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submission %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		s.SentAt = &sentAt.Time
	}
	return s, nil
}

// MarkSending performs the at-most-once transition pending -> sending.
// Returns models.ErrAlreadySent when the submission has left the
// pending state, so only one caller ever wins the dispatch.
func (r *SubmissionRepository) MarkSending(id string) error {
	res, err := r.db.Exec(`
		UPDATE submissions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.SubmissionSending, time.Now(), id, models.SubmissionPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark submission sending: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either unknown or already claimed; disambiguate for the caller.
		if _, err := r.GetByID(id); err != nil {
			return err
		}
		return models.ErrAlreadySent
	}
	return nil
}

// Finish records the dispatch outcome and moves the submission to its
// terminal state.
func (r *SubmissionRepository) Finish(id string, status models.SubmissionStatus, report *models.DeliveryReport) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE submissions SET status = ?, sent_at = ?, recipients = ?, succeeded = ?, failed = ?, updated_at = ?
		WHERE id = ?`,
		status, now, report.Total(), report.Succeeded, len(report.Failed), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish submission: %w", err)
	}
	return nil
}

// ListDue returns pending submissions whose publish date has passed.
func (r *SubmissionRepository) ListDue(now time.Time) ([]models.Submission, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, newsletter_id, status, publish_date, sent_at,
			recipients, succeeded, failed, created_at, updated_at
		FROM submissions
		WHERE status = ? AND publish_date <= ?
		ORDER BY publish_date`, models.SubmissionPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// ListByNewsletter returns the submissions of a newsletter, newest
// first.
func (r *SubmissionRepository) ListByNewsletter(newsletterID string) ([]models.Submission, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, newsletter_id, status, publish_date, sent_at,
			recipients, succeeded, failed, created_at, updated_at
		FROM submissions WHERE newsletter_id = ? ORDER BY created_at DESC`, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func scanSubmissions(rows *sql.Rows) ([]models.Submission, error) {
	subs := []models.Submission{}
	for rows.Next() {
		var s models.Submission
		var sentAt sql.NullTime
		err := rows.Scan(&s.ID, &s.MessageID, &s.NewsletterID, &s.Status, &s.PublishDate, &sentAt,
			&s.Recipients, &s.Succeeded, &s.Failed, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if sentAt.Valid {
			s.SentAt = &sentAt.Time
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// AddRecipient records the outcome of one recipient delivery attempt.
func (r *SubmissionRepository) AddRecipient(rec *models.SubmissionRecipient) error {
	rec.ID = uuid.New().String()
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO submission_recipients (id, submission_id, email, status, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubmissionID, rec.Email, rec.Status, rec.Error, rec.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record recipient: %w", err)
	}
	return nil
}

// UpdateRecipientStatus updates a recipient row after a background
// retry.
func (r *SubmissionRepository) UpdateRecipientStatus(id string, status models.RecipientStatus, errMsg string) error {
	_, err := r.db.Exec(`
		UPDATE submission_recipients SET status = ?, error = ?, attempted_at = ? WHERE id = ?`,
		status, errMsg, time.Now(), id,
	)
	return err
}

// GetRecipients returns the per-recipient outcomes of a submission.
func (r *SubmissionRepository) GetRecipients(submissionID string) ([]models.SubmissionRecipient, error) {
	rows, err := r.db.Query(`
		SELECT id, submission_id, email, status, COALESCE(error, ''), attempted_at
		FROM submission_recipients WHERE submission_id = ? ORDER BY attempted_at`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []models.SubmissionRecipient{}
	for rows.Next() {
		var rec models.SubmissionRecipient
		err := rows.Scan(&rec.ID, &rec.SubmissionID, &rec.Email, &rec.Status, &rec.Error, &rec.AttemptedAt)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}
