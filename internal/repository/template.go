package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phoebebright/newsletterd/internal/models"
)

// EmailTemplate is a stored subject/text/html triple for one action,
// either newsletter-specific or a shared default (NewsletterID empty).
type EmailTemplate struct {
	ID           string
	NewsletterID string
	Action       string
	Subject      string
	Text         string
	HTML         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Upsert stores a template for (newsletter, action), replacing any
// existing one.
func (r *TemplateRepository) Upsert(t *EmailTemplate) error {
	now := time.Now()
	var newsletterID any
	if t.NewsletterID != "" {
		newsletterID = t.NewsletterID
	}

	res, err := r.db.Exec(`
		UPDATE templates SET subject = ?, text = ?, html = ?, updated_at = ?
		WHERE newsletter_id IS ? AND action = ?`,
		t.Subject, t.Text, t.HTML, now, newsletterID, t.Action,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err = r.db.Exec(`
		INSERT INTO templates (id, newsletter_id, action, subject, text, html, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, newsletterID, t.Action, t.Subject, t.Text, t.HTML, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// Resolve returns the template for (newsletter, action), falling back
// to the shared default when the newsletter has no override. Returns
// models.ErrNotFound when neither exists.
func (r *TemplateRepository) Resolve(newsletterID, action string) (*EmailTemplate, error) {
	t, err := r.get(`newsletter_id = ? AND action = ?`, newsletterID, action)
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	t, err = r.get(`newsletter_id IS NULL AND action = ?`, action)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template for action %q: %w", action, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepository) get(where string, args ...any) (*EmailTemplate, error) {
	t := &EmailTemplate{}
	var newsletterID, html sql.NullString
	err := r.db.QueryRow(`
		SELECT id, newsletter_id, action, subject, text, html, created_at, updated_at
		FROM templates WHERE `+where, args...,
	).Scan(&t.ID, &newsletterID, &t.Action, &t.Subject, &t.Text, &html, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.NewsletterID = newsletterID.String
	t.HTML = html.String
	return t, nil
}
