package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/phoebebright/newsletterd/internal/models"
)

// NewsletterRepository is the newsletter registry.
type NewsletterRepository struct {
	db *sql.DB
}

func NewNewsletterRepository(db *sql.DB) *NewsletterRepository {
	return &NewsletterRepository{db: db}
}

// Create creates a new newsletter. Returns models.ErrDuplicateSlug if
// the slug is already taken.
func (r *NewsletterRepository) Create(n *models.Newsletter) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO newsletters (id, title, slug, sender_email, sender_name, visible, send_html, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Slug, n.SenderEmail, n.SenderName, n.Visible, n.SendHTML, n.CreatedAt, n.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("newsletter %q: %w", n.Slug, models.ErrDuplicateSlug)
	}
	if err != nil {
		return fmt.Errorf("failed to create newsletter: %w", err)
	}
	return nil
}

// GetBySlug returns a newsletter by slug. Returns models.ErrNotFound if
// no such slug exists.
func (r *NewsletterRepository) GetBySlug(slug string) (*models.Newsletter, error) {
	return r.get("slug = ?", slug)
}

// GetByID returns a newsletter by ID.
func (r *NewsletterRepository) GetByID(id string) (*models.Newsletter, error) {
	return r.get("id = ?", id)
}

func (r *NewsletterRepository) get(where string, arg any) (*models.Newsletter, error) {
	n := &models.Newsletter{}
	err := r.db.QueryRow(`
		SELECT id, title, slug, sender_email, sender_name, visible, send_html, created_at, updated_at
		FROM newsletters WHERE `+where, arg,
	).Scan(&n.ID, &n.Title, &n.Slug, &n.SenderEmail, &n.SenderName, &n.Visible, &n.SendHTML, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("newsletter %v: %w", arg, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// List returns all newsletters, newest first.
func (r *NewsletterRepository) List() ([]models.Newsletter, error) {
	rows, err := r.db.Query(`
		SELECT id, title, slug, sender_email, sender_name, visible, send_html, created_at, updated_at
		FROM newsletters ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	newsletters := []models.Newsletter{}
	for rows.Next() {
		var n models.Newsletter
		err := rows.Scan(&n.ID, &n.Title, &n.Slug, &n.SenderEmail, &n.SenderName,
			&n.Visible, &n.SendHTML, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, err
		}
		newsletters = append(newsletters, n)
	}

	return newsletters, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
