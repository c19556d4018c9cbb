package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phoebebright/newsletterd/internal/models"
)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message. Returns models.ErrDuplicateSlug if the
// slug is already used within the newsletter.
func (r *MessageRepository) Create(m *models.Message) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO messages (id, newsletter_id, title, slug, body, body_html, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.NewsletterID, m.Title, m.Slug, m.Body, m.BodyHTML, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("message %q: %w", m.Slug, models.ErrDuplicateSlug)
	}
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID returns a message with its articles loaded.
func (r *MessageRepository) GetByID(id string) (*models.Message, error) {
	m := &models.Message{}
	err := r.db.QueryRow(`
		SELECT id, newsletter_id, title, slug, body, body_html, created_at, updated_at
		FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.NewsletterID, &m.Title, &m.Slug, &m.Body, &m.BodyHTML, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	articles, err := r.GetArticles(m.ID)
	if err != nil {
		return nil, err
	}
	m.Articles = articles

	attachments, err := r.GetAttachments(m.ID)
	if err != nil {
		return nil, err
	}
	m.Attachments = attachments
	return m, nil
}

// ListByNewsletter returns the messages of a newsletter, newest first,
// without articles.
func (r *MessageRepository) ListByNewsletter(newsletterID string) ([]models.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, newsletter_id, title, slug, body, body_html, created_at, updated_at
		FROM messages WHERE newsletter_id = ? ORDER BY created_at DESC`, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.ID, &m.NewsletterID, &m.Title, &m.Slug, &m.Body, &m.BodyHTML, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// AddArticle appends an article to a message. When SortOrder is zero
// the next free slot (in gaps of ten) is assigned.
func (r *MessageRepository) AddArticle(a *models.Article) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()

	if a.SortOrder == 0 {
		next, err := r.nextArticleSortOrder(a.MessageID)
		if err != nil {
			return err
		}
		a.SortOrder = next
	}

	_, err := r.db.Exec(`
		INSERT INTO articles (id, message_id, sort_order, title, text, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.SortOrder, a.Title, a.Text, a.URL, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add article: %w", err)
	}
	return nil
}

// GetArticles returns the articles of a message ordered by sort order.
func (r *MessageRepository) GetArticles(messageID string) ([]models.Article, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, sort_order, title, text, COALESCE(url, ''), created_at
		FROM articles WHERE message_id = ? ORDER BY sort_order`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		var a models.Article
		err := rows.Scan(&a.ID, &a.MessageID, &a.SortOrder, &a.Title, &a.Text, &a.URL, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}

	return articles, rows.Err()
}

// AddAttachment stores a file with a message.
func (r *MessageRepository) AddAttachment(a *models.Attachment) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}

	_, err := r.db.Exec(`
		INSERT INTO attachments (id, message_id, filename, content_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.Filename, a.ContentType, a.Data, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add attachment: %w", err)
	}
	return nil
}

// GetAttachments returns the attachments of a message in insertion
// order.
func (r *MessageRepository) GetAttachments(messageID string) ([]models.Attachment, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, filename, content_type, data, created_at
		FROM attachments WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		var a models.Attachment
		err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Data, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

func (r *MessageRepository) nextArticleSortOrder(messageID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(sort_order) FROM articles WHERE message_id = ?`, messageID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if max.Valid {
		return int(max.Int64) + 10, nil
	}
	return 10, nil
}
