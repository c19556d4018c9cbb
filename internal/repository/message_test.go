package repository

import (
	"errors"
	"testing"

	"github.com/phoebebright/newsletterd/internal/models"
)

func TestMessageCreateAndGet(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewMessageRepository(conn)

	msg := &models.Message{
		NewsletterID: nl.ID,
		Title:        "Issue 1",
		Slug:         "issue-1",
		Body:         "plain text",
		BodyHTML:     "<p>html</p>",
	}
	if err := repo.Create(msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Issue 1" || got.Body != "plain text" {
		t.Errorf("GetByID() = %+v", got)
	}
}

func TestMessageDuplicateSlugWithinNewsletter(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewMessageRepository(conn)

	if err := repo.Create(&models.Message{NewsletterID: nl.ID, Title: "A", Slug: "issue-1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(&models.Message{NewsletterID: nl.ID, Title: "B", Slug: "issue-1"})
	if !errors.Is(err, models.ErrDuplicateSlug) {
		t.Errorf("Create() error = %v, want ErrDuplicateSlug", err)
	}

	// Same slug on another newsletter is allowed.
	other := createTestNewsletter(t, conn, "daily")
	if err := repo.Create(&models.Message{NewsletterID: other.ID, Title: "C", Slug: "issue-1"}); err != nil {
		t.Errorf("Create() on second newsletter error = %v", err)
	}
}

func TestMessageGetUnknown(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewMessageRepository(conn)

	_, err := repo.GetByID("nonexistent")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestArticleSortOrder(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewMessageRepository(conn)

	msg := &models.Message{NewsletterID: nl.ID, Title: "Issue 1", Slug: "issue-1"}
	if err := repo.Create(msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first := &models.Article{MessageID: msg.ID, Title: "First", Text: "a"}
	second := &models.Article{MessageID: msg.ID, Title: "Second", Text: "b"}
	for _, a := range []*models.Article{first, second} {
		if err := repo.AddArticle(a); err != nil {
			t.Fatalf("AddArticle() error = %v", err)
		}
	}

	if first.SortOrder != 10 || second.SortOrder != 20 {
		t.Errorf("sort orders = %d, %d, want 10, 20", first.SortOrder, second.SortOrder)
	}

	got, err := repo.GetByID(msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Articles) != 2 || got.Articles[0].Title != "First" {
		t.Errorf("Articles = %+v", got.Articles)
	}
}

func TestMessageAttachments(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewMessageRepository(conn)

	msg := &models.Message{NewsletterID: nl.ID, Title: "Issue 1", Slug: "issue-1"}
	if err := repo.Create(msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	a := &models.Attachment{
		MessageID: msg.ID,
		Filename:  "agenda.pdf",
		Data:      []byte("%PDF-1.4"),
	}
	if err := repo.AddAttachment(a); err != nil {
		t.Fatalf("AddAttachment() error = %v", err)
	}
	if a.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want default", a.ContentType)
	}

	got, err := repo.GetByID(msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(got.Attachments))
	}
	if got.Attachments[0].Filename != "agenda.pdf" || string(got.Attachments[0].Data) != "%PDF-1.4" {
		t.Errorf("Attachments[0] = %+v", got.Attachments[0])
	}
}
