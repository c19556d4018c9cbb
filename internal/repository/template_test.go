package repository

import (
	"errors"
	"testing"

	"github.com/phoebebright/newsletterd/internal/models"
)

func TestTemplateResolveFallback(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewTemplateRepository(conn)

	// Shared default for the message action.
	def := &EmailTemplate{Action: "message", Subject: "default subject", Text: "default body"}
	if err := repo.Upsert(def); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.Resolve(nl.ID, "message")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Subject != "default subject" {
		t.Errorf("Resolve() fell back to %q", got.Subject)
	}

	// Newsletter-specific override wins.
	override := &EmailTemplate{NewsletterID: nl.ID, Action: "message", Subject: "weekly subject", Text: "weekly body"}
	if err := repo.Upsert(override); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err = repo.Resolve(nl.ID, "message")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Subject != "weekly subject" {
		t.Errorf("Resolve() = %q, want newsletter override", got.Subject)
	}
}

func TestTemplateUpsertReplaces(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewTemplateRepository(conn)

	if err := repo.Upsert(&EmailTemplate{Action: "subscribe", Subject: "v1", Text: "t"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Upsert(&EmailTemplate{Action: "subscribe", Subject: "v2", Text: "t"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.Resolve("", "subscribe")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Subject != "v2" {
		t.Errorf("Resolve().Subject = %q, want v2", got.Subject)
	}
}

func TestTemplateResolveMissing(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewTemplateRepository(conn)

	_, err := repo.Resolve("", "unsubscribe")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}
