package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/phoebebright/newsletterd/internal/models"
)

func TestSubscriptionCreateAndGet(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewSubscriptionRepository(conn)

	now := time.Now()
	sub := &models.Subscription{
		NewsletterID:   nl.ID,
		Email:          "alice@example.com",
		Name:           "Alice",
		ActivationCode: "code-1",
		Subscribed:     true,
		SubscribeDate:  &now,
	}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByEmail(nl.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if !got.Subscribed {
		t.Error("GetByEmail().Subscribed = false, want true")
	}
	if got.Recipient() != "Alice <alice@example.com>" {
		t.Errorf("Recipient() = %v", got.Recipient())
	}
}

func TestSubscriptionUniquePerNewsletter(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewSubscriptionRepository(conn)

	sub := &models.Subscription{NewsletterID: nl.ID, Email: "bob@example.com", ActivationCode: "a"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := &models.Subscription{NewsletterID: nl.ID, Email: "bob@example.com", ActivationCode: "b"}
	if err := repo.Create(dup); !errors.Is(err, models.ErrDuplicateSubscription) {
		t.Errorf("Create() error = %v, want ErrDuplicateSubscription", err)
	}

	// Same email on a different newsletter is fine.
	other := createTestNewsletter(t, conn, "daily")
	ok := &models.Subscription{NewsletterID: other.ID, Email: "bob@example.com", ActivationCode: "c"}
	if err := repo.Create(ok); err != nil {
		t.Errorf("Create() on second newsletter error = %v", err)
	}
}

func TestSubscriptionListSubscribed(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewSubscriptionRepository(conn)

	now := time.Now()
	for _, email := range []string{"a@example.com", "b@example.com"} {
		sub := &models.Subscription{
			NewsletterID: nl.ID, Email: email, ActivationCode: email,
			Subscribed: true, SubscribeDate: &now,
		}
		if err := repo.Create(sub); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	// Unsubscribed records are excluded from dispatch.
	sub := &models.Subscription{
		NewsletterID: nl.ID, Email: "gone@example.com", ActivationCode: "gone",
		Unsubscribed: true, UnsubscribeDate: &now,
	}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	subs, err := repo.ListSubscribed(nl.ID)
	if err != nil {
		t.Fatalf("ListSubscribed() error = %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("ListSubscribed() returned %d, want 2", len(subs))
	}

	count, err := repo.CountSubscribed(nl.ID)
	if err != nil {
		t.Fatalf("CountSubscribed() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountSubscribed() = %d, want 2", count)
	}
}

func TestSubscriptionGetByActivationCode(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewSubscriptionRepository(conn)

	sub := &models.Subscription{NewsletterID: nl.ID, Email: "carol@example.com", ActivationCode: "secret"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByActivationCode("secret")
	if err != nil {
		t.Fatalf("GetByActivationCode() error = %v", err)
	}
	if got.Email != "carol@example.com" {
		t.Errorf("GetByActivationCode().Email = %v", got.Email)
	}

	_, err = repo.GetByActivationCode("wrong")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetByActivationCode() error = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionUpdate(t *testing.T) {
	conn := setupTestDB(t)
	nl := createTestNewsletter(t, conn, "weekly")
	repo := NewSubscriptionRepository(conn)

	sub := &models.Subscription{NewsletterID: nl.ID, Email: "dave@example.com", ActivationCode: "x"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now()
	sub.Subscribed = true
	sub.SubscribeDate = &now
	if err := repo.Update(sub); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByEmail(nl.ID, "dave@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if !got.Subscribed {
		t.Error("Update() did not persist subscribed flag")
	}
	if got.SubscribeDate == nil {
		t.Error("Update() did not persist subscribe date")
	}
}
