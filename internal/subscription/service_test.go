package subscription

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/phoebebright/newsletterd/internal/db"
	"github.com/phoebebright/newsletterd/internal/mail"
	"github.com/phoebebright/newsletterd/internal/metrics"
	"github.com/phoebebright/newsletterd/internal/models"
	"github.com/phoebebright/newsletterd/internal/repository"
	"github.com/phoebebright/newsletterd/internal/template"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*mail.Message
}

func (s *recordingSender) Send(ctx context.Context, msg *mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func setupService(t *testing.T) (*Service, *repository.SubscriptionRepository, *recordingSender) {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	newsletters := repository.NewNewsletterRepository(conn)
	if err := newsletters.Create(&models.Newsletter{
		Title:       "Events",
		Slug:        "events",
		SenderEmail: "events@example.com",
		SenderName:  "Events Team",
		Visible:     true,
	}); err != nil {
		t.Fatalf("Create() newsletter error = %v", err)
	}

	subs := repository.NewSubscriptionRepository(conn)
	sender := &recordingSender{}
	svc := New(
		newsletters, subs,
		template.NewResolver(repository.NewTemplateRepository(conn)),
		sender, metrics.New(),
		"https://news.example.com",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return svc, subs, sender
}

func TestAutoSubscribe(t *testing.T) {
	svc, _, sender := setupService(t)
	ctx := context.Background()

	sub, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "User", "u-1")
	if err != nil {
		t.Fatalf("AutoSubscribe() error = %v", err)
	}
	if !sub.Subscribed {
		t.Error("subscription not active")
	}
	if sub.SubscribeDate == nil {
		t.Error("SubscribeDate not set")
	}
	if sub.UserID != "u-1" {
		t.Errorf("UserID = %q", sub.UserID)
	}
	if len(sender.sent) != 0 {
		t.Errorf("auto-subscribe sent %d emails, want 0", len(sender.sent))
	}
}

func TestAutoSubscribeIdempotent(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "User", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() error = %v", err)
	}
	second, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "User", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() repeat error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat created a new subscription: %s != %s", second.ID, first.ID)
	}

	list, err := svc.ListSubscribers(ctx, first.NewsletterID)
	if err != nil {
		t.Fatalf("ListSubscribers() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d subscriptions, want 1", len(list))
	}
}

// TestAutoSubscribeConcurrent races several callers for the same
// address. Losers of the insert race must fall back to the record the
// winner created instead of surfacing the unique-constraint error.
func TestAutoSubscribeConcurrent(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	newsletters := repository.NewNewsletterRepository(database.DB)
	nl := &models.Newsletter{
		Title:       "Events",
		Slug:        "events",
		SenderEmail: "events@example.com",
		SenderName:  "Events Team",
		Visible:     true,
	}
	if err := newsletters.Create(nl); err != nil {
		t.Fatalf("Create() newsletter error = %v", err)
	}

	subs := repository.NewSubscriptionRepository(database.DB)
	svc := New(
		newsletters, subs,
		template.NewResolver(repository.NewTemplateRepository(database.DB)),
		nil, metrics.New(),
		"https://news.example.com",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	const callers = 8
	start := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.AutoSubscribe(context.Background(), "events", "race@example.com", "Racer", "")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("AutoSubscribe() error = %v", err)
		}
	}
	if n, err := subs.CountSubscribed(nl.ID); err != nil || n != 1 {
		t.Errorf("CountSubscribed() = %d, %v, want 1 subscription", n, err)
	}
}

func TestAutoSubscribeUnknownNewsletter(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.AutoSubscribe(context.Background(), "missing", "user@example.com", "", "")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("AutoSubscribe() error = %v, want ErrNotFound", err)
	}
}

func TestAutoSubscribeReactivates(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	sub, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() error = %v", err)
	}
	if err := svc.Unsubscribe(ctx, "events", "user@example.com"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	again, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() after unsubscribe error = %v", err)
	}
	if again.ID != sub.ID {
		t.Errorf("reactivation created a new subscription")
	}
	if !again.Subscribed || again.Unsubscribed {
		t.Errorf("subscription not reactivated: %+v", again)
	}
}

func TestSubscribeSendsConfirmation(t *testing.T) {
	svc, _, sender := setupService(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "events", "user@example.com", "User", "192.0.2.1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.Subscribed {
		t.Error("opt-in subscription active before confirmation")
	}
	if sub.ActivationCode == "" {
		t.Fatal("no activation code assigned")
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "User <user@example.com>" {
		t.Errorf("To = %q", msg.To)
	}
	wantURL := "https://news.example.com/a/subscribe/" + sub.ActivationCode
	if !strings.Contains(msg.Text, wantURL) {
		t.Errorf("confirmation email missing activation link %s:\n%s", wantURL, msg.Text)
	}
}

func TestSubscribeThenActivate(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	activated, err := svc.Activate(ctx, sub.ActivationCode, ActionSubscribe)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if !activated.Subscribed {
		t.Error("subscription not active after confirmation")
	}
	if activated.SubscribeDate == nil {
		t.Error("SubscribeDate not set")
	}
}

func TestActivateInvalidCode(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Activate(context.Background(), "bogus", ActionSubscribe)
	if !errors.Is(err, models.ErrInvalidActivationCode) {
		t.Errorf("Activate() error = %v, want ErrInvalidActivationCode", err)
	}
}

func TestActivateUnsubscribe(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	sub, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() error = %v", err)
	}

	got, err := svc.Activate(ctx, sub.ActivationCode, ActionUnsubscribe)
	if err != nil {
		t.Fatalf("Activate(unsubscribe) error = %v", err)
	}
	if got.Subscribed || !got.Unsubscribed {
		t.Errorf("subscription still active: %+v", got)
	}
	if got.UnsubscribeDate == nil {
		t.Error("UnsubscribeDate not set")
	}
}

func TestUnsubscribe(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	sub, err := svc.AutoSubscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("AutoSubscribe() error = %v", err)
	}

	if err := svc.Unsubscribe(ctx, "events", "user@example.com"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	list, err := svc.ListSubscribers(ctx, sub.NewsletterID)
	if err != nil {
		t.Fatalf("ListSubscribers() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d active subscriptions, want 0", len(list))
	}
}

func TestUnsubscribeUnknownEmail(t *testing.T) {
	svc, _, _ := setupService(t)

	// Unsubscribing an address that never subscribed is not an error.
	if err := svc.Unsubscribe(context.Background(), "events", "stranger@example.com"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil", err)
	}
}

func TestSubscribeResendsPendingConfirmation(t *testing.T) {
	svc, _, sender := setupService(t)
	ctx := context.Background()

	first, err := svc.Subscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	second, err := svc.Subscribe(ctx, "events", "user@example.com", "", "")
	if err != nil {
		t.Fatalf("Subscribe() repeat error = %v", err)
	}
	if second.ID != first.ID {
		t.Error("repeat subscribe created a new record")
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent %d emails, want 2 (confirmation resent)", len(sender.sent))
	}

	// Once active, subscribe is a no-op and sends nothing further.
	if _, err := svc.Activate(ctx, first.ActivationCode, ActionSubscribe); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if _, err := svc.Subscribe(ctx, "events", "user@example.com", "", ""); err != nil {
		t.Fatalf("Subscribe() on active error = %v", err)
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent %d emails, want still 2", len(sender.sent))
	}
}

func TestCountSubscribers(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	var newsletterID string
	for _, email := range []string{"a@example.com", "b@example.com"} {
		sub, err := svc.AutoSubscribe(ctx, "events", email, "", "")
		if err != nil {
			t.Fatalf("AutoSubscribe() error = %v", err)
		}
		newsletterID = sub.NewsletterID
	}

	n, err := svc.CountSubscribers(ctx, newsletterID)
	if err != nil {
		t.Fatalf("CountSubscribers() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountSubscribers() = %d, want 2", n)
	}
}
