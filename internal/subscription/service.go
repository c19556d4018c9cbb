// Package subscription implements the subscription lifecycle: opt-in
// with email confirmation, immediate auto-subscription for trusted
// callers, and unsubscription.
package subscription

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phoebebright/newsletterd/internal/mail"
	"github.com/phoebebright/newsletterd/internal/metrics"
	"github.com/phoebebright/newsletterd/internal/models"
	"github.com/phoebebright/newsletterd/internal/repository"
	"github.com/phoebebright/newsletterd/internal/template"
)

// Actions an activation code can confirm.
const (
	ActionSubscribe   = template.ActionSubscribe
	ActionUnsubscribe = template.ActionUnsubscribe
)

// Service manages subscriptions for newsletters.
type Service struct {
	newsletters   *repository.NewsletterRepository
	subscriptions *repository.SubscriptionRepository
	resolver      *template.Resolver
	engine        *template.Engine
	sender        mail.Sender
	metrics       *metrics.Metrics
	baseURL       string
	logger        *slog.Logger
}

// New creates a subscription service. sender may be nil, in which case
// confirmation emails are skipped (useful for imports).
func New(
	newsletters *repository.NewsletterRepository,
	subscriptions *repository.SubscriptionRepository,
	resolver *template.Resolver,
	sender mail.Sender,
	m *metrics.Metrics,
	baseURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		newsletters:   newsletters,
		subscriptions: subscriptions,
		resolver:      resolver,
		engine:        template.NewEngine(),
		sender:        sender,
		metrics:       m,
		baseURL:       baseURL,
		logger:        logger.With("component", "subscription"),
	}
}

// AutoSubscribe subscribes email to the newsletter identified by slug
// without a confirmation round trip. It is idempotent: an existing
// active subscription is returned unchanged, and a previously
// unsubscribed one is reactivated.
func (s *Service) AutoSubscribe(ctx context.Context, slug, email, name, userID string) (*models.Subscription, error) {
	nl, err := s.newsletters.GetBySlug(slug)
	if err != nil {
		return nil, err
	}

	existing, err := s.subscriptions.GetByEmail(nl.ID, email)
	if err == nil {
		if existing.Subscribed {
			return existing, nil
		}
		return s.activate(existing, nl.Slug)
	}
	if !isNotFound(err) {
		return nil, err
	}

	code, err := generateActivationCode()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sub := &models.Subscription{
		NewsletterID:   nl.ID,
		Email:          email,
		Name:           name,
		UserID:         userID,
		ActivationCode: code,
		Subscribed:     true,
		SubscribeDate:  &now,
	}
	if err := s.subscriptions.Create(sub); err != nil {
		if errors.Is(err, models.ErrDuplicateSubscription) {
			// A concurrent call won the insert. Treat ours as the
			// idempotent repeat.
			existing, err := s.subscriptions.GetByEmail(nl.ID, email)
			if err != nil {
				return nil, err
			}
			if existing.Subscribed {
				return existing, nil
			}
			return s.activate(existing, nl.Slug)
		}
		return nil, err
	}

	s.logger.Info("auto-subscribed", "newsletter", nl.Slug, "email", email)
	s.countSubscribe(nl.Slug)
	return sub, nil
}

// Subscribe starts the opt-in flow for email on the newsletter
// identified by slug: a pending subscription is stored and a
// confirmation email with the activation link is sent. Calling it
// again for a pending subscription resends the confirmation; an
// already active subscription is returned as-is.
func (s *Service) Subscribe(ctx context.Context, slug, email, name, ip string) (*models.Subscription, error) {
	nl, err := s.newsletters.GetBySlug(slug)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscriptions.GetByEmail(nl.ID, email)
	switch {
	case err == nil:
		if sub.Subscribed {
			return sub, nil
		}
	case isNotFound(err):
		code, err := generateActivationCode()
		if err != nil {
			return nil, err
		}
		sub = &models.Subscription{
			NewsletterID:   nl.ID,
			Email:          email,
			Name:           name,
			IP:             ip,
			ActivationCode: code,
		}
		if err := s.subscriptions.Create(sub); err != nil {
			if errors.Is(err, models.ErrDuplicateSubscription) {
				sub, err = s.subscriptions.GetByEmail(nl.ID, email)
				if err != nil {
					return nil, err
				}
				if sub.Subscribed {
					return sub, nil
				}
				break
			}
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.sendConfirmation(ctx, nl, sub, ActionSubscribe); err != nil {
		return nil, fmt.Errorf("failed to send confirmation email: %w", err)
	}
	s.logger.Info("subscription requested", "newsletter", nl.Slug, "email", email)
	return sub, nil
}

// Activate confirms a pending action with the activation code from a
// confirmation email. action is ActionSubscribe or ActionUnsubscribe.
func (s *Service) Activate(ctx context.Context, code, action string) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByActivationCode(code)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrInvalidActivationCode
		}
		return nil, err
	}

	nl, err := s.newsletters.GetByID(sub.NewsletterID)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionSubscribe:
		return s.activate(sub, nl.Slug)
	case ActionUnsubscribe:
		return s.deactivate(sub, nl.Slug)
	default:
		return nil, fmt.Errorf("unknown activation action %q", action)
	}
}

// Unsubscribe removes email from the newsletter identified by slug.
// Unsubscribing an address that is not subscribed is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, slug, email string) error {
	nl, err := s.newsletters.GetBySlug(slug)
	if err != nil {
		return err
	}

	sub, err := s.subscriptions.GetByEmail(nl.ID, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if !sub.Subscribed {
		return nil
	}

	_, err = s.deactivate(sub, nl.Slug)
	return err
}

// ListSubscribers returns the active subscriptions of a newsletter.
func (s *Service) ListSubscribers(ctx context.Context, newsletterID string) ([]models.Subscription, error) {
	return s.subscriptions.ListSubscribed(newsletterID)
}

// CountSubscribers returns the number of active subscriptions.
func (s *Service) CountSubscribers(ctx context.Context, newsletterID string) (int, error) {
	return s.subscriptions.CountSubscribed(newsletterID)
}

func (s *Service) activate(sub *models.Subscription, slug string) (*models.Subscription, error) {
	now := time.Now()
	sub.Subscribed = true
	sub.SubscribeDate = &now
	sub.Unsubscribed = false
	if err := s.subscriptions.Update(sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscribed", "newsletter", slug, "email", sub.Email)
	s.countSubscribe(slug)
	return sub, nil
}

func (s *Service) deactivate(sub *models.Subscription, slug string) (*models.Subscription, error) {
	now := time.Now()
	sub.Subscribed = false
	sub.Unsubscribed = true
	sub.UnsubscribeDate = &now
	if err := s.subscriptions.Update(sub); err != nil {
		return nil, err
	}
	s.logger.Info("unsubscribed", "newsletter", slug, "email", sub.Email)
	if s.metrics != nil {
		s.metrics.UnsubscribesTotal.WithLabelValues(slug).Inc()
	}
	return sub, nil
}

func (s *Service) sendConfirmation(ctx context.Context, nl *models.Newsletter, sub *models.Subscription, action string) error {
	if s.sender == nil {
		return nil
	}

	src, err := s.resolver.Resolve(nl.ID, action)
	if err != nil {
		return err
	}

	data := map[string]any{
		"newsletter":     nl,
		"subscription":   sub,
		"name":           sub.Name,
		"email":          sub.Email,
		"activation_url": fmt.Sprintf("%s/a/%s/%s", s.baseURL, action, sub.ActivationCode),
	}
	rendered, err := s.engine.Render(src, data)
	if err != nil {
		return err
	}

	msg := &mail.Message{
		From:    nl.Sender(),
		To:      sub.Recipient(),
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	}
	return s.sender.Send(ctx, msg)
}

func (s *Service) countSubscribe(slug string) {
	if s.metrics != nil {
		s.metrics.SubscribesTotal.WithLabelValues(slug).Inc()
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// generateActivationCode returns a 40 character random hex token.
func generateActivationCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate activation code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
