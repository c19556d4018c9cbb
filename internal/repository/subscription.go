package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phoebebright/newsletterd/internal/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create inserts a subscription record. Returns
// models.ErrDuplicateSubscription when the (newsletter, email) pair
// already exists.
func (r *SubscriptionRepository) Create(s *models.Subscription) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO subscriptions (id, newsletter_id, email, name, user_id, ip, activation_code,
			subscribed, subscribe_date, unsubscribed, unsubscribe_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.NewsletterID, s.Email, s.Name, s.UserID, s.IP, s.ActivationCode,
		s.Subscribed, s.SubscribeDate, s.Unsubscribed, s.UnsubscribeDate, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("subscription %s to %s: %w", s.Email, s.NewsletterID, models.ErrDuplicateSubscription)
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByEmail returns the subscription of email to a newsletter, or
// models.ErrNotFound.
func (r *SubscriptionRepository) GetByEmail(newsletterID, email string) (*models.Subscription, error) {
	return r.get("newsletter_id = ? AND email = ?", newsletterID, email)
}

// GetByActivationCode returns the subscription matching an activation
// code, or models.ErrNotFound.
func (r *SubscriptionRepository) GetByActivationCode(code string) (*models.Subscription, error) {
	return r.get("activation_code = ?", code)
}

func (r *SubscriptionRepository) get(where string, args ...any) (*models.Subscription, error) {
	s := &models.Subscription{}
	var name, userID, ip sql.NullString
	var subDate, unsubDate sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, newsletter_id, email, name, user_id, ip, activation_code,
			subscribed, subscribe_date, unsubscribed, unsubscribe_date, created_at
		FROM subscriptions WHERE `+where, args...,
	).Scan(&s.ID, &s.NewsletterID, &s.Email, &name, &userID, &ip, &s.ActivationCode,
		&s.Subscribed, &subDate, &s.Unsubscribed, &unsubDate, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	s.Name = name.String
	s.UserID = userID.String
	s.IP = ip.String
	if subDate.Valid {
		s.SubscribeDate = &subDate.Time
	}
	if unsubDate.Valid {
		s.UnsubscribeDate = &unsubDate.Time
	}
	return s, nil
}

// Update persists the mutable subscription state.
func (r *SubscriptionRepository) Update(s *models.Subscription) error {
	_, err := r.db.Exec(`
		UPDATE subscriptions SET name = ?, user_id = ?, activation_code = ?,
			subscribed = ?, subscribe_date = ?, unsubscribed = ?, unsubscribe_date = ?
		WHERE id = ?`,
		s.Name, s.UserID, s.ActivationCode,
		s.Subscribed, s.SubscribeDate, s.Unsubscribed, s.UnsubscribeDate, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ListSubscribed returns the active subscriptions of a newsletter. The
// result order is stable but not meaningful.
func (r *SubscriptionRepository) ListSubscribed(newsletterID string) ([]models.Subscription, error) {
	rows, err := r.db.Query(`
		SELECT id, newsletter_id, email, name, user_id, ip, activation_code,
			subscribed, subscribe_date, unsubscribed, unsubscribe_date, created_at
		FROM subscriptions
		WHERE newsletter_id = ? AND subscribed = 1
		ORDER BY created_at`, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		var s models.Subscription
		var name, userID, ip sql.NullString
		var subDate, unsubDate sql.NullTime
		err := rows.Scan(&s.ID, &s.NewsletterID, &s.Email, &name, &userID, &ip, &s.ActivationCode,
			&s.Subscribed, &subDate, &s.Unsubscribed, &unsubDate, &s.CreatedAt)
		if err != nil {
			return nil, err
		}
		s.Name = name.String
		s.UserID = userID.String
		s.IP = ip.String
		if subDate.Valid {
			s.SubscribeDate = &subDate.Time
		}
		if unsubDate.Valid {
			s.UnsubscribeDate = &unsubDate.Time
		}
		subs = append(subs, s)
	}

	return subs, rows.Err()
}

// CountSubscribed returns the number of active subscriptions of a
// newsletter.
func (r *SubscriptionRepository) CountSubscribed(newsletterID string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM subscriptions WHERE newsletter_id = ? AND subscribed = 1`,
		newsletterID).Scan(&count)
	return count, err
}
