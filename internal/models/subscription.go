package models

import "time"

// Subscription links a recipient to a newsletter. The recipient is
// identified by email; UserID optionally carries an opaque reference to
// an identity in the hosting application. A given (newsletter, email)
// pair exists at most once.
type Subscription struct {
	ID           string `json:"id"`
	NewsletterID string `json:"newsletter_id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	IP           string `json:"ip,omitempty"`

	// ActivationCode authorizes subscribe/unsubscribe confirmation for
	// this subscription. Every record carries one: auto-subscribed
	// records skip the confirmation flow but still need the code for
	// their unsubscribe links.
	ActivationCode string `json:"-"`

	Subscribed      bool       `json:"subscribed"`
	SubscribeDate   *time.Time `json:"subscribe_date,omitempty"`
	Unsubscribed    bool       `json:"unsubscribed"`
	UnsubscribeDate *time.Time `json:"unsubscribe_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Recipient returns the RFC 5322 To address for this subscription.
func (s *Subscription) Recipient() string {
	return FormatAddress(s.Name, s.Email)
}
