package models

import (
	"fmt"
	"time"
)

// Newsletter is a named publication channel with a sender identity.
type Newsletter struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
	Visible     bool      `json:"visible"`
	SendHTML    bool      `json:"send_html"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sender returns the RFC 5322 From address for this newsletter.
func (n *Newsletter) Sender() string {
	return FormatAddress(n.SenderName, n.SenderEmail)
}

// FormatAddress formats a display name and email as "Name <email>".
// The name is optional.
func FormatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
