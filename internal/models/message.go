package models

import "time"

// Message is one unit of newsletter content. It is authored once and
// sent through a Submission; the message itself records nothing about
// delivery. Slug is unique within its newsletter.
type Message struct {
	ID           string    `json:"id"`
	NewsletterID string    `json:"newsletter_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Body         string    `json:"body"`
	BodyHTML     string    `json:"body_html,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Articles are loaded on demand, ordered by sort order.
	Articles []Article `json:"articles,omitempty"`

	// Attachments are loaded on demand and sent with every copy of
	// the message.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file stored with a Message and attached to each
// outgoing copy. Data travels base64-encoded over the API.
type Attachment struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Article is an ordered section within a Message. Sort orders are
// assigned in gaps of ten so sections can be reordered without
// renumbering.
type Article struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	SortOrder int       `json:"sort_order"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
