package models

import "time"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	// SubmissionPending means the submission is created but not yet
	// dispatched.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionSending means dispatch is in progress. The transition
	// pending -> sending is the at-most-once gate.
	SubmissionSending SubmissionStatus = "sending"
	// SubmissionSent is terminal: dispatch completed and at least one
	// recipient (or none at all) was delivered.
	SubmissionSent SubmissionStatus = "sent"
	// SubmissionFailed is terminal: dispatch completed and every
	// recipient failed.
	SubmissionFailed SubmissionStatus = "failed"
)

// Submission represents a Message as it is being submitted to the
// subscribers of its newsletter. Delivery happens at most once.
type Submission struct {
	ID           string           `json:"id"`
	MessageID    string           `json:"message_id"`
	NewsletterID string           `json:"newsletter_id"`
	Status       SubmissionStatus `json:"status"`

	// PublishDate schedules the submission; the dispatcher will not
	// pick it up before this time.
	PublishDate time.Time  `json:"publish_date"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	Recipients int `json:"recipients"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientFailure records one recipient a dispatch could not deliver
// to.
type RecipientFailure struct {
	Email     string `json:"email"`
	Error     string `json:"error"`
	Temporary bool   `json:"temporary"`
}

// DeliveryReport aggregates the outcome of one dispatch.
type DeliveryReport struct {
	SubmissionID string             `json:"submission_id"`
	Succeeded    int                `json:"succeeded"`
	Failed       []RecipientFailure `json:"failed"`
}

// Total returns the number of recipients the dispatch attempted.
func (r *DeliveryReport) Total() int {
	return r.Succeeded + len(r.Failed)
}

// RecipientStatus is the delivery state of a single recipient of a
// submission.
type RecipientStatus string

const (
	RecipientSent     RecipientStatus = "sent"
	RecipientFailed   RecipientStatus = "failed"
	RecipientDeferred RecipientStatus = "deferred"
)

// SubmissionRecipient is the per-recipient outcome row recorded during
// dispatch.
type SubmissionRecipient struct {
	ID           string          `json:"id"`
	SubmissionID string          `json:"submission_id"`
	Email        string          `json:"email"`
	Status       RecipientStatus `json:"status"`
	Error        string          `json:"error,omitempty"`
	AttemptedAt  time.Time       `json:"attempted_at"`
}
