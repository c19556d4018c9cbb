package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a newsletter, message or submission
	// lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSlug is returned when creating a newsletter whose slug
	// is already taken, or a message whose slug collides within its
	// newsletter.
	ErrDuplicateSlug = errors.New("slug already exists")

	// ErrDuplicateSubscription is returned when an email already has a
	// subscription record for a newsletter.
	ErrDuplicateSubscription = errors.New("subscription already exists")

	// ErrAlreadySent is returned when a submission that left the pending
	// state is sent again. A submission is dispatched at most once.
	ErrAlreadySent = errors.New("submission already sent")

	// ErrInvalidActivationCode is returned when an activation code does
	// not match any subscription.
	ErrInvalidActivationCode = errors.New("invalid activation code")
)

// DeliveryError is returned by dispatch when every recipient of a
// submission failed. Partial failure is not an error; it is reported
// through the DeliveryReport instead.
type DeliveryError struct {
	SubmissionID string
	Report       *DeliveryReport
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("submission %s: delivery failed for all %d recipients",
		e.SubmissionID, len(e.Report.Failed))
}
