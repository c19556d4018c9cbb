// Package dispatch delivers submissions to the subscribers of their
// newsletter.
package dispatch

import (
	"context"
	"fmt"
	htmlTemplate "html/template"
	"log/slog"
	"sync"
	"time"

	"github.com/phoebebright/newsletterd/internal/config"
	"github.com/phoebebright/newsletterd/internal/mail"
	"github.com/phoebebright/newsletterd/internal/metrics"
	"github.com/phoebebright/newsletterd/internal/models"
	"github.com/phoebebright/newsletterd/internal/repository"
	"github.com/phoebebright/newsletterd/internal/template"
)

// Deferrer queues a temporarily failed delivery for background retry.
type Deferrer interface {
	Defer(submissionID, recipientID string, msg *mail.Message, lastError string) error
}

// Dispatcher creates submissions and sends them to subscribers.
type Dispatcher struct {
	newsletters   *repository.NewsletterRepository
	messages      *repository.MessageRepository
	submissions   *repository.SubmissionRepository
	subscriptions *repository.SubscriptionRepository
	resolver      *template.Resolver
	engine        *template.Engine
	sender        mail.Sender
	deferrer      Deferrer // may be nil: temporary failures become final
	metrics       *metrics.Metrics
	cfg           config.DeliveryConfig
	baseURL       string
	logger        *slog.Logger
}

// New creates a dispatcher.
func New(
	newsletters *repository.NewsletterRepository,
	messages *repository.MessageRepository,
	submissions *repository.SubmissionRepository,
	subscriptions *repository.SubscriptionRepository,
	resolver *template.Resolver,
	sender mail.Sender,
	deferrer Deferrer,
	m *metrics.Metrics,
	cfg config.DeliveryConfig,
	baseURL string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		newsletters:   newsletters,
		messages:      messages,
		submissions:   submissions,
		subscriptions: subscriptions,
		resolver:      resolver,
		engine:        template.NewEngine(),
		sender:        sender,
		deferrer:      deferrer,
		metrics:       m,
		cfg:           cfg,
		baseURL:       baseURL,
		logger:        logger.With("component", "dispatcher"),
	}
}

// CreateSubmission creates a pending submission for a message. The
// newsletter is taken from the message.
func (d *Dispatcher) CreateSubmission(messageID string, publishDate time.Time) (*models.Submission, error) {
	msg, err := d.messages.GetByID(messageID)
	if err != nil {
		return nil, err
	}

	sub := &models.Submission{
		MessageID:    msg.ID,
		NewsletterID: msg.NewsletterID,
		PublishDate:  publishDate,
	}
	if err := d.submissions.Create(sub); err != nil {
		return nil, err
	}

	d.logger.Info("submission created",
		"submission_id", sub.ID, "message_id", msg.ID, "publish_date", sub.PublishDate)
	return sub, nil
}

// Send dispatches a submission to the current subscribers of its
// newsletter. It runs at most once per submission: a second call (or a
// concurrent one) gets models.ErrAlreadySent.
//
// Delivery is best-effort per recipient. The returned report is valid
// whenever the dispatch itself ran; the error is non-nil only when the
// submission could not be dispatched at all, or when every recipient
// failed (a *models.DeliveryError wrapping the report).
func (d *Dispatcher) Send(ctx context.Context, submissionID string) (*models.DeliveryReport, error) {
	sub, err := d.submissions.GetByID(submissionID)
	if err != nil {
		return nil, err
	}

	// At-most-once gate.
	if err := d.submissions.MarkSending(sub.ID); err != nil {
		return nil, err
	}

	start := time.Now()

	msg, err := d.messages.GetByID(sub.MessageID)
	if err != nil {
		return nil, d.abort(sub.ID, err)
	}
	nl, err := d.newsletters.GetByID(sub.NewsletterID)
	if err != nil {
		return nil, d.abort(sub.ID, err)
	}

	// Recipient set is resolved at send time, not creation time.
	subscribers, err := d.subscriptions.ListSubscribed(nl.ID)
	if err != nil {
		return nil, d.abort(sub.ID, err)
	}

	d.logger.Info("dispatching submission",
		"submission_id", sub.ID, "newsletter", nl.Slug, "recipients", len(subscribers))

	report := &models.DeliveryReport{SubmissionID: sub.ID}

	if len(subscribers) == 0 {
		// Trivially complete; not an error.
		if err := d.submissions.Finish(sub.ID, models.SubmissionSent, report); err != nil {
			return nil, err
		}
		d.observe(nl.Slug, models.SubmissionSent, start)
		return report, nil
	}

	// Resolve the template once; rendering happens per recipient.
	src, err := d.resolver.Resolve(nl.ID, template.ActionMessage)
	if err != nil {
		return nil, d.abort(sub.ID, err)
	}
	if !nl.SendHTML {
		src.HTML = ""
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.cfg.Concurrency)
	)

	for i := range subscribers {
		subscriber := subscribers[i]

		// Pace the send: optional inter-message delay and batch
		// throttling, applied to dispatch order.
		if i > 0 {
			if d.cfg.MessageDelay > 0 {
				time.Sleep(d.cfg.MessageDelay)
			}
			if d.cfg.BatchSize > 0 && i%d.cfg.BatchSize == 0 && d.cfg.BatchDelay > 0 {
				time.Sleep(d.cfg.BatchDelay)
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			failure := d.deliver(ctx, nl, msg, &subscriber, sub.ID, src)

			mu.Lock()
			if failure == nil {
				report.Succeeded++
			} else {
				report.Failed = append(report.Failed, *failure)
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	status := models.SubmissionSent
	if report.Succeeded == 0 && len(report.Failed) > 0 {
		status = models.SubmissionFailed
	}
	if err := d.submissions.Finish(sub.ID, status, report); err != nil {
		return nil, err
	}
	d.observe(nl.Slug, status, start)

	d.logger.Info("submission dispatched",
		"submission_id", sub.ID, "status", status,
		"succeeded", report.Succeeded, "failed", len(report.Failed),
		"duration", time.Since(start))

	if status == models.SubmissionFailed {
		return report, &models.DeliveryError{SubmissionID: sub.ID, Report: report}
	}
	return report, nil
}

// deliver renders and sends the message to one subscriber, records the
// outcome, and returns the failure if any.
func (d *Dispatcher) deliver(ctx context.Context, nl *models.Newsletter, msg *models.Message, subscriber *models.Subscription, submissionID string, src template.Source) *models.RecipientFailure {
	email, err := d.render(nl, msg, subscriber, src)
	if err == nil {
		sendCtx := ctx
		if d.cfg.RecipientTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.cfg.RecipientTimeout)
			defer cancel()
		}
		err = d.sender.Send(sendCtx, email)
	}

	if err == nil {
		d.recordRecipient(submissionID, subscriber.Email, models.RecipientSent, "")
		if d.metrics != nil {
			d.metrics.MessagesSentTotal.WithLabelValues(nl.Slug).Inc()
		}
		return nil
	}

	temporary := email != nil && mail.IsTemporary(err)
	d.logger.Warn("delivery failed",
		"submission_id", submissionID, "to", subscriber.Email,
		"temporary", temporary, "error", err)

	status := models.RecipientFailed
	if temporary && d.deferrer != nil {
		status = models.RecipientDeferred
	}
	recipientID := d.recordRecipient(submissionID, subscriber.Email, status, err.Error())

	if status == models.RecipientDeferred {
		if derr := d.deferrer.Defer(submissionID, recipientID, email, err.Error()); derr != nil {
			d.logger.Error("failed to defer delivery", "to", subscriber.Email, "error", derr)
		} else if d.metrics != nil {
			d.metrics.MessagesDeferredTotal.WithLabelValues(nl.Slug).Inc()
		}
	} else if d.metrics != nil {
		d.metrics.MessagesFailedTotal.WithLabelValues(nl.Slug).Inc()
	}

	return &models.RecipientFailure{
		Email:     subscriber.Email,
		Error:     err.Error(),
		Temporary: temporary,
	}
}

// render produces the outgoing email for one subscriber.
func (d *Dispatcher) render(nl *models.Newsletter, msg *models.Message, subscriber *models.Subscription, src template.Source) (*mail.Message, error) {
	unsubscribeURL := d.unsubscribeURL(subscriber)
	data := map[string]any{
		"newsletter":      nl,
		"message":         msg,
		"subscription":    subscriber,
		"name":            subscriber.Name,
		"email":           subscriber.Email,
		"date":            time.Now(),
		"body_html":       htmlTemplate.HTML(msg.BodyHTML),
		"unsubscribe_url": unsubscribeURL,
	}

	rendered, err := d.engine.Render(src, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render message for %s: %w", subscriber.Email, err)
	}

	out := &mail.Message{
		From:    nl.Sender(),
		To:      subscriber.Recipient(),
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
		Headers: map[string]string{
			"List-Unsubscribe": fmt.Sprintf("<%s>", unsubscribeURL),
		},
	}
	for _, a := range msg.Attachments {
		out.Attachments = append(out.Attachments, mail.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		})
	}
	return out, nil
}

func (d *Dispatcher) unsubscribeURL(subscriber *models.Subscription) string {
	return fmt.Sprintf("%s/u/%s", d.baseURL, subscriber.ActivationCode)
}

// recordRecipient stores the per-recipient outcome row and returns its
// ID.
func (d *Dispatcher) recordRecipient(submissionID, email string, status models.RecipientStatus, errMsg string) string {
	rec := &models.SubmissionRecipient{
		SubmissionID: submissionID,
		Email:        email,
		Status:       status,
		Error:        errMsg,
	}
	if err := d.submissions.AddRecipient(rec); err != nil {
		d.logger.Error("failed to record recipient outcome",
			"submission_id", submissionID, "email", email, "error", err)
	}
	return rec.ID
}

// abort moves a claimed submission to failed state after a setup error
// so it does not stay in sending forever.
func (d *Dispatcher) abort(submissionID string, cause error) error {
	report := &models.DeliveryReport{SubmissionID: submissionID}
	if err := d.submissions.Finish(submissionID, models.SubmissionFailed, report); err != nil {
		d.logger.Error("failed to abort submission", "submission_id", submissionID, "error", err)
	}
	return cause
}

func (d *Dispatcher) observe(newsletter string, status models.SubmissionStatus, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.SubmissionsTotal.WithLabelValues(string(status)).Inc()
	d.metrics.DispatchDurationSeconds.WithLabelValues(newsletter).Observe(time.Since(start).Seconds())
}
