package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phoebebright/newsletterd/internal/mail"
	"github.com/phoebebright/newsletterd/internal/models"
)

// RecipientStore records the final outcome of a retried delivery.
type RecipientStore interface {
	UpdateRecipientStatus(id string, status models.RecipientStatus, errMsg string) error
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
	BatchSize       int
}

// Processor retries deferred deliveries in the background.
type Processor struct {
	storage       *Storage
	sender        mail.Sender
	store         RecipientStore
	retryInterval time.Duration
	maxRetries    int
	interval      time.Duration
	batchSize     int
	logger        *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor creates a new outbox processor.
func NewProcessor(storage *Storage, sender mail.Sender, store RecipientStore, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}

	return &Processor{
		storage:       storage,
		sender:        sender,
		store:         store,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
		interval:      cfg.ProcessInterval,
		batchSize:     cfg.BatchSize,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Defer queues a failed recipient delivery for a later retry.
func (p *Processor) Defer(submissionID, recipientID string, msg *mail.Message, lastError string) error {
	e := &Entry{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		RecipientID:  recipientID,
		Message:      *msg,
		RetryCount:   0,
		NextAttempt:  time.Now().Add(p.retryInterval),
		LastError:    lastError,
		CreatedAt:    time.Now(),
	}
	return p.storage.Put(e)
}

// Start starts the background retry loop.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("outbox processor started",
		"retry_interval", p.retryInterval, "max_retries", p.maxRetries)
}

// Stop stops the processor gracefully.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.processDue(ctx)
		}
	}
}

// processDue retries every due entry once.
func (p *Processor) processDue(ctx context.Context) {
	entries, err := p.storage.TakeDue(time.Now(), p.batchSize)
	if err != nil {
		p.logger.Error("failed to read outbox", "error", err)
		return
	}

	for i, e := range entries {
		select {
		case <-ctx.Done():
			// TakeDue already removed the batch, so everything not
			// yet attempted must go back.
			p.requeue(entries[i:])
			return
		case <-p.stopCh:
			p.requeue(entries[i:])
			return
		default:
		}

		p.attempt(ctx, e)
	}
}

func (p *Processor) requeue(entries []*Entry) {
	for _, e := range entries {
		if err := p.storage.Put(e); err != nil {
			p.logger.Error("failed to requeue entry", "entry_id", e.ID, "error", err)
		}
	}
}

func (p *Processor) attempt(ctx context.Context, e *Entry) {
	err := p.sender.Send(ctx, &e.Message)
	if err == nil {
		p.logger.Info("deferred delivery succeeded",
			"submission_id", e.SubmissionID, "to", e.Message.To, "retries", e.RetryCount)
		if err := p.store.UpdateRecipientStatus(e.RecipientID, models.RecipientSent, ""); err != nil {
			p.logger.Error("failed to record retry success", "recipient_id", e.RecipientID, "error", err)
		}
		return
	}

	e.RetryCount++
	e.LastError = err.Error()

	if !mail.IsTemporary(err) || e.RetryCount >= p.maxRetries {
		p.logger.Warn("deferred delivery failed permanently",
			"submission_id", e.SubmissionID, "to", e.Message.To,
			"retries", e.RetryCount, "error", err)
		if err := p.store.UpdateRecipientStatus(e.RecipientID, models.RecipientFailed, e.LastError); err != nil {
			p.logger.Error("failed to record retry failure", "recipient_id", e.RecipientID, "error", err)
		}
		return
	}

	// Exponential backoff: interval doubles with each retry.
	e.NextAttempt = time.Now().Add(p.retryInterval << e.RetryCount)
	if err := p.storage.Put(e); err != nil {
		p.logger.Error("failed to requeue entry", "entry_id", e.ID, "error", err)
	}
	p.logger.Debug("delivery deferred again",
		"to", e.Message.To, "retry", e.RetryCount, "next_attempt", e.NextAttempt)
}
