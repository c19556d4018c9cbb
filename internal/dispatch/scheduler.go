package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/phoebebright/newsletterd/internal/models"
)

// Scheduler periodically dispatches pending submissions whose publish
// date has passed.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(d *Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		dispatcher: d,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.dispatcher.logger.Info("submission scheduler started", "interval", s.interval)
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.dispatcher.logger.Info("submission scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.dispatcher.RunDue(ctx); err != nil {
				s.dispatcher.logger.Error("scheduler pass failed", "error", err)
			}
		}
	}
}

// RunDue dispatches every due submission once and returns how many were
// sent. Submissions claimed by a concurrent dispatcher are skipped.
func (d *Dispatcher) RunDue(ctx context.Context) (int, error) {
	due, err := d.submissions.ListDue(time.Now())
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range due {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		if _, err := d.Send(ctx, sub.ID); err != nil {
			if errors.Is(err, models.ErrAlreadySent) {
				continue
			}
			// Keep going: one bad submission must not block the rest.
			d.logger.Error("failed to dispatch due submission",
				"submission_id", sub.ID, "error", err)
			continue
		}
		sent++
	}

	return sent, nil
}
