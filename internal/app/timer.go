package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amann-codes/quizbud/internal/domain"
)

// Deadline returns the instant a running test times out. ok is false for
// untimed tests and tests that have not started.
func Deadline(t domain.Test) (time.Time, bool) {
	if t.TimeLimitSec <= 0 || t.StartedAt.IsZero() {
		return time.Time{}, false
	}
	return t.StartedAt.Add(time.Duration(t.TimeLimitSec) * time.Second), true
}

// Remaining derives how much time a session has left. ok is false when the
// test is untimed; a completed or expired test reports zero. The server
// keeps no ticking clock: clients observe remaining=0 and submit a TIMEOUT
// action through the normal ingestion path.
func Remaining(t domain.Test, now time.Time) (time.Duration, bool) {
	deadline, ok := Deadline(t)
	if !ok {
		return 0, false
	}
	if t.Status == domain.StatusCompleted {
		return 0, true
	}
	rem := deadline.Sub(now)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// SweepTimeouts finds IN_PROGRESS tests whose deadline has passed and
// submits a synthetic TIMEOUT action for each through the normal ingestion
// path, so every state change still flows through the reconciliation
// transaction. The idempotency key is derived from the test id, making
// repeated sweeps of the same session safe by construction.
func (s *TestService) SweepTimeouts(ctx context.Context) (int, error) {
	expired, err := s.tests.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, test := range expired {
		deadline, ok := Deadline(test)
		if !ok {
			continue
		}
		action := domain.Action{
			Kind:            domain.ActionTimeout,
			IdempotencyKey:  "timeout:" + test.ID,
			ClientTimestamp: deadline,
		}
		if _, err := s.Ingest(ctx, test.ID, []domain.Action{action}); err != nil {
			return completed, fmt.Errorf("sweep test %s: %w", test.ID, err)
		}
		completed++
	}
	return completed, nil
}

// TimeoutSweeper periodically runs SweepTimeouts. It is the production
// hardening for clients that disappear without submitting their own TIMEOUT.
type TimeoutSweeper struct {
	service  *TestService
	interval time.Duration
}

func NewTimeoutSweeper(service *TestService, interval time.Duration) *TimeoutSweeper {
	return &TimeoutSweeper{service: service, interval: interval}
}

// Run blocks until ctx is done, sweeping on each tick.
func (w *TimeoutSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.service.SweepTimeouts(ctx); err != nil {
				log.Printf("timeout sweep: %v", err)
			} else if n > 0 {
				log.Printf("timeout sweep completed %d session(s)", n)
			}
		}
	}
}
