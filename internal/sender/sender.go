package sender

import (
	"context"
	"errors"
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// Result is the terminal descriptor for one recipient on one channel.
// Senders never raise an error that aborts the parent notification's
// processing: every attempt resolves to a Result so the dispatcher can
// continue with sibling channels.
type Result struct {
	UserID  string
	Channel domain.Channel
	Outcome domain.Outcome
	Detail  string
	Retries int
}

func succeeded(userID string, ch domain.Channel, retries int) Result {
	return Result{UserID: userID, Channel: ch, Outcome: domain.OutcomeSent, Retries: retries}
}

func failed(userID string, ch domain.Channel, retries int, err error) Result {
	outcome := domain.OutcomeFailed
	if errors.Is(err, domain.ErrPermanentSendFailure) {
		outcome = domain.OutcomePermanent
	}
	return Result{UserID: userID, Channel: ch, Outcome: outcome, Detail: err.Error(), Retries: retries}
}

// withRetry runs fn with bounded retries and the configured backoff schedule.
// The schedule is clamped at its last entry:
//
//	attempt 0 → backoff[0]
//	attempt 1 → backoff[1]
//	attempt N ≥ len(backoff) → last backoff entry
//
// Permanent failures stop retrying immediately; they will never succeed and
// retrying them only burns provider quota.
func withRetry(ctx context.Context, backoff []time.Duration, maxRetries int, fn func() error) (int, error) {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return attempt, nil
		}
		if errors.Is(err, domain.ErrPermanentSendFailure) {
			return attempt, err
		}
		if attempt >= maxRetries {
			return attempt, err
		}

		idx := attempt
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		delay := time.Duration(0)
		if idx >= 0 && len(backoff) > 0 {
			delay = backoff[idx]
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
