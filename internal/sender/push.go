package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/repository"
)

// PushItem is one recipient's push fan-out: every registered subscription
// gets its own provider call, since a push message is addressed to a single
// device token at a time.
type PushItem struct {
	UserID        string
	Subscriptions []*domain.PushSubscription
	Payload       domain.PushPayload
}

type pushRequest struct {
	Endpoint string             `json:"endpoint"`
	Token    string             `json:"token"`
	Payload  domain.PushPayload `json:"payload"`
}

// PushSender delivers push payloads one subscription at a time. A definitive
// "gone" response from the provider prunes the subscription permanently;
// that is a removal, not a retryable failure.
type PushSender struct {
	client     *providerClient
	contacts   repository.ContactRepository
	backoff    []time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewPushSender(
	baseURL string,
	timeout time.Duration,
	contacts repository.ContactRepository,
	backoff []time.Duration,
	maxRetries int,
	logger *zap.Logger,
) *PushSender {
	return &PushSender{
		client:     newProviderClient(baseURL, timeout),
		contacts:   contacts,
		backoff:    backoff,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (s *PushSender) Send(ctx context.Context, n *domain.Notification, items []PushItem) []Result {
	var results []Result
	for _, item := range items {
		results = append(results, s.sendOne(ctx, n, item))
	}
	return results
}

// sendOne attempts every subscription the user has; the user's outcome is
// sent if at least one subscription accepted the payload.
func (s *PushSender) sendOne(ctx context.Context, n *domain.Notification, item PushItem) Result {
	if len(item.Subscriptions) == 0 {
		return Result{
			UserID:  item.UserID,
			Channel: domain.ChannelPush,
			Outcome: domain.OutcomePermanent,
			Detail:  "no push subscriptions registered",
		}
	}

	delivered := 0
	totalRetries := 0
	var lastErr error

	for _, sub := range item.Subscriptions {
		retries, err := withRetry(ctx, s.backoff, s.maxRetries, func() error {
			return s.client.post(ctx, pushRequest{
				Endpoint: sub.Endpoint,
				Token:    sub.Token,
				Payload:  item.Payload,
			})
		})
		totalRetries += retries
		if err == nil {
			delivered++
			continue
		}
		lastErr = err

		if errors.Is(err, errGone) {
			// Definitive gone: prune the subscription so it is never tried again.
			if delErr := s.contacts.DeletePushSubscription(ctx, sub.ID); delErr != nil {
				s.logger.Error("failed to prune gone push subscription",
					zap.String("subscription_id", sub.ID), zap.Error(delErr))
			} else {
				s.logger.Info("pruned gone push subscription",
					zap.String("subscription_id", sub.ID),
					zap.String("user_id", item.UserID),
				)
			}
		}
	}

	if delivered > 0 {
		return succeeded(item.UserID, domain.ChannelPush, totalRetries)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no subscription accepted the payload")
	}
	res := failed(item.UserID, domain.ChannelPush, totalRetries, lastErr)
	s.logger.Warn("push send failed for all subscriptions",
		zap.String("notification_id", n.ID),
		zap.String("user_id", item.UserID),
		zap.Error(lastErr),
	)
	return res
}
