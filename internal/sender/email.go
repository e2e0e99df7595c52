package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
)

// EmailItem is one personalized message in a batched email send.
type EmailItem struct {
	UserID  string
	Address string
	Payload domain.EmailPayload
}

type emailBatchRequest struct {
	Messages []emailMessage `json:"messages"`
}

type emailMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	PlainText string `json:"plain_text"`
}

// EmailSender delivers rendered email payloads through an HTTP email
// provider. The transport supports bulk send, so all recipients of one
// notification go out in a single provider call; the whole batch shares one
// retry budget and one outcome.
type EmailSender struct {
	client     *providerClient
	backoff    []time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewEmailSender(baseURL string, timeout time.Duration, backoff []time.Duration, maxRetries int, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		client:     newProviderClient(baseURL, timeout),
		backoff:    backoff,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (s *EmailSender) Send(ctx context.Context, n *domain.Notification, items []EmailItem) []Result {
	if len(items) == 0 {
		return nil
	}

	req := emailBatchRequest{Messages: make([]emailMessage, len(items))}
	for i, item := range items {
		req.Messages[i] = emailMessage{
			To:        item.Address,
			Subject:   item.Payload.Subject,
			HTML:      item.Payload.HTML,
			PlainText: item.Payload.PlainText,
		}
	}

	retries, err := withRetry(ctx, s.backoff, s.maxRetries, func() error {
		return s.client.post(ctx, req)
	})

	results := make([]Result, len(items))
	for i, item := range items {
		if err != nil {
			results[i] = failed(item.UserID, domain.ChannelEmail, retries, err)
		} else {
			results[i] = succeeded(item.UserID, domain.ChannelEmail, retries)
		}
	}
	if err != nil {
		s.logger.Warn("email batch send failed",
			zap.String("notification_id", n.ID),
			zap.Int("recipients", len(items)),
			zap.Int("retries", retries),
			zap.Error(err),
		)
	}
	return results
}
