package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
)

// SMSItem is one personalized message in a batched SMS send.
type SMSItem struct {
	UserID  string
	Phone   string
	Payload domain.SMSPayload
}

type smsBatchRequest struct {
	Messages []smsMessage `json:"messages"`
}

type smsMessage struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	Encoding string `json:"encoding"`
}

// SMSSender delivers rendered SMS payloads through an HTTP SMS provider in
// one bulk call per notification. The encoding class rides along so the
// provider can count segments correctly for UCS-2 content.
type SMSSender struct {
	client     *providerClient
	backoff    []time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewSMSSender(baseURL string, timeout time.Duration, backoff []time.Duration, maxRetries int, logger *zap.Logger) *SMSSender {
	return &SMSSender{
		client:     newProviderClient(baseURL, timeout),
		backoff:    backoff,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (s *SMSSender) Send(ctx context.Context, n *domain.Notification, items []SMSItem) []Result {
	if len(items) == 0 {
		return nil
	}

	req := smsBatchRequest{Messages: make([]smsMessage, len(items))}
	for i, item := range items {
		req.Messages[i] = smsMessage{
			To:       item.Phone,
			Text:     item.Payload.Text,
			Encoding: string(item.Payload.Encoding),
		}
	}

	retries, err := withRetry(ctx, s.backoff, s.maxRetries, func() error {
		return s.client.post(ctx, req)
	})

	results := make([]Result, len(items))
	for i, item := range items {
		if err != nil {
			results[i] = failed(item.UserID, domain.ChannelSMS, retries, err)
		} else {
			results[i] = succeeded(item.UserID, domain.ChannelSMS, retries)
		}
	}
	if err != nil {
		s.logger.Warn("sms batch send failed",
			zap.String("notification_id", n.ID),
			zap.Int("recipients", len(items)),
			zap.Int("retries", retries),
			zap.Error(err),
		)
	}
	return results
}
