package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/bus"
	"github.com/vowsuite/notify/internal/domain"
)

// Publisher is the piece of the bus the realtime sender needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// RealtimeItem is one recipient's realtime fan-out.
type RealtimeItem struct {
	UserID  string
	Payload domain.RealtimePayload
}

// RealtimeSender publishes per-user envelopes on the bus. The process that
// owns the recipient's socket — any process, not necessarily this one —
// relays the envelope to its local connections. Publishing is the success
// condition here: socket delivery to an offline user is a no-op by design,
// which is why realtime alone is rarely a notification's only channel.
type RealtimeSender struct {
	pub    Publisher
	logger *zap.Logger
}

func NewRealtimeSender(pub Publisher, logger *zap.Logger) *RealtimeSender {
	return &RealtimeSender{pub: pub, logger: logger}
}

func (s *RealtimeSender) Send(ctx context.Context, n *domain.Notification, items []RealtimeItem) []Result {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		env := bus.Envelope{
			Type:      item.Payload.Type,
			ID:        n.ID,
			Title:     item.Payload.Title,
			Body:      item.Payload.Message,
			Priority:  string(n.Priority),
			Timestamp: time.Now().UTC(),
			Metadata:  n.Metadata,
		}
		if err := s.pub.Publish(ctx, bus.UserSubject(item.UserID), env); err != nil {
			s.logger.Warn("realtime publish failed",
				zap.String("notification_id", n.ID),
				zap.String("user_id", item.UserID),
				zap.Error(err),
			)
			results = append(results, failed(item.UserID, domain.ChannelRealtime, 0, err))
			continue
		}
		results = append(results, succeeded(item.UserID, domain.ChannelRealtime, 0))
	}
	return results
}
