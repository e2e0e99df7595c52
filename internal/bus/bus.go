package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subjects relayed over the bus. One process holds a given physical socket,
// but a notification can originate on any process; these subjects are how
// the originating process reaches sockets it does not hold.
const (
	userSubjectPrefix = "notify:user:"
	roomSubjectPrefix = "notify:room:"
	SubjectPrefs      = "notify:prefs:invalidate"
	SubjectRules      = "notify:rules:reload"
)

// UserSubject is the per-user delivery subject.
func UserSubject(userID string) string {
	return userSubjectPrefix + userID
}

// RoomSubject is the per-room broadcast subject.
func RoomSubject(room string) string {
	return roomSubjectPrefix + room
}

// UserFromSubject extracts the user ID from a per-user subject.
func UserFromSubject(subject string) (string, bool) {
	if strings.HasPrefix(subject, userSubjectPrefix) {
		return subject[len(userSubjectPrefix):], true
	}
	return "", false
}

// RoomFromSubject extracts the room name from a per-room subject.
func RoomFromSubject(subject string) (string, bool) {
	if strings.HasPrefix(subject, roomSubjectPrefix) {
		return subject[len(roomSubjectPrefix):], true
	}
	return "", false
}

// Envelope is the JSON message pushed to clients for a generic notification.
type Envelope struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  string            `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RoomEvent is a room-scoped event (presence updates, domain-specific flows
// such as music requests) relayed between processes.
type RoomEvent struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives one decoded bus message.
type Handler func(subject string, payload []byte)

// Bus is a thin Redis pub/sub wrapper. Payloads are JSON. Delivery is
// at-most-once per subscriber process, which is all the presence layer
// needs: presence is self-correcting on the next heartbeat.
type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies connectivity.
func New(addr, password string, db int, logger *zap.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Bus{client: client, logger: logger}, nil
}

// Publish marshals payload to JSON and publishes it on the subject.
func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bus payload: %w", err)
	}
	if err := b.client.Publish(ctx, subject, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe consumes messages matching the given patterns ("notify:user:*")
// and invokes the handler for each. It blocks until ctx is cancelled, so
// callers run it in its own goroutine.
func (b *Bus) Subscribe(ctx context.Context, handler Handler, patterns ...string) {
	sub := b.client.PSubscribe(ctx, patterns...)
	defer sub.Close() //nolint:errcheck

	b.logger.Info("bus subscriber started", zap.Strings("patterns", patterns))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bus subscriber stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("bus subscription channel closed")
				return
			}
			handler(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
