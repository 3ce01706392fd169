// Package notify delivers transactional email for the queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bravapress/bravapress/internal/domain"
)

// Message is what the mail relay reads from the list.
type Message struct {
	ID           string            `json:"id"`
	From         string            `json:"from,omitempty"`
	To           string            `json:"to"`
	Subject      string            `json:"subject"`
	Template     string            `json:"template"`
	Data         map[string]string `json:"data,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	QueuedAt     time.Time         `json:"queued_at"`
}

// RedisNotifier pushes messages onto a Redis list consumed by the mail relay.
type RedisNotifier struct {
	client *redis.Client
	list   string
	from   string
	now    func() time.Time
}

var _ domain.Notifier = (*RedisNotifier)(nil)

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, password, list, from string) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisWithClient(client, list, from), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, list, from string) *RedisNotifier {
	return &RedisNotifier{client: client, list: list, from: from, now: time.Now}
}

// Send appends one message to the relay list.
func (n *RedisNotifier) Send(ctx context.Context, p domain.NotificationPayload) error {
	msg := Message{
		ID:           uuid.NewString(),
		From:         n.from,
		To:           p.To,
		Subject:      p.Subject,
		Template:     p.Template,
		Data:         p.Data,
		SubmissionID: p.SubmissionID,
		QueuedAt:     n.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := n.client.RPush(ctx, n.list, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", n.list, err)
	}
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

var _ domain.Notifier = (*LogNotifier)(nil)

func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, p domain.NotificationPayload) error {
	n.logger.InfoContext(ctx, "notification",
		"to", p.To,
		"template", p.Template,
		"subject", p.Subject,
		"submission_id", p.SubmissionID,
	)
	return nil
}
