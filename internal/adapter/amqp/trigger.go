// Package amqp triggers processor ticks from a RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// TickMessage is the body of a trigger message. Consumers run one tick per
// message whatever the body says; the fields are for logs.
type TickMessage struct {
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// TickFunc runs one processor tick.
type TickFunc func(ctx context.Context) error

// Client owns one connection and channel bound to the trigger queue.
type Client struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Dial connects and declares the durable trigger queue.
func Dial(url, queue string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	// One tick at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Client{conn: conn, ch: ch, queue: queue}, nil
}

// PublishTick asks a consumer to run one tick.
func (c *Client) PublishTick(ctx context.Context, source string) error {
	body, err := json.Marshal(TickMessage{Source: source, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.ch.PublishWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
}

// Consume runs tick for every delivery until ctx is done.
func (c *Client) Consume(ctx context.Context, tick TickFunc, logger *slog.Logger) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer
		false, // auto-ack is false. We ack after the tick.
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	logger.Info("consuming tick triggers", "queue", c.queue)
	return serve(ctx, deliveries, tick, logger)
}

var errDeliveriesClosed = errors.New("amqp delivery channel closed")

func serve(ctx context.Context, deliveries <-chan amqp.Delivery, tick TickFunc, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			handle(ctx, d, tick, logger)
		}
	}
}

// handle acks after a tick. A failed tick is dropped, not requeued; the
// next trigger retries the queue anyway.
func handle(ctx context.Context, d amqp.Delivery, tick TickFunc, logger *slog.Logger) {
	var msg TickMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		msg.Source = "unknown"
	}
	l := logger.With("message_id", d.MessageId, "source", msg.Source)

	if err := tick(ctx); err != nil {
		l.Error("triggered tick failed", "error", err)
		if err := d.Nack(false, false); err != nil {
			l.Warn("nack failed", "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		l.Warn("ack failed", "error", err)
	}
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
