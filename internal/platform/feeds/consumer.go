// Package feeds consumes upstream order uploads from an AMQP queue and hands them to ingestion.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrChannelClosed is returned by Run when the broker closes the delivery channel.
var ErrChannelClosed = errors.New("feeds: delivery channel closed")

// Result is the settlement applied to a delivery.
type Result string

const (
	ResultAck     Result = "ack"
	ResultRequeue Result = "requeue"
	ResultReject  Result = "reject"
)

// HandlerFunc processes one delivery and reports how it should be settled.
type HandlerFunc func(ctx context.Context, delivery amqp091.Delivery) Result

// Consumer reads deliveries from one durable queue with manual acknowledgement.
type Consumer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	queue    string
	tag      string
	prefetch int
	logger   *zap.Logger

	closeOnce sync.Once
}

// Dial connects to url, declares queue as durable and applies the prefetch limit.
func Dial(url, queue string, prefetch int, logger *zap.Logger) (*Consumer, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, errors.New("feeds: queue is required")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("feeds: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("feeds: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("feeds: declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("feeds: set qos: %w", err)
	}

	return &Consumer{
		conn:     conn,
		channel:  ch,
		queue:    queue,
		tag:      "picklist-ingest",
		prefetch: prefetch,
		logger:   logger.Named("feeds"),
	}, nil
}

// Run consumes until ctx is cancelled or the channel closes. Deliveries are handled one at a time
// so a batch is never ingested concurrently with itself.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	deliveries, err := c.channel.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("feeds: consume %s: %w", c.queue, err)
	}
	c.logger.Info("feed consumer started", zap.String("queue", c.queue), zap.Int("prefetch", c.prefetch))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("feed consumer stopping")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrChannelClosed
			}
			settle(c.logger, delivery, handle(ctx, delivery))
		}
	}
}

// Ping reports whether the broker connection is still open.
func (c *Consumer) Ping(context.Context) error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return errors.New("feeds: connection closed")
	}
	return nil
}

// Close cancels the consumer and closes the connection.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.channel != nil {
			_ = c.channel.Cancel(c.tag, false)
			_ = c.channel.Close()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func settle(logger *zap.Logger, delivery amqp091.Delivery, result Result) {
	var err error
	switch result {
	case ResultAck:
		err = delivery.Ack(false)
	case ResultRequeue:
		err = delivery.Nack(false, true)
	default:
		err = delivery.Reject(false)
	}
	if err != nil {
		logger.Warn("settle delivery failed", zap.Uint64("delivery_tag", delivery.DeliveryTag), zap.String("result", string(result)), zap.Error(err))
	}
}
