package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/payment"
)

// WebhookProcessor handles one raw webhook payload.
type WebhookProcessor interface {
	HandlePayload(ctx context.Context, payload []byte) error
}

// WebhookConsumer feeds payment webhooks from PaymentWebhooksQueue to a processor, one
// at a time.
type WebhookConsumer struct {
	url       string
	processor WebhookProcessor
	logger    zerolog.Logger
}

// NewWebhookConsumer creates a consumer for PaymentWebhooksQueue.
func NewWebhookConsumer(url string, processor WebhookProcessor, logger zerolog.Logger) *WebhookConsumer {
	return &WebhookConsumer{
		url:       url,
		processor: processor,
		logger:    logger.With().Str("component", "webhook_consumer").Logger(),
	}
}

// Run consumes until ctx is done, reconnecting with exponential backoff.
func (c *WebhookConsumer) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Failed to dial broker")
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("Consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *WebhookConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(1, 0, false); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to set QoS")
	}
	if _, err := ch.QueueDeclare(PaymentWebhooksQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := ch.Consume(PaymentWebhooksQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.Info().Str("queue", PaymentWebhooksQueue).Msg("Consuming payment webhooks")
	return c.drain(ctx, deliveries)
}

func (c *WebhookConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle acknowledges processed and malformed messages. A failed message is requeued
// once; a redelivered failure is dropped.
func (c *WebhookConsumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.processor.HandlePayload(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, payment.ErrInvalidWebhook):
		c.logger.Warn().Err(err).Str("message_id", d.MessageId).Msg("Rejecting malformed payment webhook")
		_ = d.Nack(false, false)
	default:
		c.logger.Error().Err(err).Str("message_id", d.MessageId).Bool("redelivered", d.Redelivered).Msg("Payment webhook processing failed")
		_ = d.Nack(false, !d.Redelivered)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
