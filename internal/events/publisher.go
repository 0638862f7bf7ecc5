package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/model"
)

const (
	// NotificationsQueue receives a copy of every notification log entry.
	NotificationsQueue = "reservation.notifications"
	// PaymentWebhooksQueue carries raw payment webhook payloads.
	PaymentWebhooksQueue = "payment.webhooks"
)

const (
	dialTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second

	// redialBackoff is how long publishes fail fast after the broker could not be reached.
	redialBackoff = 30 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher waits out redialBackoff.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Publisher fans notification log entries out to NotificationsQueue. The connection is
// opened lazily and re-dialed after any failure. After a failed dial, publishes fail fast
// with ErrBrokerUnavailable for redialBackoff instead of queueing behind another dial.
type Publisher struct {
	url    string
	dial   dialFunc
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	ch      channel
	conn    io.Closer
	retryAt time.Time
}

// NewPublisher creates a publisher for the broker at url. Nothing is dialed until the
// first publish.
func NewPublisher(url string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		url:    url,
		dial:   dialAMQP,
		now:    time.Now,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishNotificationLog publishes entry as a persistent JSON message.
func (p *Publisher) PublishNotificationLog(ctx context.Context, entry model.NotificationLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal notification log entry: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    entry.ID.String(),
		Type:         string(entry.NotificationType),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx, "", NotificationsQueue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("publish to %s: %w", NotificationsQueue, err)
	}
	return nil
}

func (p *Publisher) channel() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	if p.now().Before(p.retryAt) {
		return nil, ErrBrokerUnavailable
	}
	ch, conn, err := p.dial(p.url)
	if err != nil {
		p.retryAt = p.now().Add(redialBackoff)
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	if _, err := ch.QueueDeclare(NotificationsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.retryAt = p.now().Add(redialBackoff)
		return nil, fmt.Errorf("declare %s: %w", NotificationsQueue, err)
	}
	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close closes the broker connection, if any.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
