// Package events publishes journal session lifecycle events.
//
// Publishing is best effort: services log failures and carry on, the
// request that triggered the event never fails because of the broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Event types, also used as queue names.
const (
	SessionCompleted = "journal.session.completed"
	SessionDeleted   = "journal.session.deleted"
)

// Event is the JSON payload published for a session.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Completed int       `json:"completed,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// openChannel dials the broker and returns a channel plus a closer for the
// connection. Replaced in tests.
var openChannel = func(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// AMQPPublisher publishes each event as a persistent JSON message to a
// durable queue named after the event type, via the default exchange.
type AMQPPublisher struct {
	URL string
}

// NewAMQPPublisher returns a publisher for url.
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{URL: url}
}

// Publish implements Publisher. A connection is opened per event; lifecycle
// events are rare (one or two per session).
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	ch, closeConn, err := openChannel(p.URL)
	if err != nil {
		log.Warn().Err(err).Str("event", e.Type).Msg("amqp dial failed")
		return fmt.Errorf("events: dial: %w", err)
	}
	defer func() { _ = closeConn() }()
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(e.Type, true, false, false, false, nil); err != nil {
		log.Warn().Err(err).Str("event", e.Type).Msg("amqp queue declare failed")
		return fmt.Errorf("events: declare %s: %w", e.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", e.Type, false, false, msg); err != nil {
		log.Warn().Err(err).Str("event", e.Type).Msg("amqp publish failed")
		return fmt.Errorf("events: publish %s: %w", e.Type, err)
	}
	return nil
}
