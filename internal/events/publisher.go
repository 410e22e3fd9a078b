// Package events publishes session lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"parking-allocator/internal/parking"
)

const (
	TypeSessionOpened = "session.opened"
	TypeSessionClosed = "session.closed"
)

type Event struct {
	Type        string     `json:"type"`
	SessionID   string     `json:"session_id"`
	LotID       string     `json:"lot_id"`
	SlotNumber  int        `json:"slot_number"`
	Plate       string     `json:"plate"`
	VehicleType string     `json:"vehicle_type"`
	UserID      string     `json:"user_id"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	Fee         float64    `json:"fee"`
}

func newEvent(eventType string, s parking.Session) Event {
	return Event{
		Type:        eventType,
		SessionID:   s.ID,
		LotID:       s.SlotID.LotID,
		SlotNumber:  s.SlotID.Number,
		Plate:       s.Plate,
		VehicleType: string(s.VehicleType),
		UserID:      s.UserID,
		EntryTime:   s.EntryTime,
		ExitTime:    s.ExitTime,
		Fee:         s.Fee,
	}
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends one persistent JSON message per session change to a
// durable queue on the default exchange.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

var _ parking.Observer = (*Publisher)(nil)

// Dial connects to the broker and declares the queue.
func Dial(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare queue %s: %w", queue, err)
	}

	p := newPublisher(ch, queue)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue, now: time.Now}
}

func (p *Publisher) SessionOpened(ctx context.Context, s parking.Session) error {
	return p.Publish(ctx, newEvent(TypeSessionOpened, s))
}

func (p *Publisher) SessionClosed(ctx context.Context, s parking.Session) error {
	return p.Publish(ctx, newEvent(TypeSessionClosed, s))
}

func (p *Publisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         e.Type,
		MessageId:    e.Type + ":" + e.SessionID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
