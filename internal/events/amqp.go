package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewAMQPPublisher connects to the broker and declares the durable topic
// exchange events are published to.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}
	return &amqpPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if msg.Meta.ID == "" {
		msg.Meta.ID = uuid.NewString()
	}
	if msg.Meta.Time.IsZero() {
		msg.Meta.Time = time.Now().UTC()
	}
	cid := msg.Meta.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msg.Meta.ID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		p.log.Info("published", slog.String("key", key), slog.String("exchange", p.exchange))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, key string, msg Envelope) error { return nil }
func (NoopPublisher) Close() error                                                { return nil }
