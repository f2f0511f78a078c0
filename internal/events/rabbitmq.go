package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ owns a broker connection and one channel.
type RabbitMQ struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	URL        string
}

func NewRabbitMQ(url string) *RabbitMQ {
	return &RabbitMQ{URL: url}
}

// Connect dials the broker and declares exchange as a durable topic exchange.
func (r *RabbitMQ) Connect(exchange string) error {
	conn, err := amqp.Dial(r.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq declare exchange %s: %w", exchange, err)
	}

	r.Connection = conn
	r.Channel = ch

	return nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.Connection != nil {
		r.Connection.Close()
	}
}

// RabbitMQPublisher publishes settled events as persistent JSON messages.
type RabbitMQPublisher struct {
	channel    Channel
	exchange   string
	routingKey string
	now        func() time.Time
}

func NewRabbitMQPublisher(ch Channel, exchange, routingKey string) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

// PublishSettled implements Publisher.
func (p *RabbitMQPublisher) PublishSettled(ctx context.Context, event SettledEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("PublishSettled: encoding event %s: %w", event.TransactionID, err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    p.now().UTC(),
			Headers: amqp.Table{
				"event_type":     TypeSettled,
				"transaction_id": event.TransactionID,
				"status":         string(event.Status),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("PublishSettled: publish event %s: %w", event.TransactionID, err)
	}

	return nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)
