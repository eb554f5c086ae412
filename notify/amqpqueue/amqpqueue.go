// Package amqpqueue adapts a RabbitMQ queue to the notify.SMSSender
// capability. Texts are published as persistent JSON messages; the SMS
// gateway worker consumes the queue and talks to the carrier.
package amqpqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SMS is the wire shape consumed by the gateway worker.
type SMS struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Publisher is a notify.SMSSender backed by one AMQP channel.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

// New dials the broker and declares the durable queue.
func New(url, queueName string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queueName, err)
	}
	return &Publisher{conn: conn, channel: ch, queue: q}, nil
}

// Send enqueues one text message.
func (p *Publisher) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(SMS{To: to, Body: body})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, "", p.queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish sms: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	_ = p.channel.Close()
	_ = p.conn.Close()
}
