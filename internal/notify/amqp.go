// Package notify delivers invitation payloads to out-of-process channels.
// The engine treats delivery as best effort; implementations here only
// need to hand the message off.
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// inviteMessage is the wire shape consumed by the delivery workers.
type inviteMessage struct {
	Destination string    `json:"destination"`
	Payload     string    `json:"payload"`
	SentAt      time.Time `json:"sent_at"`
}

// AMQPSender publishes invite messages to a RabbitMQ exchange.
type AMQPSender struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPSender dials the broker and declares the exchange, queue and
// binding. Declarations must match the delivery worker's.
func NewAMQPSender(amqpURL, exchange, queue, routingKey string) (*AMQPSender, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPSender{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func (s *AMQPSender) SendInvite(ctx context.Context, destination, payload string) error {
	body, err := json.Marshal(inviteMessage{
		Destination: destination,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.channel.PublishWithContext(ctx,
		s.exchange,
		s.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (s *AMQPSender) Close() {
	s.channel.Close()
	s.conn.Close()
}
