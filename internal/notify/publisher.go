// Package notify relays committed family notifications to the delivery
// broker. Notifications are written by the core inside the same unit of
// work as their cause; this package only ever reads committed rows, so a
// rolled-back state change can never produce a visible message.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// Publisher hands one notification to the delivery side.
type Publisher interface {
	Publish(ctx context.Context, n domain.FamilyNotification) error
	Close() error
}

const exchangeName = "family.notifications"

// AMQPPublisher publishes notifications to a topic exchange, routed by
// notification type.
type AMQPPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel failed: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("exchange declare failed: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, n domain.FamilyNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchangeName, string(n.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   strconv.FormatInt(n.ID, 10),
		Timestamp:   n.CreatedAt,
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
