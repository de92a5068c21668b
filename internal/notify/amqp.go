package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/codr1/courtbook/internal/booking"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes events to a topic exchange. The routing key is the
// event type, so consumers can bind to "booking.*" or to a single type.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       amqpChannel
	closeCh  func() error
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, closeCh: ch.Close, exchange: exchange}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, event booking.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = n.ch.PublishWithContext(ctx, n.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Headers:      amqp.Table{"booking_id": strconv.FormatInt(event.BookingID, 10)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, n.exchange, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	if n.closeCh != nil {
		_ = n.closeCh()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
