// internal/relay/amqp.go
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"librelay/internal/logger"
)

// AMQPTransport carries events over a durable queue with persistent
// deliveries and manual acknowledgement.
type AMQPTransport struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *logger.Logger
}

// NewAMQPTransport connects to the broker and declares the durable queue.
// The broker may still be starting; connection attempts are retried.
func NewAMQPTransport(url, queue string, log *logger.Logger) (*AMQPTransport, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("amqp connect failed, retrying", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}

	return &AMQPTransport{conn: conn, channel: ch, queue: queue, logger: log}, nil
}

// Publish sends the event as a persistent message.
func (t *AMQPTransport) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	err = t.channel.PublishWithContext(ctx,
		"",      // default exchange
		t.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    event.ID.String(),
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return errors.Join(ErrPublishUnavailable, err)
	}
	return nil
}

// Consume delivers queued events with manual ack. Messages that fail to
// decode are rejected without requeue; the consumer dead-letters by event
// content, so an undecodable body has nowhere better to go than the broker's
// own discard path.
func (t *AMQPTransport) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := t.channel.ConsumeWithContext(ctx, t.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %q: %w", t.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					t.logger.Error("dropping undecodable message", "message_id", msg.MessageId, "error", err)
					msg.Nack(false, false)
					continue
				}

				d := Delivery{
					Event: event,
					Ack:   func() error { return msg.Ack(false) },
					Nack:  func(requeue bool) error { return msg.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the channel and connection.
func (t *AMQPTransport) Close() error {
	if err := t.channel.Close(); err != nil {
		t.conn.Close()
		return err
	}
	return t.conn.Close()
}
