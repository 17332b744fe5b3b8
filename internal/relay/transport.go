// internal/relay/transport.go
package relay

import (
	"context"
)

// Publisher hands an event to the durable transport. Implementations return
// ErrPublishUnavailable (wrapped) when the broker cannot take the event; the
// forwarder keeps the row staged and retries.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Delivery is one at-least-once event delivery. Ack removes the message from
// the transport; Nack returns it for redelivery when requeue is true and
// discards it otherwise.
type Delivery struct {
	Event   Event
	Ack     func() error
	Nack    func(requeue bool) error
}

// Source is the consuming side of the durable transport.
type Source interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// ChannelTransport is an in-process transport with at-least-once semantics:
// nacked deliveries are requeued. It backs tests and single-process
// deployments; production uses the AMQP transport.
type ChannelTransport struct {
	queue chan Event
}

// NewChannelTransport creates an in-process transport with the given buffer.
func NewChannelTransport(buffer int) *ChannelTransport {
	return &ChannelTransport{queue: make(chan Event, buffer)}
}

// Publish enqueues the event, failing when the buffer is full rather than
// blocking a caller's write path.
func (t *ChannelTransport) Publish(ctx context.Context, event Event) error {
	select {
	case t.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrPublishUnavailable
	}
}

// Consume delivers events until the context ends. Redelivery via Nack goes
// back onto the same queue.
func (t *ChannelTransport) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-t.queue:
				if !ok {
					return
				}
				d := Delivery{
					Event: event,
					Ack:   func() error { return nil },
					Nack: func(requeue bool) error {
						if !requeue {
							return nil
						}
						select {
						case t.queue <- event:
						case <-ctx.Done():
						}
						return nil
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
