// internal/relay/consumer.go
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librelay/internal/domain"
	"librelay/internal/logger"
	"librelay/internal/repository"
	"librelay/internal/store"
)

// ConsumerConfig tunes the replay loop.
type ConsumerConfig struct {
	Workers        int
	HandlerTimeout time.Duration
	// MaxRedeliveries is the bounded wait for out-of-order events: an
	// event redelivered this many times (usually a sequence gap that never
	// fills) moves to the dead-letter table.
	MaxRedeliveries int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = 25
	}
	return c
}

// sequenceLog tracks per-entity applied sequence numbers in a replay target.
type sequenceLog interface {
	applied(ctx context.Context, entity uuid.UUID) (uint64, error)
	advance(ctx context.Context, entity uuid.UUID, seq uint64) error
}

// deadLetterSink preserves events the consumer gives up on.
type deadLetterSink interface {
	Record(ctx context.Context, event Event, reason string) error
}

// target is one replay destination: a named store with its repositories and
// progress bookkeeping.
type target struct {
	name       string
	books      *repository.Books
	users      *repository.Users
	borrows    *repository.Borrows
	progress   sequenceLog
	deadletter deadLetterSink
}

// Consumer replays mutation events against every configured store except the
// event's origin. Workers are sharded by correlation UUID, so events for one
// entity are applied strictly in sequence while distinct entities replay in
// parallel. Handlers are idempotent: redelivery after a timeout or a crash
// between apply and progress advance converges to the same state.
type Consumer struct {
	source  Source
	targets []*target
	cfg     ConsumerConfig
	logger  *logger.Logger
	tracer  trace.Tracer

	mu           sync.Mutex
	redeliveries map[uuid.UUID]int
}

// NewConsumer creates a consumer replaying into the given stores.
func NewConsumer(source Source, cfg ConsumerConfig, log *logger.Logger, stores ...*store.Store) *Consumer {
	var targets []*target
	for _, s := range stores {
		books := repository.NewBooks(repository.ReadPrimaryOnly, s.Books)
		targets = append(targets, &target{
			name:       s.Name,
			books:      books,
			users:      repository.NewUsers(repository.ReadPrimaryOnly, s.Users),
			borrows:    repository.NewBorrows(repository.ReadPrimaryOnly, books, s.Borrows),
			progress:   newProgress(s.DB),
			deadletter: NewDeadLetter(s.Name, s.DB),
		})
	}
	return newConsumer(source, cfg, log, targets)
}

func newConsumer(source Source, cfg ConsumerConfig, log *logger.Logger, targets []*target) *Consumer {
	return &Consumer{
		source:       source,
		targets:      targets,
		cfg:          cfg.withDefaults(),
		logger:       log,
		tracer:       otel.Tracer("librelay/relay"),
		redeliveries: make(map[uuid.UUID]int),
	}
}

// Run consumes deliveries until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(ctx)
	if err != nil {
		return fmt.Errorf("open event source: %w", err)
	}

	// One channel per worker; an entity's events always land on the same
	// worker, which is what keeps per-UUID ordering under parallelism.
	shards := make([]chan Delivery, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan Delivery)
		wg.Add(1)
		go func(ch <-chan Delivery) {
			defer wg.Done()
			for d := range ch {
				c.Handle(ctx, d)
			}
		}(shards[i])
	}

	for d := range deliveries {
		shards[c.shard(d.Event.Entity)] <- d
	}
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	return nil
}

func (c *Consumer) shard(entity uuid.UUID) int {
	h := fnv.New32a()
	h.Write(entity[:])
	return int(h.Sum32() % uint32(c.cfg.Workers))
}

// Handle processes one delivery and settles it with the transport.
func (c *Consumer) Handle(ctx context.Context, d Delivery) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "consumer.handle",
		trace.WithAttributes(
			attribute.String("event.topic", string(d.Event.Topic)),
			attribute.String("event.action", string(d.Event.Action)),
			attribute.String("entity.uuid", d.Event.Entity.String()),
			attribute.Int64("event.seq", int64(d.Event.Seq)),
		),
	)
	defer span.End()

	err := c.process(ctx, d.Event)
	switch {
	case err == nil:
		c.clearRedeliveries(d.Event.ID)
		if err := d.Ack(); err != nil {
			c.logger.Error("ack failed", "event_id", d.Event.ID, "error", err)
		}

	case errors.Is(err, ErrUnknownEvent):
		// Unroutable for everyone; park it and move on.
		c.logger.Error("unknown event dead-lettered",
			"event_id", d.Event.ID, "topic", d.Event.Topic, "action", d.Event.Action)
		c.deadLetter(ctx, d, err.Error())

	case errors.Is(err, ErrSequenceGap):
		c.requeue(ctx, d, err)

	default:
		// Transient store failure, handler timeout, and the like: lean on
		// at-least-once redelivery.
		c.logger.Warn("replay failed, requeueing",
			"event_id", d.Event.ID, "error", err)
		c.requeue(ctx, d, err)
	}
}

func (c *Consumer) requeue(ctx context.Context, d Delivery, cause error) {
	c.mu.Lock()
	c.redeliveries[d.Event.ID]++
	n := c.redeliveries[d.Event.ID]
	c.mu.Unlock()

	if n >= c.cfg.MaxRedeliveries {
		c.logger.Error("redelivery horizon exceeded, dead-lettering event",
			"event_id", d.Event.ID, "redeliveries", n, "cause", cause)
		c.deadLetter(ctx, d, fmt.Sprintf("redelivery horizon exceeded: %v", cause))
		return
	}
	if err := d.Nack(true); err != nil {
		c.logger.Error("nack failed", "event_id", d.Event.ID, "error", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, d Delivery, reason string) {
	c.clearRedeliveries(d.Event.ID)
	for _, t := range c.targets {
		if t.name == d.Event.Origin {
			continue
		}
		if err := t.deadletter.Record(ctx, d.Event, reason); err != nil {
			c.logger.Error("dead-letter write failed",
				"event_id", d.Event.ID, "store", t.name, "error", err)
			if err := d.Nack(true); err != nil {
				c.logger.Error("nack failed", "event_id", d.Event.ID, "error", err)
			}
			return
		}
		break
	}
	if err := d.Ack(); err != nil {
		c.logger.Error("ack failed", "event_id", d.Event.ID, "error", err)
	}
}

func (c *Consumer) clearRedeliveries(id uuid.UUID) {
	c.mu.Lock()
	delete(c.redeliveries, id)
	c.mu.Unlock()
}

// process applies the event to every non-origin target, honoring per-entity
// sequence order in each.
func (c *Consumer) process(ctx context.Context, event Event) error {
	if err := c.route(event); err != nil {
		return err
	}

	for _, t := range c.targets {
		if t.name == event.Origin {
			continue
		}

		applied, err := t.progress.applied(ctx, event.Entity)
		if err != nil {
			return err
		}
		if event.Seq <= applied {
			// Redelivered duplicate: already in effect, ack and move on.
			continue
		}
		if event.Seq > applied+1 {
			return errors.Join(ErrSequenceGap,
				fmt.Errorf("entity %s: got seq %d, applied %d", event.Entity, event.Seq, applied))
		}

		if err := c.apply(ctx, t, event); err != nil {
			return err
		}
		if err := t.progress.advance(ctx, event.Entity, event.Seq); err != nil {
			return err
		}
	}
	return nil
}

// route validates the (topic, action) pair against the closed event set.
func (c *Consumer) route(event Event) error {
	switch event.Topic {
	case TopicBooks, TopicEnrolls, TopicBorrows:
	default:
		return errors.Join(ErrUnknownEvent, fmt.Errorf("topic %q", event.Topic))
	}
	switch event.Action {
	case ActionAdd, ActionRemove:
	default:
		return errors.Join(ErrUnknownEvent, fmt.Errorf("action %q", event.Action))
	}
	return nil
}

// apply dispatches one event against one target store. Every branch is a
// no-op when the target already reflects the event.
func (c *Consumer) apply(ctx context.Context, t *target, event Event) error {
	switch event.Topic {
	case TopicBooks:
		switch event.Action {
		case ActionAdd:
			var book domain.Book
			if err := json.Unmarshal(event.Payload, &book); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("book payload: %w", err))
			}
			return t.books.Add(ctx, &book)
		case ActionRemove:
			var p RemovePayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("remove payload: %w", err))
			}
			_, err := t.books.Remove(ctx, p.EntityUUID)
			return err
		}

	case TopicEnrolls:
		switch event.Action {
		case ActionAdd:
			var user domain.User
			if err := json.Unmarshal(event.Payload, &user); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("user payload: %w", err))
			}
			return t.users.Enroll(ctx, &user)
		case ActionRemove:
			var p RemovePayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("remove payload: %w", err))
			}
			_, err := t.users.Remove(ctx, p.EntityUUID)
			return err
		}

	case TopicBorrows:
		switch event.Action {
		case ActionAdd:
			var record domain.BorrowRecord
			if err := json.Unmarshal(event.Payload, &record); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("borrow payload: %w", err))
			}
			if _, err := t.books.Get(ctx, record.BookUUID); errors.Is(err, domain.ErrNotFound) {
				// The book never reached this store; apply the record
				// anyway and flag the divergence for reconciliation.
				c.logger.Error("replay conflict: borrow for unknown book",
					"store", t.name, "book_uuid", record.BookUUID, "record_uuid", record.UUID,
					"error", ErrReplayConflict)
			}
			return t.borrows.Create(ctx, &record)
		case ActionRemove:
			var p RemovePayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return errors.Join(ErrUnknownEvent, fmt.Errorf("remove payload: %w", err))
			}
			return t.borrows.Close(ctx, p.EntityUUID, p.BookUUID)
		}
	}
	return errors.Join(ErrUnknownEvent, fmt.Errorf("%s/%s", event.Topic, event.Action))
}
