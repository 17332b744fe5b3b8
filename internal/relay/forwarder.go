// internal/relay/forwarder.go
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librelay/internal/logger"
)

// ForwarderConfig tunes the outbox polling loop.
type ForwarderConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is the retry horizon per event. A row that fails this
	// many polling rounds moves to the dead-letter table for operator
	// review; it is never silently dropped.
	MaxAttempts int
	// PublishTimeout bounds one backoff-wrapped publish cycle.
	PublishTimeout time.Duration
}

func (c ForwarderConfig) withDefaults() ForwarderConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 120
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 15 * time.Second
	}
	return c
}

// Forwarder drains the outbox into the durable transport. Rows leave the
// outbox only after the broker acks, so a crash anywhere in the loop at
// worst republishes an event the consumer already handles idempotently.
type Forwarder struct {
	db      *sql.DB
	outbox  *Outbox
	pub     Publisher
	breaker *gobreaker.CircuitBreaker
	cfg     ForwarderConfig
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewForwarder creates a forwarder for the given store's outbox.
func NewForwarder(storeName string, db *sql.DB, pub Publisher, cfg ForwarderConfig, log *logger.Logger) *Forwarder {
	return &Forwarder{
		db:     db,
		outbox: NewOutbox(storeName, db),
		pub:    pub,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "outbox-publisher",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cfg:    cfg.withDefaults(),
		logger: log,
		tracer: otel.Tracer("librelay/relay"),
	}
}

// Run polls the outbox until the context ends.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.ProcessBatch(ctx); err != nil {
				f.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch forwards one locked batch of staged events. Exported so the
// channel-transport deployment and the tests can drive the loop directly.
func (f *Forwarder) ProcessBatch(ctx context.Context) error {
	ctx, span := f.tracer.Start(ctx, "forwarder.process_batch")
	defer span.End()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin forward transaction: %w", err)
	}
	defer tx.Rollback()

	batch, err := f.outbox.lockBatch(ctx, tx, f.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return tx.Commit()
	}
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	for _, p := range batch {
		if err := f.publish(ctx, p.event); err != nil {
			f.logger.Warn("publish failed, event stays staged",
				"event_id", p.event.ID,
				"topic", p.event.Topic,
				"attempts", p.attempts+1,
				"error", err,
			)
			if p.attempts+1 >= f.cfg.MaxAttempts {
				f.logger.Error("retry horizon exceeded, dead-lettering event",
					"event_id", p.event.ID, "attempts", p.attempts+1)
				if err := f.outbox.deadLetterTx(ctx, tx, p, "publish retry horizon exceeded"); err != nil {
					return err
				}
				continue
			}
			if err := f.outbox.bumpAttempts(ctx, tx, p.rowID); err != nil {
				return err
			}
			continue
		}
		if err := f.outbox.deleteRow(ctx, tx, p.rowID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit forward transaction: %w", err)
	}
	return nil
}

// publish runs one breaker-guarded, backoff-retried publish cycle.
func (f *Forwarder) publish(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.PublishTimeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := f.breaker.Execute(func() (interface{}, error) {
			return nil, f.pub.Publish(ctx, event)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			// No point burning the whole publish window against an open
			// breaker; the row stays staged for the next poll.
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(expo))
	return err
}
