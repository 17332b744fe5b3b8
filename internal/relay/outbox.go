// internal/relay/outbox.go
package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outbox is the durable staging area for mutation events, living in the same
// database as the primary writes it describes. Appending in the caller's
// transaction is what closes the "write succeeded but event lost" window.
type Outbox struct {
	db     *sql.DB
	store  string
	tracer trace.Tracer
}

// NewOutbox binds an outbox to a named store's database.
func NewOutbox(store string, db *sql.DB) *Outbox {
	return &Outbox{
		db:     db,
		store:  store,
		tracer: otel.Tracer("librelay/relay"),
	}
}

// AppendTx assigns the event's per-entity sequence number and stages it,
// inside the caller-owned transaction that holds the primary write. The
// sequence row is updated under the same transaction, so publish order per
// correlation UUID equals commit order.
func (o *Outbox) AppendTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	ctx, span := o.tracer.Start(ctx, "outbox.append",
		trace.WithAttributes(
			attribute.String("event.topic", string(event.Topic)),
			attribute.String("event.action", string(event.Action)),
			attribute.String("entity.uuid", event.Entity.String()),
		),
	)
	defer span.End()

	var seq uint64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO entity_sequences (entity_uuid, next_seq)
		VALUES ($1, 1)
		ON CONFLICT (entity_uuid) DO UPDATE
		SET next_seq = entity_sequences.next_seq + 1
		RETURNING next_seq
	`, event.Entity).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocate sequence for %s: %w", event.Entity, err)
	}
	event.Seq = seq
	event.Origin = o.store
	event.PublishedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, action, entity_uuid, seq, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.Topic, event.Action, event.Entity, event.Seq, []byte(event.Payload))
	if err != nil {
		return fmt.Errorf("stage event %s: %w", event.ID, err)
	}

	span.SetAttributes(attribute.Int64("event.seq", int64(seq)))
	return nil
}

// pending is an outbox row awaiting publication.
type pending struct {
	rowID    int64
	attempts int
	event    Event
}

// lockBatch selects the oldest unpublished rows, skipping rows another
// forwarder holds.
func (o *Outbox) lockBatch(ctx context.Context, tx *sql.Tx, limit int) ([]pending, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, topic, action, entity_uuid, seq, payload, attempts, created_at
		FROM outbox
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("lock outbox batch: %w", err)
	}
	defer rows.Close()

	var batch []pending
	for rows.Next() {
		var p pending
		var payload []byte
		if err := rows.Scan(
			&p.rowID,
			&p.event.ID,
			&p.event.Topic,
			&p.event.Action,
			&p.event.Entity,
			&p.event.Seq,
			&payload,
			&p.attempts,
			&p.event.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		p.event.Payload = json.RawMessage(payload)
		p.event.Origin = o.store
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return batch, nil
}

func (o *Outbox) deleteRow(ctx context.Context, tx *sql.Tx, rowID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = $1`, rowID); err != nil {
		return fmt.Errorf("delete outbox row %d: %w", rowID, err)
	}
	return nil
}

func (o *Outbox) bumpAttempts(ctx context.Context, tx *sql.Tx, rowID int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, rowID); err != nil {
		return fmt.Errorf("bump outbox row %d: %w", rowID, err)
	}
	return nil
}

// deadLetterTx moves an outbox row to the dead-letter table in the same
// transaction. The event is preserved for operator replay, never dropped.
func (o *Outbox) deadLetterTx(ctx context.Context, tx *sql.Tx, p pending, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deadletter (event_id, topic, action, entity_uuid, seq, payload, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, p.event.ID, p.event.Topic, p.event.Action, p.event.Entity, p.event.Seq, []byte(p.event.Payload), reason)
	if err != nil {
		return fmt.Errorf("dead-letter event %s: %w", p.event.ID, err)
	}
	return o.deleteRow(ctx, tx, p.rowID)
}

// Depth reports the number of staged events. Exposed for operational checks.
func (o *Outbox) Depth(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox depth on store %q: %w", o.store, err)
	}
	return n, nil
}

// DeadLetter records an unprocessable event on the consumer side.
type DeadLetter struct {
	db    *sql.DB
	store string
}

// NewDeadLetter binds a dead-letter sink to a named store's database.
func NewDeadLetter(store string, db *sql.DB) *DeadLetter {
	return &DeadLetter{db: db, store: store}
}

// Record preserves the event with the failure reason.
func (d *DeadLetter) Record(ctx context.Context, event Event, reason string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO deadletter (event_id, topic, action, entity_uuid, seq, payload, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.ID, event.Topic, event.Action, event.Entity, event.Seq, []byte(event.Payload), reason)
	if err != nil {
		return fmt.Errorf("dead-letter event %s on store %q: %w", event.ID, d.store, err)
	}
	return nil
}

// progress tracks the highest applied sequence per correlation UUID in the
// replay target store.
type progress struct {
	db *sql.DB
}

func newProgress(db *sql.DB) *progress {
	return &progress{db: db}
}

// applied returns the last applied sequence for an entity, zero if none.
func (p *progress) applied(ctx context.Context, entity uuid.UUID) (uint64, error) {
	var seq uint64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT applied_seq FROM replay_progress WHERE entity_uuid = $1), 0
		)
	`, entity).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read replay progress for %s: %w", entity, err)
	}
	return seq, nil
}

// advance records seq as applied for the entity. Monotonic: a stale writer
// can never move progress backwards.
func (p *progress) advance(ctx context.Context, entity uuid.UUID, seq uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO replay_progress (entity_uuid, applied_seq)
		VALUES ($1, $2)
		ON CONFLICT (entity_uuid) DO UPDATE
		SET applied_seq = EXCLUDED.applied_seq
		WHERE replay_progress.applied_seq < EXCLUDED.applied_seq
	`, entity, seq)
	if err != nil {
		return fmt.Errorf("advance replay progress for %s: %w", entity, err)
	}
	return nil
}
