// internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

// Schema is applied to every named store. Store-local numeric IDs are
// BIGSERIAL and never leave the store; correlation UUIDs carry all
// cross-store references. The partial unique index on open borrow records is
// the storage-level backstop for the single-open-record invariant.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	book_id BIGSERIAL PRIMARY KEY,
	book_uuid UUID NOT NULL UNIQUE,
	title TEXT NOT NULL,
	publisher TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	availability_status BOOLEAN NOT NULL DEFAULT TRUE,
	created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	user_id BIGSERIAL PRIMARY KEY,
	user_uuid UUID NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	firstname TEXT NOT NULL,
	lastname TEXT NOT NULL,
	created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS borrow_records (
	record_id BIGSERIAL PRIMARY KEY,
	record_uuid UUID NOT NULL UNIQUE,
	user_uuid UUID NOT NULL,
	book_uuid UUID NOT NULL,
	borrow_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	returned BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS borrow_records_one_open_per_book
	ON borrow_records (book_uuid) WHERE NOT returned;

CREATE TABLE IF NOT EXISTS outbox (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_uuid UUID NOT NULL,
	seq BIGINT NOT NULL,
	payload JSONB NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS entity_sequences (
	entity_uuid UUID PRIMARY KEY,
	next_seq BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_progress (
	entity_uuid UUID PRIMARY KEY,
	applied_seq BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS deadletter (
	event_id UUID PRIMARY KEY,
	topic TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	entity_uuid UUID,
	seq BIGINT NOT NULL DEFAULT 0,
	payload JSONB,
	reason TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the store tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema on store %q: %w", s.Name, err)
	}
	return nil
}
