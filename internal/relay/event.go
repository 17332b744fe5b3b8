// internal/relay/event.go
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"librelay/internal/domain"
)

var (
	// ErrPublishUnavailable reports that the durable transport rejected an
	// event. The primary write has already committed; the outbox retries.
	ErrPublishUnavailable = errors.New("publish unavailable")
	// ErrUnknownEvent reports an unroutable topic/action pair during replay.
	// Dead-lettered; never crashes the consumer loop.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrReplayConflict reports target-store state diverging from what the
	// event expects. Logged for manual reconciliation, never auto-resolved.
	ErrReplayConflict = errors.New("replay conflict")
	// ErrSequenceGap reports an event arriving ahead of its predecessor for
	// the same correlation UUID. The event is redelivered until the gap
	// fills or the bounded wait expires.
	ErrSequenceGap = errors.New("sequence gap")
)

// Topic partitions mutation events by entity kind. The set is closed:
// routing is an exhaustive switch, so a new topic is a compile-time change.
type Topic string

const (
	TopicBooks   Topic = "book_events"
	TopicEnrolls Topic = "enroll_events"
	TopicBorrows Topic = "borrow_events"
)

// Action is the mutation kind carried by an event.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event is the unit of cross-store propagation. Entity is the correlation
// UUID the event concerns and Seq its per-entity publish order; payloads are
// entity snapshots keyed by UUID, never by store-local numeric ID.
type Event struct {
	ID     uuid.UUID `json:"event_id"`
	Topic  Topic     `json:"topic"`
	Action Action    `json:"action"`
	Entity uuid.UUID `json:"entity_uuid"`
	Seq    uint64    `json:"seq"`
	// Origin names the store whose write produced the event. Replay must
	// never target the origin, or the primary write would be duplicated.
	Origin      string          `json:"origin"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at,omitempty"`
}

// RemovePayload identifies the entity a remove event targets. Borrow removes
// additionally carry the book whose availability the close restores.
type RemovePayload struct {
	EntityUUID uuid.UUID `json:"entity_uuid"`
	BookUUID   uuid.UUID `json:"book_uuid,omitempty"`
}

// NewBookAdded builds the event mirroring a book insert.
func NewBookAdded(book *domain.Book) (Event, error) {
	return newEvent(TopicBooks, ActionAdd, book.UUID, book)
}

// NewBookRemoved builds the event mirroring a book delete.
func NewBookRemoved(bookUUID uuid.UUID) (Event, error) {
	return newEvent(TopicBooks, ActionRemove, bookUUID, RemovePayload{EntityUUID: bookUUID})
}

// NewUserEnrolled builds the event mirroring a user insert.
func NewUserEnrolled(user *domain.User) (Event, error) {
	return newEvent(TopicEnrolls, ActionAdd, user.UUID, user)
}

// NewUserRemoved builds the event mirroring a user delete.
func NewUserRemoved(userUUID uuid.UUID) (Event, error) {
	return newEvent(TopicEnrolls, ActionRemove, userUUID, RemovePayload{EntityUUID: userUUID})
}

// NewBorrowCreated builds the event mirroring a borrow-record insert.
func NewBorrowCreated(record *domain.BorrowRecord) (Event, error) {
	return newEvent(TopicBorrows, ActionAdd, record.UUID, record)
}

// NewBorrowClosed builds the event mirroring a borrow-record close.
func NewBorrowClosed(recordUUID, bookUUID uuid.UUID) (Event, error) {
	return newEvent(TopicBorrows, ActionRemove, recordUUID, RemovePayload{
		EntityUUID: recordUUID,
		BookUUID:   bookUUID,
	})
}

func newEvent(topic Topic, action Action, entity uuid.UUID, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s/%s payload: %w", topic, action, err)
	}
	return Event{
		ID:      uuid.New(),
		Topic:   topic,
		Action:  action,
		Entity:  entity,
		Payload: data,
	}, nil
}
