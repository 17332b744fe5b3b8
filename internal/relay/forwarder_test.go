// internal/relay/forwarder_test.go
package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librelay/internal/logger"
)

type fakePublisher struct {
	published []Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, event Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func outboxColumns() []string {
	return []string{"id", "event_id", "topic", "action", "entity_uuid", "seq", "payload", "attempts", "created_at"}
}

func TestForwarderPublishesAndDeletes(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	pub := &fakePublisher{}
	f := NewForwarder("default", db, pub, ForwarderConfig{}, logger.NewNop())

	firstID, secondID := uuid.New(), uuid.New()
	entity := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).
			AddRow(1, firstID.String(), "book_events", "add", entity.String(), 1, []byte(`{}`), 0, time.Now()).
			AddRow(2, secondID.String(), "book_events", "remove", entity.String(), 2, []byte(`{}`), 0, time.Now()))
	mock.ExpectExec(`DELETE FROM outbox`).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM outbox`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, f.ProcessBatch(context.Background()))

	require.Len(t, pub.published, 2)
	assert.Equal(t, firstID, pub.published[0].ID)
	assert.EqualValues(t, 1, pub.published[0].Seq)
	assert.Equal(t, "default", pub.published[0].Origin, "forwarded events carry the origin store")
	assert.Equal(t, secondID, pub.published[1].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForwarderKeepsRowOnPublishFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	pub := &fakePublisher{err: backoff.Permanent(errors.Join(ErrPublishUnavailable, errors.New("broker down")))}
	f := NewForwarder("default", db, pub, ForwarderConfig{PublishTimeout: 100 * time.Millisecond}, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).
			AddRow(7, uuid.New().String(), "book_events", "add", uuid.New().String(), 1, []byte(`{}`), 0, time.Now()))
	mock.ExpectExec(`UPDATE outbox SET attempts`).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, f.ProcessBatch(context.Background()))
	assert.Empty(t, pub.published)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForwarderDeadLettersAfterRetryHorizon(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	pub := &fakePublisher{err: backoff.Permanent(errors.New("broker down"))}
	f := NewForwarder("default", db, pub, ForwarderConfig{
		MaxAttempts:    3,
		PublishTimeout: 100 * time.Millisecond,
	}, logger.NewNop())

	eventID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).
			AddRow(9, eventID.String(), "book_events", "add", uuid.New().String(), 1, []byte(`{}`), 2, time.Now()))
	mock.ExpectExec(`INSERT INTO deadletter`).
		WithArgs(eventID, "book_events", "add", sqlmock.AnyArg(), 1, []byte(`{}`), "publish retry horizon exceeded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM outbox`).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, f.ProcessBatch(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAppendAssignsSequence(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	outbox := NewOutbox("default", db)
	event, err := NewBookRemoved(uuid.New())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO entity_sequences`).
		WithArgs(event.Entity).
		WillReturnRows(sqlmock.NewRows([]string{"next_seq"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO outbox`).
		WithArgs(event.ID, "book_events", "remove", event.Entity, 3, []byte(event.Payload)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, outbox.AppendTx(context.Background(), tx, &event))
	require.NoError(t, tx.Commit())

	assert.EqualValues(t, 3, event.Seq)
	assert.Equal(t, "default", event.Origin)

	require.NoError(t, mock.ExpectationsWereMet())
}
