// internal/store/store_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librelay/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New("default", db), mock
}

func TestBookCreateIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	book := &domain.Book{UUID: uuid.New(), Title: "Dune", AvailabilityStatus: true}

	// First insert lands.
	mock.ExpectExec(`INSERT INTO books`).
		WithArgs(book.UUID, book.Title, book.Publisher, book.Category, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Books.Create(context.Background(), book)
	require.NoError(t, err)
	assert.True(t, created)

	// Replay of the same UUID hits ON CONFLICT DO NOTHING: no-op success.
	mock.ExpectExec(`INSERT INTO books`).
		WithArgs(book.UUID, book.Title, book.Publisher, book.Category, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err = s.Books.Create(context.Background(), book)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookMarkLentGuard(t *testing.T) {
	s, mock := newMockStore(t)
	bookUUID := uuid.New()

	// Guard holds: the book was available.
	mock.ExpectExec(`UPDATE books`).
		WithArgs(false, bookUUID, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Books.MarkLent(context.Background(), bookUUID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Guard fails: a concurrent borrow already flipped the status. The
	// losing caller gets false, never a blind overwrite.
	mock.ExpectExec(`UPDATE books`).
		WithArgs(false, bookUUID, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = s.Books.MarkLent(context.Background(), bookUUID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	bookUUID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM books`).
		WithArgs(bookUUID).
		WillReturnRows(sqlmock.NewRows([]string{"book_id"}))

	_, err := s.Books.Get(context.Background(), bookUUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookDeleteAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	bookUUID := uuid.New()

	mock.ExpectExec(`DELETE FROM books`).
		WithArgs(bookUUID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := s.Books.Delete(context.Background(), bookUUID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowCreateDoubleBooking(t *testing.T) {
	s, mock := newMockStore(t)
	record := &domain.BorrowRecord{
		UUID:       uuid.New(),
		UserUUID:   uuid.New(),
		BookUUID:   uuid.New(),
		BorrowDate: time.Now(),
		DueDate:    time.Now().AddDate(0, 0, 14),
	}

	// Second open record for the same book violates the partial unique index.
	mock.ExpectExec(`INSERT INTO borrow_records`).
		WithArgs(record.UUID, record.UserUUID, record.BookUUID, record.BorrowDate, record.DueDate, false).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := s.Borrows.Create(context.Background(), record)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowCloseGuard(t *testing.T) {
	s, mock := newMockStore(t)
	recordUUID := uuid.New()

	mock.ExpectExec(`UPDATE borrow_records`).
		WithArgs(recordUUID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Borrows.Close(context.Background(), recordUUID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Already closed: the guard reports false instead of double-returning.
	mock.ExpectExec(`UPDATE borrow_records`).
		WithArgs(recordUUID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = s.Borrows.Close(context.Background(), recordUUID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreateIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	user := &domain.User{UUID: uuid.New(), Email: "ada@example.com", Firstname: "Ada", Lastname: "Lovelace"}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.UUID, user.Email, user.Firstname, user.Lastname).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.Users.Create(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}
