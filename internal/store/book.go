// internal/store/book.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"librelay/internal/domain"
)

// BookStore is the book adapter for one named store. Creates are
// UUID-upsert-safe so at-least-once replay of an add event is a no-op.
type BookStore struct {
	name string
	db   *sql.DB
}

// NewBookStore binds a book adapter to a named store.
func NewBookStore(name string, db *sql.DB) *BookStore {
	return &BookStore{name: name, db: db}
}

// BookFilter selects books by non-identity fields.
type BookFilter struct {
	Available *bool
	Publisher string
	Category  string
}

// Create inserts the book, ignoring a duplicate correlation UUID. It reports
// whether a row was actually inserted.
func (s *BookStore) Create(ctx context.Context, book *domain.Book) (bool, error) {
	return s.create(ctx, s.db, book)
}

// CreateTx is Create composed into a caller-owned transaction.
func (s *BookStore) CreateTx(ctx context.Context, tx *sql.Tx, book *domain.Book) (bool, error) {
	return s.create(ctx, tx, book)
}

func (s *BookStore) create(ctx context.Context, q DBTX, book *domain.Book) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO books (book_uuid, title, publisher, category, availability_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (book_uuid) DO NOTHING
	`, book.UUID, book.Title, book.Publisher, book.Category, book.AvailabilityStatus)
	if err != nil {
		return false, fmt.Errorf("store %q: insert book: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: insert book: %w", s.name, err)
	}
	return n == 1, nil
}

// Get fetches a book by correlation UUID.
func (s *BookStore) Get(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error) {
	book := &domain.Book{}
	err := s.db.QueryRowContext(ctx, `
		SELECT book_id, book_uuid, title, publisher, category, availability_status, created, modified
		FROM books
		WHERE book_uuid = $1
	`, bookUUID).Scan(
		&book.ID,
		&book.UUID,
		&book.Title,
		&book.Publisher,
		&book.Category,
		&book.AvailabilityStatus,
		&book.Created,
		&book.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store %q: get book: %w", s.name, err)
	}
	return book, nil
}

// List returns books matching the filter.
func (s *BookStore) List(ctx context.Context, filter BookFilter) ([]*domain.Book, error) {
	query := `
		SELECT book_id, book_uuid, title, publisher, category, availability_status, created, modified
		FROM books
		WHERE 1=1
	`
	var args []any
	if filter.Available != nil {
		args = append(args, *filter.Available)
		query += fmt.Sprintf(" AND availability_status = $%d", len(args))
	}
	if filter.Publisher != "" {
		args = append(args, filter.Publisher)
		query += fmt.Sprintf(" AND publisher = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += " ORDER BY book_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store %q: list books: %w", s.name, err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book := &domain.Book{}
		if err := rows.Scan(
			&book.ID,
			&book.UUID,
			&book.Title,
			&book.Publisher,
			&book.Category,
			&book.AvailabilityStatus,
			&book.Created,
			&book.Modified,
		); err != nil {
			return nil, fmt.Errorf("store %q: scan book: %w", s.name, err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store %q: iterate books: %w", s.name, err)
	}
	return books, nil
}

// MarkLent flips availability true -> false, guarded by the current status.
// It reports whether the guard held; reading availability first and writing
// second is a race and is not offered.
func (s *BookStore) MarkLent(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(ctx, s.db, bookUUID, false)
}

// MarkLentTx is MarkLent composed into a caller-owned transaction.
func (s *BookStore) MarkLentTx(ctx context.Context, tx *sql.Tx, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(ctx, tx, bookUUID, false)
}

// MarkReturned flips availability false -> true, guarded by the current status.
func (s *BookStore) MarkReturned(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(ctx, s.db, bookUUID, true)
}

// MarkReturnedTx is MarkReturned composed into a caller-owned transaction.
func (s *BookStore) MarkReturnedTx(ctx context.Context, tx *sql.Tx, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(ctx, tx, bookUUID, true)
}

func (s *BookStore) setAvailability(ctx context.Context, q DBTX, bookUUID uuid.UUID, available bool) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE books
		SET availability_status = $1, modified = NOW()
		WHERE book_uuid = $2 AND availability_status = $3
	`, available, bookUUID, !available)
	if err != nil {
		return false, fmt.Errorf("store %q: set book availability: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: set book availability: %w", s.name, err)
	}
	return n == 1, nil
}

// Delete removes the book by correlation UUID. Deleting an absent UUID is a
// no-op success, reported as false.
func (s *BookStore) Delete(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, s.db, bookUUID)
}

// DeleteTx is Delete composed into a caller-owned transaction.
func (s *BookStore) DeleteTx(ctx context.Context, tx *sql.Tx, bookUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, tx, bookUUID)
}

func (s *BookStore) delete(ctx context.Context, q DBTX, bookUUID uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM books WHERE book_uuid = $1`, bookUUID)
	if err != nil {
		return false, fmt.Errorf("store %q: delete book: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: delete book: %w", s.name, err)
	}
	return n == 1, nil
}
