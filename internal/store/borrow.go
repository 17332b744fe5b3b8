// internal/store/borrow.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"librelay/internal/domain"
)

// uniqueViolation is the Postgres error code raised when a second open
// record for the same book hits the partial unique index.
const uniqueViolation = "23505"

// BorrowStore is the borrow-record adapter for one named store.
type BorrowStore struct {
	name string
	db   *sql.DB
}

// NewBorrowStore binds a borrow-record adapter to a named store.
func NewBorrowStore(name string, db *sql.DB) *BorrowStore {
	return &BorrowStore{name: name, db: db}
}

// BorrowFilter selects borrow records by non-identity fields.
type BorrowFilter struct {
	UserUUID *uuid.UUID
	BookUUID *uuid.UUID
	Open     *bool
}

// Create inserts the record, ignoring a duplicate correlation UUID. A second
// open record for the same book surfaces as ErrInvalidState: the partial
// unique index is the storage-level guard against double booking.
func (s *BorrowStore) Create(ctx context.Context, record *domain.BorrowRecord) (bool, error) {
	return s.create(ctx, s.db, record)
}

// CreateTx is Create composed into a caller-owned transaction.
func (s *BorrowStore) CreateTx(ctx context.Context, tx *sql.Tx, record *domain.BorrowRecord) (bool, error) {
	return s.create(ctx, tx, record)
}

func (s *BorrowStore) create(ctx context.Context, q DBTX, record *domain.BorrowRecord) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO borrow_records (record_uuid, user_uuid, book_uuid, borrow_date, due_date, returned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (record_uuid) DO NOTHING
	`, record.UUID, record.UserUUID, record.BookUUID, record.BorrowDate, record.DueDate, record.Returned)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, errors.Join(domain.ErrInvalidState,
				fmt.Errorf("book %s already has an open borrow record", record.BookUUID))
		}
		return false, fmt.Errorf("store %q: insert borrow record: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: insert borrow record: %w", s.name, err)
	}
	return n == 1, nil
}

// Get fetches a borrow record by correlation UUID.
func (s *BorrowStore) Get(ctx context.Context, recordUUID uuid.UUID) (*domain.BorrowRecord, error) {
	record := &domain.BorrowRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, record_uuid, user_uuid, book_uuid, borrow_date, due_date, returned
		FROM borrow_records
		WHERE record_uuid = $1
	`, recordUUID).Scan(
		&record.ID,
		&record.UUID,
		&record.UserUUID,
		&record.BookUUID,
		&record.BorrowDate,
		&record.DueDate,
		&record.Returned,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store %q: get borrow record: %w", s.name, err)
	}
	return record, nil
}

// GetOpenByBook fetches the open record for a book, if any.
func (s *BorrowStore) GetOpenByBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	record := &domain.BorrowRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, record_uuid, user_uuid, book_uuid, borrow_date, due_date, returned
		FROM borrow_records
		WHERE book_uuid = $1 AND NOT returned
	`, bookUUID).Scan(
		&record.ID,
		&record.UUID,
		&record.UserUUID,
		&record.BookUUID,
		&record.BorrowDate,
		&record.DueDate,
		&record.Returned,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store %q: get open borrow record: %w", s.name, err)
	}
	return record, nil
}

// List returns borrow records matching the filter.
func (s *BorrowStore) List(ctx context.Context, filter BorrowFilter) ([]*domain.BorrowRecord, error) {
	query := `
		SELECT record_id, record_uuid, user_uuid, book_uuid, borrow_date, due_date, returned
		FROM borrow_records
		WHERE 1=1
	`
	var args []any
	if filter.UserUUID != nil {
		args = append(args, *filter.UserUUID)
		query += fmt.Sprintf(" AND user_uuid = $%d", len(args))
	}
	if filter.BookUUID != nil {
		args = append(args, *filter.BookUUID)
		query += fmt.Sprintf(" AND book_uuid = $%d", len(args))
	}
	if filter.Open != nil {
		args = append(args, *filter.Open)
		query += fmt.Sprintf(" AND returned = NOT $%d", len(args))
	}
	query += " ORDER BY record_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store %q: list borrow records: %w", s.name, err)
	}
	defer rows.Close()

	var records []*domain.BorrowRecord
	for rows.Next() {
		record := &domain.BorrowRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.UUID,
			&record.UserUUID,
			&record.BookUUID,
			&record.BorrowDate,
			&record.DueDate,
			&record.Returned,
		); err != nil {
			return nil, fmt.Errorf("store %q: scan borrow record: %w", s.name, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store %q: iterate borrow records: %w", s.name, err)
	}
	return records, nil
}

// Close marks an open record returned, guarded by the current state. It
// reports whether the guard held.
func (s *BorrowStore) Close(ctx context.Context, recordUUID uuid.UUID) (bool, error) {
	return s.close(ctx, s.db, recordUUID)
}

// CloseTx is Close composed into a caller-owned transaction.
func (s *BorrowStore) CloseTx(ctx context.Context, tx *sql.Tx, recordUUID uuid.UUID) (bool, error) {
	return s.close(ctx, tx, recordUUID)
}

func (s *BorrowStore) close(ctx context.Context, q DBTX, recordUUID uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE borrow_records
		SET returned = TRUE
		WHERE record_uuid = $1 AND NOT returned
	`, recordUUID)
	if err != nil {
		return false, fmt.Errorf("store %q: close borrow record: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: close borrow record: %w", s.name, err)
	}
	return n == 1, nil
}

// Delete removes the record by correlation UUID. Deleting an absent UUID is a
// no-op success, reported as false.
func (s *BorrowStore) Delete(ctx context.Context, recordUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, s.db, recordUUID)
}

// DeleteTx is Delete composed into a caller-owned transaction.
func (s *BorrowStore) DeleteTx(ctx context.Context, tx *sql.Tx, recordUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, tx, recordUUID)
}

func (s *BorrowStore) delete(ctx context.Context, q DBTX, recordUUID uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM borrow_records WHERE record_uuid = $1`, recordUUID)
	if err != nil {
		return false, fmt.Errorf("store %q: delete borrow record: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: delete borrow record: %w", s.name, err)
	}
	return n == 1, nil
}
