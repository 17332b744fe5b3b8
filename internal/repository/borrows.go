// internal/repository/borrows.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"librelay/internal/domain"
	"librelay/internal/store"
)

// BorrowStore is the single-store adapter surface the borrow repository fans
// out over. Satisfied by *store.BorrowStore.
type BorrowStore interface {
	Create(ctx context.Context, record *domain.BorrowRecord) (bool, error)
	Get(ctx context.Context, recordUUID uuid.UUID) (*domain.BorrowRecord, error)
	GetOpenByBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error)
	List(ctx context.Context, filter store.BorrowFilter) ([]*domain.BorrowRecord, error)
	Close(ctx context.Context, recordUUID uuid.UUID) (bool, error)
	Delete(ctx context.Context, recordUUID uuid.UUID) (bool, error)
}

// Borrows executes borrow-record operations against an ordered set of named
// stores. Record mutations keep book availability in step through the book
// repository, as two sequential calls: the transactional single-store guard
// on the write path lives in the coordinator, not here.
type Borrows struct {
	stores []BorrowStore
	books  *Books
	policy ReadPolicy
}

// NewBorrows creates a borrow repository over the given stores.
func NewBorrows(policy ReadPolicy, books *Books, stores ...BorrowStore) *Borrows {
	return &Borrows{stores: stores, books: books, policy: policy}
}

// Create inserts the record into every configured store and marks the book
// lent in the same stores. Replaying an existing record UUID is a no-op, as
// is marking a book lent that is already lent.
func (r *Borrows) Create(ctx context.Context, record *domain.BorrowRecord) error {
	var errs []error
	for _, s := range r.stores {
		if _, err := s.Create(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("create borrow record %s: %w", record.UUID, errors.Join(errs...))
	}

	if !record.Returned {
		if _, err := r.books.MarkLent(ctx, record.BookUUID); err != nil {
			return fmt.Errorf("create borrow record %s: %w", record.UUID, err)
		}
	}
	return nil
}

// Close marks the record returned in every configured store and restores the
// book's availability. Closing an already-closed record is a no-op.
func (r *Borrows) Close(ctx context.Context, recordUUID, bookUUID uuid.UUID) error {
	var errs []error
	for _, s := range r.stores {
		if _, err := s.Close(ctx, recordUUID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close borrow record %s: %w", recordUUID, errors.Join(errs...))
	}

	if _, err := r.books.MarkReturned(ctx, bookUUID); err != nil {
		return fmt.Errorf("close borrow record %s: %w", recordUUID, err)
	}
	return nil
}

// Remove deletes the record from every configured store.
func (r *Borrows) Remove(ctx context.Context, recordUUID uuid.UUID) (bool, error) {
	removed := false
	var errs []error
	for _, s := range r.stores {
		ok, err := s.Delete(ctx, recordUUID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed = removed || ok
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("remove borrow record %s: %w", recordUUID, errors.Join(errs...))
	}
	return removed, nil
}

// Get fetches a record according to the read policy.
func (r *Borrows) Get(ctx context.Context, recordUUID uuid.UUID) (*domain.BorrowRecord, error) {
	switch r.policy {
	case ReadFirstAvailable:
		for _, s := range r.stores {
			record, err := s.Get(ctx, recordUUID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return record, nil
		}
		return nil, domain.ErrNotFound
	default:
		return r.stores[0].Get(ctx, recordUUID)
	}
}

// GetOpenByBook fetches the open record for a book according to the read policy.
func (r *Borrows) GetOpenByBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	switch r.policy {
	case ReadFirstAvailable:
		for _, s := range r.stores {
			record, err := s.GetOpenByBook(ctx, bookUUID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return record, nil
		}
		return nil, domain.ErrNotFound
	default:
		return r.stores[0].GetOpenByBook(ctx, bookUUID)
	}
}

// List returns all records from the primary store.
func (r *Borrows) List(ctx context.Context) ([]*domain.BorrowRecord, error) {
	return r.stores[0].List(ctx, store.BorrowFilter{})
}

// ListOpen returns open records from the primary store.
func (r *Borrows) ListOpen(ctx context.Context) ([]*domain.BorrowRecord, error) {
	open := true
	return r.stores[0].List(ctx, store.BorrowFilter{Open: &open})
}

// ListByUser returns a user's records from the primary store.
func (r *Borrows) ListByUser(ctx context.Context, userUUID uuid.UUID) ([]*domain.BorrowRecord, error) {
	return r.stores[0].List(ctx, store.BorrowFilter{UserUUID: &userUUID})
}
