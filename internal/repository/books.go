// internal/repository/books.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"librelay/internal/domain"
	"librelay/internal/store"
)

// BookStore is the single-store adapter surface the book repository fans out
// over. Satisfied by *store.BookStore.
type BookStore interface {
	Create(ctx context.Context, book *domain.Book) (bool, error)
	Get(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error)
	List(ctx context.Context, filter store.BookFilter) ([]*domain.Book, error)
	MarkLent(ctx context.Context, bookUUID uuid.UUID) (bool, error)
	MarkReturned(ctx context.Context, bookUUID uuid.UUID) (bool, error)
	Delete(ctx context.Context, bookUUID uuid.UUID) (bool, error)
}

// Books executes book operations against an ordered set of named stores.
// The store set is injected at construction; there is no shared registry.
type Books struct {
	stores []BookStore
	policy ReadPolicy
}

// NewBooks creates a book repository over the given stores.
func NewBooks(policy ReadPolicy, stores ...BookStore) *Books {
	return &Books{stores: stores, policy: policy}
}

// Add inserts the book into every configured store.
func (r *Books) Add(ctx context.Context, book *domain.Book) error {
	var errs []error
	for _, s := range r.stores {
		if _, err := s.Create(ctx, book); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("add book %s: %w", book.UUID, errors.Join(errs...))
	}
	return nil
}

// Remove deletes the book from every configured store. An absent UUID is a
// no-op; Remove reports whether any store held the book.
func (r *Books) Remove(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	removed := false
	var errs []error
	for _, s := range r.stores {
		ok, err := s.Delete(ctx, bookUUID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed = removed || ok
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("remove book %s: %w", bookUUID, errors.Join(errs...))
	}
	return removed, nil
}

// Get fetches a book according to the read policy.
func (r *Books) Get(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error) {
	switch r.policy {
	case ReadFirstAvailable:
		for _, s := range r.stores {
			book, err := s.Get(ctx, bookUUID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return book, nil
		}
		return nil, domain.ErrNotFound
	default:
		return r.stores[0].Get(ctx, bookUUID)
	}
}

// ListAvailable lists borrowable books from the primary store.
func (r *Books) ListAvailable(ctx context.Context) ([]*domain.Book, error) {
	available := true
	return r.stores[0].List(ctx, store.BookFilter{Available: &available})
}

// ListUnavailable lists lent-out books from the primary store.
func (r *Books) ListUnavailable(ctx context.Context) ([]*domain.Book, error) {
	available := false
	return r.stores[0].List(ctx, store.BookFilter{Available: &available})
}

// Filter lists borrowable books matching publisher and/or category.
func (r *Books) Filter(ctx context.Context, publisher, category string) ([]*domain.Book, error) {
	available := true
	return r.stores[0].List(ctx, store.BookFilter{
		Available: &available,
		Publisher: publisher,
		Category:  category,
	})
}

// MarkLent flips availability to lent in every configured store, guarded per
// store. It reports whether any store applied the transition; a store that
// already held the book as lent is left untouched.
func (r *Books) MarkLent(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	return r.setAvailability(ctx, bookUUID, false)
}

// MarkReturned flips availability back to available in every configured store.
func (r *Books) MarkReturned(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	return r.setAvailability(ctx, bookUUID, true)
}

func (r *Books) setAvailability(ctx context.Context, bookUUID uuid.UUID, available bool) (bool, error) {
	applied := false
	var errs []error
	for _, s := range r.stores {
		var ok bool
		var err error
		if available {
			ok, err = s.MarkReturned(ctx, bookUUID)
		} else {
			ok, err = s.MarkLent(ctx, bookUUID)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applied = applied || ok
	}
	if len(errs) > 0 {
		return applied, fmt.Errorf("set availability of book %s: %w", bookUUID, errors.Join(errs...))
	}
	return applied, nil
}
