// internal/repository/repositorytest/memory.go
//
// In-memory store adapters mirroring the semantics of internal/store:
// UUID-upsert-safe creates, guarded availability flips, no-op deletes of
// absent rows. Used by repository and relay tests in place of Postgres.
package repositorytest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"librelay/internal/domain"
	"librelay/internal/store"
)

// MemBookStore is an in-memory BookStore.
type MemBookStore struct {
	mu    sync.Mutex
	books map[uuid.UUID]*domain.Book
}

func NewMemBookStore() *MemBookStore {
	return &MemBookStore{books: make(map[uuid.UUID]*domain.Book)}
}

func (s *MemBookStore) Create(_ context.Context, book *domain.Book) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[book.UUID]; ok {
		return false, nil
	}
	clone := *book
	s.books[book.UUID] = &clone
	return true, nil
}

func (s *MemBookStore) Get(_ context.Context, bookUUID uuid.UUID) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[bookUUID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *book
	return &clone, nil
}

func (s *MemBookStore) List(_ context.Context, filter store.BookFilter) ([]*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var books []*domain.Book
	for _, book := range s.books {
		if filter.Available != nil && book.AvailabilityStatus != *filter.Available {
			continue
		}
		if filter.Publisher != "" && book.Publisher != filter.Publisher {
			continue
		}
		if filter.Category != "" && book.Category != filter.Category {
			continue
		}
		clone := *book
		books = append(books, &clone)
	}
	return books, nil
}

func (s *MemBookStore) MarkLent(_ context.Context, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(bookUUID, false)
}

func (s *MemBookStore) MarkReturned(_ context.Context, bookUUID uuid.UUID) (bool, error) {
	return s.setAvailability(bookUUID, true)
}

func (s *MemBookStore) setAvailability(bookUUID uuid.UUID, available bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[bookUUID]
	if !ok || book.AvailabilityStatus == available {
		return false, nil
	}
	book.AvailabilityStatus = available
	return true, nil
}

func (s *MemBookStore) Delete(_ context.Context, bookUUID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[bookUUID]; !ok {
		return false, nil
	}
	delete(s.books, bookUUID)
	return true, nil
}

// MemUserStore is an in-memory UserStore.
type MemUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: make(map[uuid.UUID]*domain.User)}
}

func (s *MemUserStore) Create(_ context.Context, user *domain.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.UUID]; ok {
		return false, nil
	}
	clone := *user
	s.users[user.UUID] = &clone
	return true, nil
}

func (s *MemUserStore) Get(_ context.Context, userUUID uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userUUID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemUserStore) List(_ context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []*domain.User
	for _, user := range s.users {
		clone := *user
		users = append(users, &clone)
	}
	return users, nil
}

func (s *MemUserStore) Delete(_ context.Context, userUUID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userUUID]; !ok {
		return false, nil
	}
	delete(s.users, userUUID)
	return true, nil
}

// MemBorrowStore is an in-memory BorrowStore.
type MemBorrowStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.BorrowRecord
}

func NewMemBorrowStore() *MemBorrowStore {
	return &MemBorrowStore{records: make(map[uuid.UUID]*domain.BorrowRecord)}
}

func (s *MemBorrowStore) Create(_ context.Context, record *domain.BorrowRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.UUID]; ok {
		return false, nil
	}
	if !record.Returned {
		for _, existing := range s.records {
			if existing.BookUUID == record.BookUUID && !existing.Returned {
				return false, errors.Join(domain.ErrInvalidState,
					errors.New("book already has an open borrow record"))
			}
		}
	}
	clone := *record
	s.records[record.UUID] = &clone
	return true, nil
}

func (s *MemBorrowStore) Get(_ context.Context, recordUUID uuid.UUID) (*domain.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordUUID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *MemBorrowStore) GetOpenByBook(_ context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.BookUUID == bookUUID && !record.Returned {
			clone := *record
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemBorrowStore) List(_ context.Context, filter store.BorrowFilter) ([]*domain.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*domain.BorrowRecord
	for _, record := range s.records {
		if filter.UserUUID != nil && record.UserUUID != *filter.UserUUID {
			continue
		}
		if filter.BookUUID != nil && record.BookUUID != *filter.BookUUID {
			continue
		}
		if filter.Open != nil && record.Returned == *filter.Open {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	return records, nil
}

func (s *MemBorrowStore) Close(_ context.Context, recordUUID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordUUID]
	if !ok || record.Returned {
		return false, nil
	}
	record.Returned = true
	return true, nil
}

func (s *MemBorrowStore) Delete(_ context.Context, recordUUID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[recordUUID]; !ok {
		return false, nil
	}
	delete(s.records, recordUUID)
	return true, nil
}
