// internal/library/service.go
package library

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"librelay/internal/domain"
)

// ErrRateLimited rejects an enrollment burst before it reaches the stores.
var ErrRateLimited = errors.New("rate limited")

// BorrowStatus is a borrow record with its overdue state resolved against the
// service clock.
type BorrowStatus struct {
	*domain.BorrowRecord
	Overdue bool `json:"overdue"`
}

// BookService defines the interface for the book catalogue service.
type BookService interface {
	Add(ctx context.Context, title, publisher, category string) (*domain.Book, error)
	Remove(ctx context.Context, bookUUID uuid.UUID) error
	Get(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error)
	ListAvailable(ctx context.Context) ([]*domain.Book, error)
	ListUnavailable(ctx context.Context) ([]*domain.Book, error)
	Filter(ctx context.Context, publisher, category string) ([]*domain.Book, error)
	Availability(ctx context.Context, bookUUID uuid.UUID) (bool, error)
	Borrow(ctx context.Context, userUUID, bookUUID uuid.UUID, days int) (*domain.BorrowRecord, error)
	Return(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error)
	ListBorrowed(ctx context.Context) ([]*BorrowStatus, error)
}

// UserService defines the interface for the user enrollment service.
type UserService interface {
	Enroll(ctx context.Context, email, firstname, lastname string) (*domain.User, error)
	Remove(ctx context.Context, userUUID uuid.UUID) error
	List(ctx context.Context) ([]*domain.User, error)
	Borrowed(ctx context.Context, userUUID uuid.UUID) ([]*BorrowStatus, error)
}

// Coordinator is the write path both services mutate through. Satisfied by
// *relay.Coordinator.
type Coordinator interface {
	AddBook(ctx context.Context, book *domain.Book) error
	RemoveBook(ctx context.Context, bookUUID uuid.UUID) error
	EnrollUser(ctx context.Context, user *domain.User) error
	RemoveUser(ctx context.Context, userUUID uuid.UUID) error
	BorrowBook(ctx context.Context, userUUID, bookUUID uuid.UUID, days int) (*domain.BorrowRecord, error)
	ReturnBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error)
}
