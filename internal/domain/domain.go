// internal/domain/domain.go
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidInput rejects a request before any store write.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState rejects a borrow/return that violates the availability invariant.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")
)

// User represents a library user. UUID is the cross-store correlation key and is
// assigned here, never by a store: the two stores run independent ID sequences.
type User struct {
	ID        int64     `json:"-"`
	UUID      uuid.UUID `json:"user_uuid"`
	Email     string    `json:"email"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Created   time.Time `json:"created,omitempty"`
	Modified  time.Time `json:"modified,omitempty"`
}

// NewUser validates the required fields and assigns the correlation UUID.
func NewUser(email, firstname, lastname string) (*User, error) {
	if email == "" || firstname == "" || lastname == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("user must have email, firstname and lastname"))
	}
	return &User{
		UUID:      uuid.New(),
		Email:     email,
		Firstname: firstname,
		Lastname:  lastname,
	}, nil
}

// Book represents a book in the catalogue. AvailabilityStatus is true iff no
// open borrow record references this book's UUID.
type Book struct {
	ID                 int64     `json:"-"`
	UUID               uuid.UUID `json:"book_uuid"`
	Title              string    `json:"title"`
	Publisher          string    `json:"publisher"`
	Category           string    `json:"category"`
	AvailabilityStatus bool      `json:"availability_status"`
	Created            time.Time `json:"created,omitempty"`
	Modified           time.Time `json:"modified,omitempty"`
}

// NewBook validates the required fields and assigns the correlation UUID.
func NewBook(title, publisher, category string) (*Book, error) {
	if title == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("book must have a title"))
	}
	return &Book{
		UUID:               uuid.New(),
		Title:              title,
		Publisher:          publisher,
		Category:           category,
		AvailabilityStatus: true,
	}, nil
}

// LendOut marks the book as lent.
func (b *Book) LendOut() error {
	if !b.AvailabilityStatus {
		return errors.Join(ErrInvalidState, errors.New("book is already lent out"))
	}
	b.AvailabilityStatus = false
	return nil
}

// Return marks the book as available again.
func (b *Book) Return() error {
	if b.AvailabilityStatus {
		return errors.Join(ErrInvalidState, errors.New("book is already available"))
	}
	b.AvailabilityStatus = true
	return nil
}

// BorrowRecord records a book borrowed by a user. References are by correlation
// UUID only; the stores do not share primary-key sequences.
type BorrowRecord struct {
	ID         int64     `json:"-"`
	UUID       uuid.UUID `json:"record_uuid"`
	UserUUID   uuid.UUID `json:"user_uuid"`
	BookUUID   uuid.UUID `json:"book_uuid"`
	BorrowDate time.Time `json:"borrow_date"`
	DueDate    time.Time `json:"due_date"`
	Returned   bool      `json:"returned"`
}

// IsOverdue reports whether the record is overdue as of the given date.
func (r *BorrowRecord) IsOverdue(asOf time.Time) bool {
	return asOf.After(r.DueDate)
}
