// internal/domain/service.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Borrow period bounds enforced before any store write.
const (
	MinBorrowDays = 1
	MaxBorrowDays = 30
)

// Library enforces the borrow/return state machine independent of storage.
type Library struct {
	now func() time.Time
}

// NewLibrary creates a library service using the real clock.
func NewLibrary() *Library {
	return &Library{now: time.Now}
}

// NewLibraryAt creates a library service with an injected clock. Used in tests.
func NewLibraryAt(now func() time.Time) *Library {
	return &Library{now: now}
}

// BorrowBook transitions the book AVAILABLE -> LENT and produces the borrow
// record. The caller persists both effects atomically.
func (l *Library) BorrowBook(user *User, book *Book, days int) (*BorrowRecord, error) {
	if days < MinBorrowDays || days > MaxBorrowDays {
		return nil, errors.Join(ErrInvalidInput,
			fmt.Errorf("borrow period must be between %d and %d days, got %d", MinBorrowDays, MaxBorrowDays, days))
	}
	if err := book.LendOut(); err != nil {
		return nil, err
	}

	borrowDate := l.now()
	return &BorrowRecord{
		UUID:       uuid.New(),
		UserUUID:   user.UUID,
		BookUUID:   book.UUID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.AddDate(0, 0, days),
	}, nil
}

// ReturnBook transitions the book LENT -> AVAILABLE and closes the record.
func (l *Library) ReturnBook(record *BorrowRecord, book *Book) error {
	if record.Returned {
		return errors.Join(ErrInvalidState, errors.New("borrow record is already closed"))
	}
	if err := book.Return(); err != nil {
		return err
	}
	record.Returned = true
	return nil
}

// IsAvailable reports whether the book can be borrowed. Pure read.
func (l *Library) IsAvailable(book *Book) bool {
	return book.AvailabilityStatus
}
