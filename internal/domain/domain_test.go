// internal/domain/domain_test.go
package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewUser(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		firstname string
		lastname  string
		wantErr   error
	}{
		{name: "valid", email: "ada@example.com", firstname: "Ada", lastname: "Lovelace"},
		{name: "missing email", firstname: "Ada", lastname: "Lovelace", wantErr: ErrInvalidInput},
		{name: "missing firstname", email: "ada@example.com", lastname: "Lovelace", wantErr: ErrInvalidInput},
		{name: "missing lastname", email: "ada@example.com", firstname: "Ada", wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUser(tt.email, tt.firstname, tt.lastname)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, [16]byte{}, [16]byte(u.UUID), "correlation UUID must be assigned at creation")
		})
	}
}

func TestBorrowBookDueDate(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lib := NewLibraryAt(fixedClock(day))

	user, err := NewUser("ada@example.com", "Ada", "Lovelace")
	require.NoError(t, err)
	book, err := NewBook("Structure and Interpretation", "MIT Press", "CS")
	require.NoError(t, err)

	record, err := lib.BorrowBook(user, book, 14)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), record.DueDate)
	assert.Equal(t, user.UUID, record.UserUUID)
	assert.Equal(t, book.UUID, record.BookUUID)
	assert.False(t, book.AvailabilityStatus)

	assert.False(t, record.IsOverdue(time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)))
	assert.False(t, record.IsOverdue(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, record.IsOverdue(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)))
}

func TestBorrowBookDaysBounds(t *testing.T) {
	lib := NewLibrary()
	user, _ := NewUser("ada@example.com", "Ada", "Lovelace")

	for _, days := range []int{-1, 0, 31, 100} {
		book, err := NewBook("Any", "Any", "Any")
		require.NoError(t, err)

		_, err = lib.BorrowBook(user, book, days)
		assert.ErrorIs(t, err, ErrInvalidInput, "days=%d", days)
		assert.True(t, book.AvailabilityStatus, "rejected borrow must not flip availability")
	}
}

func TestBorrowBookUnavailable(t *testing.T) {
	lib := NewLibrary()
	user, _ := NewUser("ada@example.com", "Ada", "Lovelace")
	book, _ := NewBook("Any", "Any", "Any")

	_, err := lib.BorrowBook(user, book, 7)
	require.NoError(t, err)

	_, err = lib.BorrowBook(user, book, 7)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReturnBook(t *testing.T) {
	lib := NewLibrary()
	user, _ := NewUser("ada@example.com", "Ada", "Lovelace")
	book, _ := NewBook("Any", "Any", "Any")

	record, err := lib.BorrowBook(user, book, 7)
	require.NoError(t, err)

	require.NoError(t, lib.ReturnBook(record, book))
	assert.True(t, book.AvailabilityStatus)
	assert.True(t, record.Returned)

	// Returning twice is an invariant violation, not a silent no-op.
	assert.ErrorIs(t, lib.ReturnBook(record, book), ErrInvalidState)
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lib := NewLibrary()
		user, err := NewUser("ada@example.com", "Ada", "Lovelace")
		if err != nil {
			t.Fatal(err)
		}
		book, err := NewBook("Any", "Any", "Any")
		if err != nil {
			t.Fatal(err)
		}

		cycles := rapid.IntRange(1, 20).Draw(t, "cycles")
		for i := 0; i < cycles; i++ {
			days := rapid.IntRange(MinBorrowDays, MaxBorrowDays).Draw(t, "days")
			record, err := lib.BorrowBook(user, book, days)
			if err != nil {
				t.Fatalf("borrow %d: %v", i, err)
			}
			if lib.IsAvailable(book) {
				t.Fatalf("book available while record %s open", record.UUID)
			}
			if err := lib.ReturnBook(record, book); err != nil {
				t.Fatalf("return %d: %v", i, err)
			}
			if !lib.IsAvailable(book) {
				t.Fatal("book unavailable after return")
			}
		}
	})
}
