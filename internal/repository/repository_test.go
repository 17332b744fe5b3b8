// internal/repository/repository_test.go
package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librelay/internal/domain"
	"librelay/internal/repository"
	"librelay/internal/repository/repositorytest"
)

func TestBooksWriteFanOut(t *testing.T) {
	s1 := repositorytest.NewMemBookStore()
	s2 := repositorytest.NewMemBookStore()
	books := repository.NewBooks(repository.ReadPrimaryOnly, s1, s2)

	book, err := domain.NewBook("Dune", "Chilton", "sci-fi")
	require.NoError(t, err)
	require.NoError(t, books.Add(context.Background(), book))

	// Writes are broadcast to every configured store.
	for _, s := range []*repositorytest.MemBookStore{s1, s2} {
		got, err := s.Get(context.Background(), book.UUID)
		require.NoError(t, err)
		assert.Equal(t, book.Title, got.Title)
	}

	removed, err := books.Remove(context.Background(), book.UUID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s2.Get(context.Background(), book.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBooksReadPolicy(t *testing.T) {
	s1 := repositorytest.NewMemBookStore()
	s2 := repositorytest.NewMemBookStore()

	book, err := domain.NewBook("Dune", "Chilton", "sci-fi")
	require.NoError(t, err)

	// Entity exists only in the second store.
	_, err = s2.Create(context.Background(), book)
	require.NoError(t, err)

	primaryOnly := repository.NewBooks(repository.ReadPrimaryOnly, s1, s2)
	_, err = primaryOnly.Get(context.Background(), book.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "primary-only must not fall through")

	firstAvailable := repository.NewBooks(repository.ReadFirstAvailable, s1, s2)
	got, err := firstAvailable.Get(context.Background(), book.UUID)
	require.NoError(t, err)
	assert.Equal(t, book.UUID, got.UUID)
}

func TestBooksFilter(t *testing.T) {
	s1 := repositorytest.NewMemBookStore()
	books := repository.NewBooks(repository.ReadPrimaryOnly, s1)

	tor, err := domain.NewBook("The Dispossessed", "Harper", "sci-fi")
	require.NoError(t, err)
	ace, err := domain.NewBook("Neuromancer", "Ace", "sci-fi")
	require.NoError(t, err)
	cook, err := domain.NewBook("Mastering Bread", "Ten Speed", "cooking")
	require.NoError(t, err)

	for _, b := range []*domain.Book{tor, ace, cook} {
		require.NoError(t, books.Add(context.Background(), b))
	}

	got, err := books.Filter(context.Background(), "Ace", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ace.UUID, got[0].UUID)

	got, err = books.Filter(context.Background(), "", "sci-fi")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// A lent-out book drops out of the availability-scoped filter.
	_, err = books.MarkLent(context.Background(), ace.UUID)
	require.NoError(t, err)
	got, err = books.Filter(context.Background(), "", "sci-fi")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tor.UUID, got[0].UUID)
}

func TestBorrowCreateUpdatesAvailability(t *testing.T) {
	bookStore := repositorytest.NewMemBookStore()
	borrowStore := repositorytest.NewMemBorrowStore()
	books := repository.NewBooks(repository.ReadPrimaryOnly, bookStore)
	borrows := repository.NewBorrows(repository.ReadPrimaryOnly, books, borrowStore)

	book, err := domain.NewBook("Dune", "Chilton", "sci-fi")
	require.NoError(t, err)
	require.NoError(t, books.Add(context.Background(), book))

	user, err := domain.NewUser("ada@example.com", "Ada", "Lovelace")
	require.NoError(t, err)

	lib := domain.NewLibrary()
	record, err := lib.BorrowBook(user, book, 14)
	require.NoError(t, err)

	require.NoError(t, borrows.Create(context.Background(), record))

	got, err := books.Get(context.Background(), book.UUID)
	require.NoError(t, err)
	assert.False(t, got.AvailabilityStatus, "borrow must flip availability in the same store set")

	// Closing restores availability and leaves no open record.
	require.NoError(t, borrows.Close(context.Background(), record.UUID, record.BookUUID))

	got, err = books.Get(context.Background(), book.UUID)
	require.NoError(t, err)
	assert.True(t, got.AvailabilityStatus)

	_, err = borrows.GetOpenByBook(context.Background(), book.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBorrowCreateReplayIsIdempotent(t *testing.T) {
	bookStore := repositorytest.NewMemBookStore()
	borrowStore := repositorytest.NewMemBorrowStore()
	books := repository.NewBooks(repository.ReadPrimaryOnly, bookStore)
	borrows := repository.NewBorrows(repository.ReadPrimaryOnly, books, borrowStore)

	book, err := domain.NewBook("Dune", "Chilton", "sci-fi")
	require.NoError(t, err)
	require.NoError(t, books.Add(context.Background(), book))

	user, err := domain.NewUser("ada@example.com", "Ada", "Lovelace")
	require.NoError(t, err)

	record, err := domain.NewLibrary().BorrowBook(user, book, 7)
	require.NoError(t, err)

	require.NoError(t, borrows.Create(context.Background(), record))
	require.NoError(t, borrows.Create(context.Background(), record), "replay of the same record is a no-op")

	open, err := borrows.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestUsersFanOutAndRemoveAbsent(t *testing.T) {
	s1 := repositorytest.NewMemUserStore()
	s2 := repositorytest.NewMemUserStore()
	users := repository.NewUsers(repository.ReadFirstAvailable, s1, s2)

	user, err := domain.NewUser("ada@example.com", "Ada", "Lovelace")
	require.NoError(t, err)
	require.NoError(t, users.Enroll(context.Background(), user))

	all, err := users.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	removed, err := users.Remove(context.Background(), user.UUID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = users.Remove(context.Background(), user.UUID)
	require.NoError(t, err)
	assert.False(t, removed, "removing an absent user is a no-op, not an error")
}
