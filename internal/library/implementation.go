// internal/library/implementation.go
package library

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"librelay/internal/domain"
	"librelay/internal/repository"
)

// bookService implements the BookService interface. Mutations go through the
// coordinator; reads come from the repository layer.
type bookService struct {
	coord   Coordinator
	books   *repository.Books
	borrows *repository.Borrows
	now     func() time.Time
}

// NewBookService creates a new book catalogue service instance.
func NewBookService(coord Coordinator, books *repository.Books, borrows *repository.Borrows) BookService {
	return &bookService{
		coord:   coord,
		books:   books,
		borrows: borrows,
		now:     time.Now,
	}
}

// Add validates and registers a new book.
func (s *bookService) Add(ctx context.Context, title, publisher, category string) (*domain.Book, error) {
	book, err := domain.NewBook(title, publisher, category)
	if err != nil {
		return nil, err
	}
	if err := s.coord.AddBook(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// Remove deletes a book from the catalogue.
func (s *bookService) Remove(ctx context.Context, bookUUID uuid.UUID) error {
	return s.coord.RemoveBook(ctx, bookUUID)
}

// Get fetches a single book.
func (s *bookService) Get(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error) {
	return s.books.Get(ctx, bookUUID)
}

// ListAvailable lists borrowable books.
func (s *bookService) ListAvailable(ctx context.Context) ([]*domain.Book, error) {
	return s.books.ListAvailable(ctx)
}

// ListUnavailable lists lent-out books.
func (s *bookService) ListUnavailable(ctx context.Context) ([]*domain.Book, error) {
	return s.books.ListUnavailable(ctx)
}

// Filter lists borrowable books matching publisher and/or category.
func (s *bookService) Filter(ctx context.Context, publisher, category string) ([]*domain.Book, error) {
	return s.books.Filter(ctx, publisher, category)
}

// Availability reports whether the book can be borrowed right now.
func (s *bookService) Availability(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	book, err := s.books.Get(ctx, bookUUID)
	if err != nil {
		return false, err
	}
	return book.AvailabilityStatus, nil
}

// Borrow lends the book to the user for the given number of days.
func (s *bookService) Borrow(ctx context.Context, userUUID, bookUUID uuid.UUID, days int) (*domain.BorrowRecord, error) {
	return s.coord.BorrowBook(ctx, userUUID, bookUUID, days)
}

// Return closes the open borrow record for the book.
func (s *bookService) Return(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	return s.coord.ReturnBook(ctx, bookUUID)
}

// ListBorrowed lists open borrow records with their overdue state.
func (s *bookService) ListBorrowed(ctx context.Context) ([]*BorrowStatus, error) {
	records, err := s.borrows.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	return withOverdue(records, s.now()), nil
}

// userService implements the UserService interface. Enrollment is rate
// limited: it is the only unauthenticated write surface.
type userService struct {
	coord   Coordinator
	users   *repository.Users
	borrows *repository.Borrows
	limiter *rate.Limiter
	now     func() time.Time
}

// NewUserService creates a new user enrollment service instance.
func NewUserService(coord Coordinator, users *repository.Users, borrows *repository.Borrows) UserService {
	return &userService{
		coord:   coord,
		users:   users,
		borrows: borrows,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		now:     time.Now,
	}
}

// Enroll validates and registers a new user.
func (s *userService) Enroll(ctx context.Context, email, firstname, lastname string) (*domain.User, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	user, err := domain.NewUser(email, firstname, lastname)
	if err != nil {
		return nil, err
	}
	if err := s.coord.EnrollUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Remove deletes a user.
func (s *userService) Remove(ctx context.Context, userUUID uuid.UUID) error {
	return s.coord.RemoveUser(ctx, userUUID)
}

// List returns all enrolled users.
func (s *userService) List(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// Borrowed lists the user's borrow records with their overdue state.
func (s *userService) Borrowed(ctx context.Context, userUUID uuid.UUID) ([]*BorrowStatus, error) {
	if _, err := s.users.Get(ctx, userUUID); err != nil {
		return nil, err
	}
	records, err := s.borrows.ListByUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	return withOverdue(records, s.now()), nil
}

func withOverdue(records []*domain.BorrowRecord, asOf time.Time) []*BorrowStatus {
	statuses := make([]*BorrowStatus, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, &BorrowStatus{
			BorrowRecord: record,
			Overdue:      !record.Returned && record.IsOverdue(asOf),
		})
	}
	return statuses
}
