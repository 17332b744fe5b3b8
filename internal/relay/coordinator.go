// internal/relay/coordinator.go
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librelay/internal/domain"
	"librelay/internal/logger"
	"librelay/internal/store"
)

// Coordinator guarantees that a mutation accepted by the primary store is
// eventually reflected in every secondary store. Each write commits the
// store mutation and the describing event in one transaction; the forwarder
// and consumer carry the event to the secondaries asynchronously. Callers
// get their ack when the primary transaction commits.
type Coordinator struct {
	primary *store.Store
	outbox  *Outbox
	library *domain.Library
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewCoordinator creates a coordinator writing to the given primary store.
func NewCoordinator(primary *store.Store, library *domain.Library, log *logger.Logger) *Coordinator {
	return &Coordinator{
		primary: primary,
		outbox:  NewOutbox(primary.Name, primary.DB),
		library: library,
		logger:  log,
		tracer:  otel.Tracer("librelay/relay"),
	}
}

// PrimaryStore returns the name of the store this coordinator writes.
func (c *Coordinator) PrimaryStore() string {
	return c.primary.Name
}

// AddBook writes the book to the primary store and stages the add event.
func (c *Coordinator) AddBook(ctx context.Context, book *domain.Book) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.add_book",
		trace.WithAttributes(attribute.String("book.uuid", book.UUID.String())))
	defer span.End()

	return c.inTx(ctx, func(tx *sql.Tx) error {
		created, err := c.primary.Books.CreateTx(ctx, tx, book)
		if err != nil {
			return err
		}
		if !created {
			return errors.Join(domain.ErrInvalidState,
				fmt.Errorf("book %s already exists", book.UUID))
		}

		event, err := NewBookAdded(book)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
}

// RemoveBook deletes the book from the primary store and stages the remove
// event. A missing book is NotFound; no event is staged for it.
func (c *Coordinator) RemoveBook(ctx context.Context, bookUUID uuid.UUID) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.remove_book",
		trace.WithAttributes(attribute.String("book.uuid", bookUUID.String())))
	defer span.End()

	return c.inTx(ctx, func(tx *sql.Tx) error {
		deleted, err := c.primary.Books.DeleteTx(ctx, tx, bookUUID)
		if err != nil {
			return err
		}
		if !deleted {
			return errors.Join(domain.ErrNotFound, fmt.Errorf("book %s", bookUUID))
		}

		event, err := NewBookRemoved(bookUUID)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
}

// EnrollUser writes the user to the primary store and stages the add event.
func (c *Coordinator) EnrollUser(ctx context.Context, user *domain.User) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.enroll_user",
		trace.WithAttributes(attribute.String("user.uuid", user.UUID.String())))
	defer span.End()

	return c.inTx(ctx, func(tx *sql.Tx) error {
		created, err := c.primary.Users.CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		if !created {
			return errors.Join(domain.ErrInvalidState,
				fmt.Errorf("user %s already enrolled", user.UUID))
		}

		event, err := NewUserEnrolled(user)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
}

// RemoveUser deletes the user from the primary store and stages the remove event.
func (c *Coordinator) RemoveUser(ctx context.Context, userUUID uuid.UUID) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.remove_user",
		trace.WithAttributes(attribute.String("user.uuid", userUUID.String())))
	defer span.End()

	return c.inTx(ctx, func(tx *sql.Tx) error {
		deleted, err := c.primary.Users.DeleteTx(ctx, tx, userUUID)
		if err != nil {
			return err
		}
		if !deleted {
			return errors.Join(domain.ErrNotFound, fmt.Errorf("user %s", userUUID))
		}

		event, err := NewUserRemoved(userUUID)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
}

// BorrowBook creates a borrow record for the user and book. The guarded
// availability flip, the record insert and the event staging share one
// transaction, so of N concurrent borrows on a book exactly one commits and
// the rest fail the guard with InvalidState.
func (c *Coordinator) BorrowBook(ctx context.Context, userUUID, bookUUID uuid.UUID, days int) (*domain.BorrowRecord, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.borrow_book",
		trace.WithAttributes(
			attribute.String("user.uuid", userUUID.String()),
			attribute.String("book.uuid", bookUUID.String()),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	user, err := c.primary.Users.Get(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	book, err := c.primary.Books.Get(ctx, bookUUID)
	if err != nil {
		return nil, err
	}

	record, err := c.library.BorrowBook(user, book, days)
	if err != nil {
		return nil, err
	}

	err = c.inTx(ctx, func(tx *sql.Tx) error {
		lent, err := c.primary.Books.MarkLentTx(ctx, tx, bookUUID)
		if err != nil {
			return err
		}
		if !lent {
			// A concurrent borrow won the guard between our read and this write.
			return errors.Join(domain.ErrInvalidState,
				fmt.Errorf("book %s is already lent out", bookUUID))
		}

		if _, err := c.primary.Borrows.CreateTx(ctx, tx, record); err != nil {
			return err
		}

		event, err := NewBorrowCreated(record)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("record.uuid", record.UUID.String()))
	return record, nil
}

// ReturnBook closes the open borrow record for the book and restores its
// availability, staging the close event in the same transaction.
func (c *Coordinator) ReturnBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.return_book",
		trace.WithAttributes(attribute.String("book.uuid", bookUUID.String())))
	defer span.End()

	record, err := c.primary.Borrows.GetOpenByBook(ctx, bookUUID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Join(domain.ErrInvalidState,
				fmt.Errorf("book %s has no open borrow record", bookUUID))
		}
		return nil, err
	}

	err = c.inTx(ctx, func(tx *sql.Tx) error {
		closed, err := c.primary.Borrows.CloseTx(ctx, tx, record.UUID)
		if err != nil {
			return err
		}
		if !closed {
			return errors.Join(domain.ErrInvalidState,
				fmt.Errorf("borrow record %s is already closed", record.UUID))
		}

		if _, err := c.primary.Books.MarkReturnedTx(ctx, tx, bookUUID); err != nil {
			return err
		}

		event, err := NewBorrowClosed(record.UUID, bookUUID)
		if err != nil {
			return err
		}
		return c.outbox.AppendTx(ctx, tx, &event)
	})
	if err != nil {
		return nil, err
	}

	record.Returned = true
	return record, nil
}

func (c *Coordinator) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.primary.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction on store %q: %w", c.primary.Name, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction on store %q: %w", c.primary.Name, err)
	}
	return nil
}
