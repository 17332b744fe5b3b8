// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so adapter queries can run
// standalone or composed into a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is one named data store instance. Side effects of its adapters are
// confined to this single store; cross-store coordination happens above.
type Store struct {
	Name    string
	DB      *sql.DB
	Books   *BookStore
	Users   *UserStore
	Borrows *BorrowStore
}

// New wraps an open database handle as a named store.
func New(name string, db *sql.DB) *Store {
	return &Store{
		Name:    name,
		DB:      db,
		Books:   NewBookStore(name, db),
		Users:   NewUserStore(name, db),
		Borrows: NewBorrowStore(name, db),
	}
}

// Open connects to a named store and verifies the connection.
func Open(ctx context.Context, name, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store %q: %w", name, err)
	}
	return New(name, db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
