// internal/store/user.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"librelay/internal/domain"
)

// UserStore is the user adapter for one named store.
type UserStore struct {
	name string
	db   *sql.DB
}

// NewUserStore binds a user adapter to a named store.
func NewUserStore(name string, db *sql.DB) *UserStore {
	return &UserStore{name: name, db: db}
}

// Create inserts the user, ignoring a duplicate correlation UUID. It reports
// whether a row was actually inserted.
func (s *UserStore) Create(ctx context.Context, user *domain.User) (bool, error) {
	return s.create(ctx, s.db, user)
}

// CreateTx is Create composed into a caller-owned transaction.
func (s *UserStore) CreateTx(ctx context.Context, tx *sql.Tx, user *domain.User) (bool, error) {
	return s.create(ctx, tx, user)
}

func (s *UserStore) create(ctx context.Context, q DBTX, user *domain.User) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO users (user_uuid, email, firstname, lastname)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_uuid) DO NOTHING
	`, user.UUID, user.Email, user.Firstname, user.Lastname)
	if err != nil {
		return false, fmt.Errorf("store %q: insert user: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: insert user: %w", s.name, err)
	}
	return n == 1, nil
}

// Get fetches a user by correlation UUID.
func (s *UserStore) Get(ctx context.Context, userUUID uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, user_uuid, email, firstname, lastname, created, modified
		FROM users
		WHERE user_uuid = $1
	`, userUUID).Scan(
		&user.ID,
		&user.UUID,
		&user.Email,
		&user.Firstname,
		&user.Lastname,
		&user.Created,
		&user.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store %q: get user: %w", s.name, err)
	}
	return user, nil
}

// List returns all users in this store.
func (s *UserStore) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_uuid, email, firstname, lastname, created, modified
		FROM users
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store %q: list users: %w", s.name, err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.ID,
			&user.UUID,
			&user.Email,
			&user.Firstname,
			&user.Lastname,
			&user.Created,
			&user.Modified,
		); err != nil {
			return nil, fmt.Errorf("store %q: scan user: %w", s.name, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store %q: iterate users: %w", s.name, err)
	}
	return users, nil
}

// Delete removes the user by correlation UUID. Deleting an absent UUID is a
// no-op success, reported as false.
func (s *UserStore) Delete(ctx context.Context, userUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, s.db, userUUID)
}

// DeleteTx is Delete composed into a caller-owned transaction.
func (s *UserStore) DeleteTx(ctx context.Context, tx *sql.Tx, userUUID uuid.UUID) (bool, error) {
	return s.delete(ctx, tx, userUUID)
}

func (s *UserStore) delete(ctx context.Context, q DBTX, userUUID uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE user_uuid = $1`, userUUID)
	if err != nil {
		return false, fmt.Errorf("store %q: delete user: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store %q: delete user: %w", s.name, err)
	}
	return n == 1, nil
}
