// internal/repository/users.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"librelay/internal/domain"
)

// UserStore is the single-store adapter surface the user repository fans out
// over. Satisfied by *store.UserStore.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) (bool, error)
	Get(ctx context.Context, userUUID uuid.UUID) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	Delete(ctx context.Context, userUUID uuid.UUID) (bool, error)
}

// Users executes user operations against an ordered set of named stores.
type Users struct {
	stores []UserStore
	policy ReadPolicy
}

// NewUsers creates a user repository over the given stores.
func NewUsers(policy ReadPolicy, stores ...UserStore) *Users {
	return &Users{stores: stores, policy: policy}
}

// Enroll inserts the user into every configured store.
func (r *Users) Enroll(ctx context.Context, user *domain.User) error {
	var errs []error
	for _, s := range r.stores {
		if _, err := s.Create(ctx, user); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("enroll user %s: %w", user.UUID, errors.Join(errs...))
	}
	return nil
}

// Remove deletes the user from every configured store.
func (r *Users) Remove(ctx context.Context, userUUID uuid.UUID) (bool, error) {
	removed := false
	var errs []error
	for _, s := range r.stores {
		ok, err := s.Delete(ctx, userUUID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed = removed || ok
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("remove user %s: %w", userUUID, errors.Join(errs...))
	}
	return removed, nil
}

// Get fetches a user according to the read policy.
func (r *Users) Get(ctx context.Context, userUUID uuid.UUID) (*domain.User, error) {
	switch r.policy {
	case ReadFirstAvailable:
		for _, s := range r.stores {
			user, err := s.Get(ctx, userUUID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return user, nil
		}
		return nil, domain.ErrNotFound
	default:
		return r.stores[0].Get(ctx, userUUID)
	}
}

// List returns all users from the primary store.
func (r *Users) List(ctx context.Context) ([]*domain.User, error) {
	return r.stores[0].List(ctx)
}
