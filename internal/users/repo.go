package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrUnauthorized = errors.New("unauthorized")
)

type Repo interface {
	// EnsureByIdentity inserts user unless a row with the same identity exists,
	// then returns the stored row. Concurrent calls converge on one user.
	EnsureByIdentity(ctx context.Context, user User) (User, error)
	GetByIdentity(ctx context.Context, identity string) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
}
