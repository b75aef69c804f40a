package users

import (
	"context"
	"database/sql"
	"errors"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) EnsureByIdentity(ctx context.Context, user User) (User, error) {
	const insert = `
INSERT INTO users (id, identity, display_name, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (identity) DO NOTHING`
	if _, err := r.DB.ExecContext(ctx, insert, user.ID, user.Identity, user.DisplayName); err != nil {
		return User{}, err
	}
	return r.GetByIdentity(ctx, user.Identity)
}

func (r *PGRepo) GetByIdentity(ctx context.Context, identity string) (User, error) {
	const query = `
SELECT id, identity, display_name, created_at
FROM users
WHERE identity = $1
LIMIT 1`
	return scanUser(r.DB.QueryRowContext(ctx, query, identity))
}

func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	const query = `
SELECT id, identity, display_name, created_at
FROM users
WHERE id = $1
LIMIT 1`
	return scanUser(r.DB.QueryRowContext(ctx, query, userID))
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Identity, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}
