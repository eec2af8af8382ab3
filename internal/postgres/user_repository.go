package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/doodletogether/doodled/internal/domain"
)

// userColumns must match the Scan order in scanUser.
const userColumns = `name, password_hash, created_at, last_active`

// UserRepo implements domain.UserRepository backed by PostgreSQL.
type UserRepo struct {
	gateway *Gateway
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepo(gateway *Gateway) *UserRepo {
	return &UserRepo{gateway: gateway}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.Name, &user.PasswordHash, &user.CreatedAt, &user.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*domain.User, error) {
	pool, err := r.gateway.Pool()
	if err != nil {
		return nil, err
	}
	return scanUser(pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = $1`, name))
}

func (r *UserRepo) Insert(ctx context.Context, name, passwordHash string) (*domain.User, error) {
	pool, err := r.gateway.Pool()
	if err != nil {
		return nil, err
	}

	user, err := scanUser(pool.QueryRow(ctx, `
		INSERT INTO users (name, password_hash, created_at, last_active)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (name) DO NOTHING
		RETURNING `+userColumns, name, passwordHash))
	if errors.Is(err, domain.ErrUserNotFound) {
		// DO NOTHING returned no row: the name is already taken.
		return nil, domain.ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Touch upserts last_active. A presence update may reference a name that was
// never registered; the row is created with an empty password hash so the
// account stays unregistered until an explicit register.
func (r *UserRepo) Touch(ctx context.Context, name string) error {
	pool, err := r.gateway.Pool()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO users (name, created_at, last_active)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET last_active = NOW()
	`, name)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, name string) error {
	pool, err := r.gateway.Pool()
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, `DELETE FROM users WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
