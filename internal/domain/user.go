package domain

import (
	"context"
	"time"
)

// User is a registered whiteboard account. Name is the unique key; accounts
// created implicitly by a presence update (set-username) carry an empty
// PasswordHash and cannot log in until they register.
type User struct {
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	LastActive   time.Time
}

type UserRepository interface {
	GetByName(ctx context.Context, name string) (*User, error)
	// Insert creates a new account. Returns ErrUserExists if the name is taken.
	Insert(ctx context.Context, name, passwordHash string) (*User, error)
	// Touch upserts the account's last_active timestamp.
	Touch(ctx context.Context, name string) error
	// Delete removes the account. Returns ErrUserNotFound if no row matched.
	Delete(ctx context.Context, name string) error
}
