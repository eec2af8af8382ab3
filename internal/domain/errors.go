package domain

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrDatabaseNotReady = errors.New("database not ready")
)
