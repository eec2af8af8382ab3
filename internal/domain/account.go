package domain

import "context"

// AccountResult is the outcome of a credential operation, delivered back to
// the originating connection as a login-result, register-result, or
// user-deleted event. Business-logic failures (wrong password, duplicate
// name) are results, not errors.
type AccountResult struct {
	Success bool
	Name    string
	Message string
}

// AccountService performs credential operations with graceful degradation
// when the persistence backend is unavailable.
type AccountService interface {
	Register(ctx context.Context, name, password string) AccountResult
	Login(ctx context.Context, name, password string) AccountResult
	Delete(ctx context.Context, name string) AccountResult
	// Touch upserts the account's last_active timestamp. Fire-and-forget
	// callers log failures and continue.
	Touch(ctx context.Context, name string) error
}

// EventBridge relays broadcast frames to peer server instances.
type EventBridge interface {
	Publish(ctx context.Context, frame []byte)
}
