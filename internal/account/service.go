package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/doodletogether/doodled/internal/crypto"
	"github.com/doodletogether/doodled/internal/domain"
	"github.com/doodletogether/doodled/internal/metrics"
)

const msgDatabaseNotReady = "Database not ready"

// AvailabilityGate reports whether the persistence backend is reachable.
type AvailabilityGate interface {
	Available() bool
}

// Service implements domain.AccountService. Repository calls run behind a
// circuit breaker so a flapping backend trips back to the degradation policy
// instead of hanging every credential request.
type Service struct {
	users   domain.UserRepository
	gate    AvailabilityGate
	breaker *gobreaker.CircuitBreaker
}

var _ domain.AccountService = (*Service)(nil)

func NewService(users domain.UserRepository, gate AvailabilityGate) *Service {
	settings := gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Service{
		users:   users,
		gate:    gate,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *Service) Register(ctx context.Context, name, password string) domain.AccountResult {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return s.failure("register", "Name and password are required")
	}

	_, err := s.execute(func() (any, error) {
		return s.users.GetByName(ctx, name)
	})
	switch {
	case err == nil:
		return s.failure("register", "Username already exists")
	case errors.Is(err, domain.ErrUserNotFound):
		// free to register
	default:
		return s.failure("register", degradeMessage(err))
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return s.failure("register", "Registration failed")
	}

	_, err = s.execute(func() (any, error) {
		return s.users.Insert(ctx, name, hash)
	})
	switch {
	case errors.Is(err, domain.ErrUserExists):
		// lost a race with a concurrent register for the same name
		return s.failure("register", "Username already exists")
	case err != nil:
		return s.failure("register", degradeMessage(err))
	}

	metrics.AccountOperations.WithLabelValues("register", "success").Inc()
	return domain.AccountResult{Success: true, Name: name}
}

func (s *Service) Login(ctx context.Context, name, password string) domain.AccountResult {
	name = strings.TrimSpace(name)

	v, err := s.execute(func() (any, error) {
		return s.users.GetByName(ctx, name)
	})
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return s.failure("login", "User not found. Please register first.")
	case err != nil:
		return s.failure("login", degradeMessage(err))
	}
	user := v.(*domain.User)

	// Accounts created implicitly by set-username have no password yet.
	if user.PasswordHash == "" {
		return s.failure("login", "Incorrect password")
	}

	match, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		slog.Error("Failed to verify password", "user", name, "error", err)
		return s.failure("login", "Login failed")
	}
	if !match {
		return s.failure("login", "Incorrect password")
	}

	metrics.AccountOperations.WithLabelValues("login", "success").Inc()
	return domain.AccountResult{Success: true, Name: user.Name}
}

func (s *Service) Delete(ctx context.Context, name string) domain.AccountResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.failure("delete", "Account not found")
	}

	_, err := s.execute(func() (any, error) {
		return nil, s.users.Delete(ctx, name)
	})
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return s.failure("delete", "Account not found")
	case err != nil:
		return s.failure("delete", degradeMessage(err))
	}

	metrics.AccountOperations.WithLabelValues("delete", "success").Inc()
	return domain.AccountResult{Success: true, Message: "Account deleted"}
}

func (s *Service) Touch(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	_, err := s.execute(func() (any, error) {
		return nil, s.users.Touch(ctx, name)
	})
	return err
}

// expectedOutcome carries business-logic failures through the circuit breaker
// without counting them as backend faults.
type expectedOutcome struct {
	value any
	err   error
}

func (s *Service) execute(op func() (any, error)) (any, error) {
	if !s.gate.Available() {
		return nil, domain.ErrDatabaseNotReady
	}

	v, err := s.breaker.Execute(func() (any, error) {
		v, err := op()
		if err != nil && isExpected(err) {
			return expectedOutcome{value: v, err: err}, nil
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrDatabaseNotReady
		}
		return nil, err
	}
	if outcome, ok := v.(expectedOutcome); ok {
		return outcome.value, outcome.err
	}
	return v, nil
}

func isExpected(err error) bool {
	return errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrUserExists)
}

func (s *Service) failure(operation, message string) domain.AccountResult {
	metrics.AccountOperations.WithLabelValues(operation, "failure").Inc()
	return domain.AccountResult{Success: false, Message: message}
}

func degradeMessage(err error) string {
	if errors.Is(err, domain.ErrDatabaseNotReady) {
		return msgDatabaseNotReady
	}
	return err.Error()
}
