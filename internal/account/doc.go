// Package account implements register, login, and delete-account against the
// user repository. Every operation degrades to "Database not ready" while the
// persistence backend is unreachable or the circuit breaker is open.
package account
