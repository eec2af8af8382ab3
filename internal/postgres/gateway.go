package postgres

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/doodletogether/doodled/internal/domain"
	"github.com/doodletogether/doodled/internal/metrics"
)

// reconnectInterval is the fixed delay between connection attempts while the
// backend is unreachable. Retried indefinitely; the relay runs degraded in
// the meantime.
const reconnectInterval = 15 * time.Second

// Gateway owns the process-wide pool handle and its availability state. The
// pool pointer is nil until the first successful connect; repositories go
// through Pool() and get ErrDatabaseNotReady while it is.
type Gateway struct {
	databaseURL string
	clock       clockwork.Clock
	pool        atomic.Pointer[pgxpool.Pool]
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func NewGateway(databaseURL string, clock clockwork.Clock) *Gateway {
	return &Gateway{
		databaseURL: databaseURL,
		clock:       clock,
		stopCh:      make(chan struct{}),
	}
}

// Start attempts an initial connection. On failure it launches a background
// loop retrying on a fixed interval until a connect succeeds or Close is
// called. Never returns an error: an unreachable database is a degraded
// state, not a startup failure.
func (g *Gateway) Start(ctx context.Context) {
	if g.databaseURL == "" {
		slog.Warn("No DATABASE_URL configured, running without persistence")
		return
	}

	if g.tryConnect(ctx) {
		return
	}

	go g.reconnectLoop()
}

func (g *Gateway) reconnectLoop() {
	ticker := g.clock.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			connected := g.tryConnect(ctx)
			cancel()
			if connected {
				return
			}
		case <-g.stopCh:
			return
		}
	}
}

func (g *Gateway) tryConnect(ctx context.Context) bool {
	pool, err := Connect(ctx, g.databaseURL)
	if err != nil {
		slog.Warn("Database unreachable, will retry", "retry_interval", reconnectInterval, "error", err)
		return false
	}

	if err := RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations, will retry", "error", err)
		pool.Close()
		return false
	}

	g.pool.Store(pool)
	metrics.DatabaseAvailable.Set(1)
	slog.Info("Persistence backend available")
	return true
}

// Available reports whether the backend has been reached at least once.
func (g *Gateway) Available() bool {
	return g.pool.Load() != nil
}

// Pool returns the live pool or ErrDatabaseNotReady.
func (g *Gateway) Pool() (*pgxpool.Pool, error) {
	pool := g.pool.Load()
	if pool == nil {
		return nil, domain.ErrDatabaseNotReady
	}
	return pool, nil
}

func (g *Gateway) HealthCheck(ctx context.Context) error {
	pool, err := g.Pool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close stops the reconnect loop and closes the pool if one was established.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	if pool := g.pool.Swap(nil); pool != nil {
		pool.Close()
	}
	metrics.DatabaseAvailable.Set(0)
}
