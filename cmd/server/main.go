package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/doodletogether/doodled/internal/account"
	"github.com/doodletogether/doodled/internal/config"
	"github.com/doodletogether/doodled/internal/domain"
	"github.com/doodletogether/doodled/internal/logging"
	"github.com/doodletogether/doodled/internal/postgres"
	"github.com/doodletogether/doodled/internal/redis"
	"github.com/doodletogether/doodled/internal/relay"
	"github.com/doodletogether/doodled/internal/server"
)

func setupConfig() *config.Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBridge(ctx context.Context, cfg *config.Config) *redis.Bridge {
	if cfg.RedisURL == "" {
		return nil
	}

	bridge, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Event bridge enabled")
	return bridge
}

// runBridge re-broadcasts frames published by peer instances to local clients.
func runBridge(ctx context.Context, bridge *redis.Bridge, hub *relay.Hub) {
	for frame := range bridge.Subscribe(ctx) {
		hub.BroadcastAll(frame)
	}
}

func runGracefulShutdown(srv *server.Server, hub *relay.Hub, gateway *postgres.Gateway, bridge *redis.Bridge, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()
		cancel()

		if bridge != nil {
			if err := bridge.Close(); err != nil {
				slog.Error("Failed to close event bridge", "error", err)
			}
		}
		gateway.Close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The gateway retries in the background; an unreachable database means
	// degraded account/persistence behavior, never a startup failure.
	gateway := postgres.NewGateway(cfg.DatabaseURL, clock)
	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	gateway.Start(startCtx)
	startCancel()

	userRepo := postgres.NewUserRepo(gateway)
	drawingRepo := postgres.NewDrawingRepo(gateway)
	accountSvc := account.NewService(userRepo, gateway)

	hub := relay.NewHub(clock)

	bridge := setupBridge(ctx, cfg)

	// Pass nil explicitly to avoid a typed-nil interface value.
	var eventBridge domain.EventBridge
	if bridge != nil {
		eventBridge = bridge
	}
	dispatcher := relay.NewDispatcher(hub, accountSvc, drawingRepo, eventBridge, clock)

	if bridge != nil {
		go runBridge(ctx, bridge, hub)
	}

	srv := server.NewServer(cfg, dispatcher, gateway)

	done := runGracefulShutdown(srv, hub, gateway, bridge, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
