// Package redis implements the optional cross-instance event bridge on Redis
// Pub/Sub. Each instance publishes its relayed drawing-surface frames to a
// shared channel and re-broadcasts frames that originated elsewhere, so
// clients on different instances share one canvas. Presence lists and
// connection counts stay per-instance.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/doodletogether/doodled/internal/metrics"
)

const eventChannel = "doodled:events"

// frame wraps a relayed wire frame with the publishing instance's identity so
// subscribers can ignore their own traffic.
type frame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Bridge relays broadcast frames between server instances.
type Bridge struct {
	rdb        *goredis.Client
	instanceID string
}

// Connect creates a bridge from a URL (e.g. "redis://localhost:6379") and
// verifies the connection.
func Connect(ctx context.Context, redisURL string) (*Bridge, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Bridge{rdb: rdb, instanceID: uuid.NewString()}, nil
}

// Publish sends a frame to peer instances. Best-effort: failures are logged
// and counted, never surfaced to the relay path.
func (b *Bridge) Publish(ctx context.Context, data []byte) {
	msg, err := json.Marshal(frame{Origin: b.instanceID, Data: data})
	if err != nil {
		slog.Error("Failed to marshal bridge frame", "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, eventChannel, msg).Err(); err != nil {
		metrics.BridgeErrors.Inc()
		slog.Warn("Failed to publish bridge frame", "error", err)
		return
	}
	metrics.BridgeMessages.WithLabelValues("published").Inc()
}

// Subscribe returns a channel of frames published by other instances.
// The channel closes when ctx is cancelled or the subscription dies.
func (b *Bridge) Subscribe(ctx context.Context) <-chan []byte {
	sub := b.rdb.Subscribe(ctx, eventChannel)
	out := make(chan []byte, 64)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var fr frame
				if err := json.Unmarshal([]byte(msg.Payload), &fr); err != nil {
					metrics.BridgeErrors.Inc()
					slog.Warn("Failed to unmarshal bridge frame", "error", err)
					continue
				}
				if fr.Origin == b.instanceID {
					continue
				}
				metrics.BridgeMessages.WithLabelValues("received").Inc()
				select {
				case out <- fr.Data:
				default:
					// Drop if the local fan-out is behind.
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (b *Bridge) HealthCheck(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}
