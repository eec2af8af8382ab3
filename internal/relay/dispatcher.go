package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/doodletogether/doodled/internal/domain"
	"github.com/doodletogether/doodled/internal/metrics"
	"github.com/doodletogether/doodled/internal/platform/retry"
	"github.com/doodletogether/doodled/internal/protocol"
)

const (
	// defaultName is stamped on chat, reaction, and drawing-status events
	// when neither the payload nor the registry yields a sender name.
	defaultName = "Anonymous"

	chatMessagesPerSecond = 5
	chatBurst             = 10

	persistTimeout = 30 * time.Second
)

// Peer is the per-connection handle passed to HandleMessage by the read pump.
type Peer struct {
	ID          uuid.UUID
	chatLimiter *rate.Limiter
}

// Dispatcher decodes inbound envelopes, stamps authoritative fields, and
// routes events to the hub, the account service, and drawing persistence.
// Persistence calls never run on the hub goroutine: request/response flows
// run on the caller's read goroutine, fire-and-forget flows on detached ones.
type Dispatcher struct {
	hub      *Hub
	accounts domain.AccountService
	drawings domain.DrawingRepository
	bridge   domain.EventBridge
	clock    clockwork.Clock
}

func NewDispatcher(hub *Hub, accounts domain.AccountService, drawings domain.DrawingRepository, bridge domain.EventBridge, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		accounts: accounts,
		drawings: drawings,
		bridge:   bridge,
		clock:    clock,
	}
}

// Connect registers a new anonymous connection with the hub.
func (d *Dispatcher) Connect(conn *websocket.Conn) (*Peer, error) {
	peer := &Peer{
		ID:          uuid.New(),
		chatLimiter: rate.NewLimiter(rate.Limit(chatMessagesPerSecond), chatBurst),
	}
	if err := d.hub.Register(peer.ID, conn); err != nil {
		return nil, err
	}
	return peer, nil
}

// Disconnect runs lifecycle cleanup: presence, counts, and stale-cursor
// removal are broadcast by the hub.
func (d *Dispatcher) Disconnect(peer *Peer) {
	d.hub.Unregister(peer.ID)
}

// HandleMessage routes one inbound frame. Malformed payloads are dropped and
// logged; nothing here may panic the read pump.
func (d *Dispatcher) HandleMessage(ctx context.Context, peer *Peer, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		d.drop(peer, "malformed", err)
		return
	}

	switch env.Event {
	case protocol.EventSetUsername:
		d.handleSetUsername(peer, env.Data)

	case protocol.EventDraw, protocol.EventDrawText, protocol.EventClear,
		protocol.EventPan, protocol.EventAudioSignal:
		// Transparent pipe: forward the frame verbatim to everyone else.
		d.relayOthers(peer, env.Event, raw)

	case protocol.EventCursorMove:
		d.handleCursorMove(peer, env.Data)

	case protocol.EventChatMessage:
		d.handleChatMessage(peer, env.Data)

	case protocol.EventStartDrawing:
		d.handleDrawingStatus(peer, env.Data, true)
	case protocol.EventStopDrawing:
		d.handleDrawingStatus(peer, env.Data, false)

	case protocol.EventReaction:
		d.handleReaction(peer, env.Data)

	case protocol.EventSaveDrawing:
		d.handleSaveDrawing(peer, env.Data)

	case protocol.EventLogin:
		d.handleLogin(ctx, peer, env.Data)
	case protocol.EventRegister:
		d.handleRegister(ctx, peer, env.Data)
	case protocol.EventLogout:
		d.hub.ClearName(peer.ID)
	case protocol.EventDeleteAccount:
		d.handleDeleteAccount(ctx, peer, env.Data)

	default:
		metrics.EventsDropped.WithLabelValues("unknown").Inc()
		slog.Debug("Dropping unknown event", "event", env.Event, "connection_id", peer.ID.String())
	}
}

func (d *Dispatcher) handleSetUsername(peer *Peer, data json.RawMessage) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		d.drop(peer, "malformed", err)
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		d.drop(peer, "empty", nil)
		return
	}

	d.hub.SetName(peer.ID, name)

	// Fire-and-forget lastActive upsert. Failure is logged, never surfaced.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := d.accounts.Touch(ctx, name); err != nil {
			if errors.Is(err, domain.ErrDatabaseNotReady) {
				slog.Debug("Skipping lastActive upsert, database not ready", "user", name)
				return
			}
			metrics.PersistenceFailures.WithLabelValues("touch_user").Inc()
			slog.Error("Failed to upsert lastActive", "user", name, "error", err)
		}
	}()
}

func (d *Dispatcher) handleCursorMove(peer *Peer, data json.RawMessage) {
	var cursor protocol.CursorMove
	if err := json.Unmarshal(data, &cursor); err != nil {
		d.drop(peer, "malformed", err)
		return
	}
	cursor.ID = peer.ID.String()

	frame, err := protocol.Encode(protocol.EventCursorMove, cursor)
	if err != nil {
		slog.Error("Failed to encode cursor-move", "error", err)
		return
	}
	d.relayOthers(peer, protocol.EventCursorMove, frame)
}

func (d *Dispatcher) handleChatMessage(peer *Peer, data json.RawMessage) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.drop(peer, "malformed", err)
		return
	}

	msg.Message = strings.TrimSpace(msg.Message)
	if msg.Message == "" {
		// Whitespace-only chat produces no event and no error.
		metrics.EventsDropped.WithLabelValues("empty").Inc()
		return
	}

	if !peer.chatLimiter.Allow() {
		metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
		slog.Debug("Dropping rate-limited chat message", "connection_id", peer.ID.String())
		return
	}

	msg.Name = d.resolveName(peer, msg.Name)
	msg.Timestamp = d.clock.Now().UTC()

	frame, err := protocol.Encode(protocol.EventChatMessage, msg)
	if err != nil {
		slog.Error("Failed to encode chat-message", "error", err)
		return
	}
	d.relayAll(protocol.EventChatMessage, frame)
}

func (d *Dispatcher) handleDrawingStatus(peer *Peer, data json.RawMessage, isDrawing bool) {
	var status protocol.DrawingStatus
	if len(data) > 0 {
		if err := json.Unmarshal(data, &status); err != nil {
			d.drop(peer, "malformed", err)
			return
		}
	}
	status.Name = d.resolveName(peer, status.Name)
	status.IsDrawing = isDrawing

	frame, err := protocol.Encode(protocol.EventDrawingStatus, status)
	if err != nil {
		slog.Error("Failed to encode drawing-status", "error", err)
		return
	}
	d.relayAll(protocol.EventDrawingStatus, frame)
}

func (d *Dispatcher) handleReaction(peer *Peer, data json.RawMessage) {
	var reaction protocol.Reaction
	if err := json.Unmarshal(data, &reaction); err != nil {
		d.drop(peer, "malformed", err)
		return
	}
	if reaction.Type == "" {
		d.drop(peer, "empty", nil)
		return
	}
	reaction.Name = d.resolveName(peer, reaction.Name)
	reaction.Timestamp = d.clock.Now().UTC()

	frame, err := protocol.Encode(protocol.EventReaction, reaction)
	if err != nil {
		slog.Error("Failed to encode reaction", "error", err)
		return
	}
	d.relayAll(protocol.EventReaction, frame)
}

func (d *Dispatcher) handleSaveDrawing(peer *Peer, data json.RawMessage) {
	var snapshot protocol.SaveDrawing
	if err := json.Unmarshal(data, &snapshot); err != nil {
		d.drop(peer, "malformed", err)
		return
	}
	if snapshot.Image == "" {
		d.drop(peer, "empty", nil)
		return
	}

	// Fire-and-forget insert, detached from the connection's lifetime.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		policy := retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Retrying drawing insert", "attempt", attempt, "backoff", backoff, "error", err)
			},
		}
		classify := func(err error) retry.Action {
			if errors.Is(err, domain.ErrDatabaseNotReady) {
				return retry.Stop
			}
			return retry.Retry
		}

		err := retry.DoVoid(ctx, policy, classify, func() error {
			return d.drawings.Insert(ctx, snapshot.Image)
		})
		if err != nil {
			if errors.Is(err, domain.ErrDatabaseNotReady) {
				slog.Debug("Skipping drawing save, database not ready")
				return
			}
			metrics.PersistenceFailures.WithLabelValues("save_drawing").Inc()
			slog.Error("Failed to save drawing", "error", err)
			return
		}
		metrics.DrawingsSaved.Inc()
		slog.Info("Drawing saved")
	}()
}

func (d *Dispatcher) handleLogin(ctx context.Context, peer *Peer, data json.RawMessage) {
	creds, ok := d.decodeCredentials(peer, data)
	if !ok {
		return
	}

	result := d.accounts.Login(ctx, creds.Name, creds.Password)
	if result.Success {
		d.hub.SetName(peer.ID, result.Name)
	}
	d.sendResult(peer, protocol.EventLoginResult, result)
}

func (d *Dispatcher) handleRegister(ctx context.Context, peer *Peer, data json.RawMessage) {
	creds, ok := d.decodeCredentials(peer, data)
	if !ok {
		return
	}

	result := d.accounts.Register(ctx, creds.Name, creds.Password)
	if result.Success {
		d.hub.SetName(peer.ID, result.Name)
	}
	d.sendResult(peer, protocol.EventRegisterResult, result)
}

func (d *Dispatcher) handleDeleteAccount(ctx context.Context, peer *Peer, data json.RawMessage) {
	var req protocol.DeleteAccount
	if err := json.Unmarshal(data, &req); err != nil {
		d.drop(peer, "malformed", err)
		return
	}

	result := d.accounts.Delete(ctx, req.Username)
	d.sendResult(peer, protocol.EventUserDeleted, result)
}

func (d *Dispatcher) decodeCredentials(peer *Peer, data json.RawMessage) (protocol.Credentials, bool) {
	var creds protocol.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		d.drop(peer, "malformed", err)
		return creds, false
	}
	return creds, true
}

func (d *Dispatcher) sendResult(peer *Peer, event string, result domain.AccountResult) {
	frame, err := protocol.Encode(event, protocol.Result{
		Success: result.Success,
		Name:    result.Name,
		Message: result.Message,
	})
	if err != nil {
		slog.Error("Failed to encode result", "event", event, "error", err)
		return
	}
	d.hub.Send(peer.ID, frame)
}

// resolveName picks the sender name: explicit payload name, then the session
// registry entry, then the fixed default.
func (d *Dispatcher) resolveName(peer *Peer, payloadName string) string {
	if name := strings.TrimSpace(payloadName); name != "" {
		return name
	}
	if name := d.hub.ResolveName(peer.ID); name != "" {
		return name
	}
	return defaultName
}

func (d *Dispatcher) relayOthers(peer *Peer, event string, frame []byte) {
	metrics.EventsRelayed.WithLabelValues(event).Inc()
	d.hub.BroadcastOthers(peer.ID, frame)
	d.publish(frame)
}

func (d *Dispatcher) relayAll(event string, frame []byte) {
	metrics.EventsRelayed.WithLabelValues(event).Inc()
	d.hub.BroadcastAll(frame)
	d.publish(frame)
}

// publish forwards a frame to peer instances via the event bridge, if one is
// configured. Detached: a slow Redis never delays the local fan-out.
func (d *Dispatcher) publish(frame []byte) {
	if d.bridge == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.bridge.Publish(ctx, frame)
	}()
}

func (d *Dispatcher) drop(peer *Peer, reason string, err error) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	slog.Debug("Dropping event", "reason", reason, "connection_id", peer.ID.String(), "error", err)
}
