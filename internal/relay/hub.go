package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/doodletogether/doodled/internal/metrics"
	"github.com/doodletogether/doodled/internal/protocol"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	connectionID uuid.UUID
}

type setNameCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	name         string
}

type clearNameCmd struct {
	baseHubCmd
	connectionID uuid.UUID
}

type resolveNameCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	replyChannel chan string
}

type namesCmd struct {
	baseHubCmd
	replyChannel chan []string
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type broadcastCmd struct {
	baseHubCmd
	exclude uuid.UUID // uuid.Nil means broadcast-to-all
	frame   []byte
}

type sendCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	frame        []byte
}

type stopCmd struct {
	baseHubCmd
}

// client is the per-connection state owned by the hub goroutine: the write
// pump plus the session registry entry (display name, empty if anonymous).
type client struct {
	writer *clientWriter
	name   string
}

// Hub is the single-writer owner of the session registry and the fan-out
// paths. One goroutine consumes commands; per-connection writer goroutines
// absorb slow sockets. No persistence call ever runs on the hub goroutine.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	clients map[uuid.UUID]*client
	done    chan struct{}
}

func NewHub(clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		clock:   clock,
		clients: make(map[uuid.UUID]*client),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connection as anonymous and broadcasts the updated
// connection count to everyone.
func (h *Hub) Register(connectionID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- registerCmd{connectionID: connectionID, connection: conn, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection: clears its name, broadcasts presence and
// connection count, and tells peers to drop the stale cursor.
func (h *Hub) Unregister(connectionID uuid.UUID) {
	h.cmdCh <- unregisterCmd{connectionID: connectionID}
}

// SetName binds a display name to a connection (overwriting any prior one)
// and broadcasts the updated presence list.
func (h *Hub) SetName(connectionID uuid.UUID, name string) {
	h.cmdCh <- setNameCmd{connectionID: connectionID, name: name}
}

// ClearName removes a connection's registry entry and broadcasts presence.
// Used by logout; disconnect goes through Unregister.
func (h *Hub) ClearName(connectionID uuid.UUID) {
	h.cmdCh <- clearNameCmd{connectionID: connectionID}
}

// ResolveName returns the display name bound to a connection, or "" if the
// connection is anonymous or unknown.
func (h *Hub) ResolveName(connectionID uuid.UUID) string {
	replyCh := make(chan string, 1)
	h.cmdCh <- resolveNameCmd{connectionID: connectionID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case name := <-replyCh:
		return name
	case <-timer.Chan():
		slog.Warn("ResolveName timed out", "timeout", commandTimeout)
		return ""
	}
}

// Names returns a snapshot of all display names currently bound to
// connections, in registry iteration order. Duplicates are permitted.
func (h *Hub) Names() []string {
	replyCh := make(chan []string, 1)
	h.cmdCh <- namesCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case names := <-replyCh:
		return names
	case <-timer.Chan():
		slog.Warn("Names timed out", "timeout", commandTimeout)
		return nil
	}
}

// ClientCount returns the number of live connections, or -1 on timeout.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// BroadcastAll fans a frame out to every connection, including the sender.
func (h *Hub) BroadcastAll(frame []byte) {
	h.cmdCh <- broadcastCmd{exclude: uuid.Nil, frame: frame}
}

// BroadcastOthers fans a frame out to every connection except sender.
func (h *Hub) BroadcastOthers(sender uuid.UUID, frame []byte) {
	h.cmdCh <- broadcastCmd{exclude: sender, frame: frame}
}

// Send delivers a frame to a single connection. Used for the correlated
// *-result events of login, register, and delete-account.
func (h *Hub) Send(connectionID uuid.UUID, frame []byte) {
	h.cmdCh <- sendCmd{connectionID: connectionID, frame: frame}
}

// Stop shuts the hub down, closing all client connections. Blocks until the
// hub goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.RelayCommandChannelDepth.Set(float64(len(h.cmdCh)))

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.handleUnregister(c.connectionID)
			case setNameCmd:
				h.handleSetName(c)
			case clearNameCmd:
				h.handleClearName(c)
			case resolveNameCmd:
				c.replyChannel <- h.lookupName(c.connectionID)
			case namesCmd:
				c.replyChannel <- h.names()
			case clientCountCmd:
				c.replyChannel <- len(h.clients)
			case broadcastCmd:
				h.fanOut(c.exclude, c.frame)
			case sendCmd:
				h.handleSend(c)
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	h.clients[c.connectionID] = &client{writer: newClientWriter(c.connection, h.clock)}
	metrics.ConnectedClients.Set(float64(len(h.clients)))

	slog.Debug("Client registered", "connection_id", c.connectionID.String(), "total_clients", len(h.clients))
	c.errorChannel <- nil

	h.broadcastCount(protocol.EventUserConnected)
}

func (h *Hub) handleUnregister(connectionID uuid.UUID) {
	cl, exists := h.clients[connectionID]
	if !exists {
		return
	}

	cl.writer.stop()
	delete(h.clients, connectionID)
	metrics.ConnectedClients.Set(float64(len(h.clients)))

	slog.Debug("Client unregistered", "connection_id", connectionID.String(), "remaining_clients", len(h.clients))

	h.broadcastPresence()
	h.broadcastCount(protocol.EventUserDisconnected)
	h.broadcastEvent(protocol.EventCursorRemove, protocol.CursorRemove{ID: connectionID.String()})
}

func (h *Hub) handleSetName(c setNameCmd) {
	cl, exists := h.clients[c.connectionID]
	if !exists {
		return
	}
	cl.name = c.name
	h.broadcastPresence()
}

func (h *Hub) handleClearName(c clearNameCmd) {
	cl, exists := h.clients[c.connectionID]
	if !exists {
		return
	}
	cl.name = ""
	h.broadcastPresence()
}

func (h *Hub) handleSend(c sendCmd) {
	cl, exists := h.clients[c.connectionID]
	if !exists {
		return
	}
	select {
	case cl.writer.sendChannel <- c.frame:
	default:
		h.evictSlow([]uuid.UUID{c.connectionID})
	}
}

func (h *Hub) lookupName(connectionID uuid.UUID) string {
	if cl, exists := h.clients[connectionID]; exists {
		return cl.name
	}
	return ""
}

func (h *Hub) names() []string {
	names := make([]string, 0, len(h.clients))
	for _, cl := range h.clients {
		if cl.name != "" {
			names = append(names, cl.name)
		}
	}
	return names
}

// broadcastPresence sends the current user-list snapshot to everyone.
// Idempotent: repeating the same snapshot is harmless.
func (h *Hub) broadcastPresence() {
	h.broadcastEvent(protocol.EventUserList, h.names())
}

func (h *Hub) broadcastCount(event string) {
	h.broadcastEvent(event, len(h.clients))
}

func (h *Hub) broadcastEvent(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("Failed to encode broadcast", "event", event, "error", err)
		return
	}
	metrics.EventsRelayed.WithLabelValues(event).Inc()
	h.fanOut(uuid.Nil, frame)
}

func (h *Hub) fanOut(exclude uuid.UUID, frame []byte) {
	var slow []uuid.UUID
	for id, cl := range h.clients {
		if id == exclude {
			continue
		}
		select {
		case cl.writer.sendChannel <- frame:
		default:
			slow = append(slow, id)
		}
	}
	h.evictSlow(slow)
}

func (h *Hub) evictSlow(slow []uuid.UUID) {
	for _, id := range slow {
		slog.Warn("Disconnecting slow client", "connection_id", id.String())
		metrics.SlowClientsEvicted.Inc()
		h.handleUnregister(id)
	}
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "clients", len(h.clients))
	for id, cl := range h.clients {
		cl.writer.stopGraceful("Server shutting down")
		delete(h.clients, id)
	}
	metrics.ConnectedClients.Set(0)
}
