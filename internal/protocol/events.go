// Package protocol defines the JSON event envelope and payload shapes spoken
// over each WebSocket connection. Event names and payloads are shared between
// client and server; the relay forwards most payloads verbatim and only the
// stamped fields (sender id, resolved name, timestamp) are authoritative.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names (client -> server).
const (
	EventSetUsername   = "set-username"
	EventDraw          = "draw"
	EventDrawText      = "draw-text"
	EventClear         = "clear"
	EventPan           = "pan"
	EventSaveDrawing   = "save-drawing"
	EventAudioSignal   = "audio-signal"
	EventCursorMove    = "cursor-move"
	EventChatMessage   = "chat-message"
	EventStartDrawing  = "start-drawing"
	EventStopDrawing   = "stop-drawing"
	EventReaction      = "reaction"
	EventLogin         = "login"
	EventRegister      = "register"
	EventLogout        = "logout"
	EventDeleteAccount = "delete-account"
)

// Outbound event names (server -> client).
const (
	EventUserConnected    = "userConnected"
	EventUserDisconnected = "userDisconnected"
	EventUserList         = "user-list"
	EventCursorRemove     = "cursor-remove"
	EventDrawingStatus    = "drawing-status"
	EventLoginResult      = "login-result"
	EventRegisterResult   = "register-result"
	EventUserDeleted      = "user-deleted"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw text frame into an envelope. An empty event name is
// rejected so the dispatcher never routes on "".
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode envelope: missing event name")
	}
	return &env, nil
}

// Encode marshals an event and payload into a wire frame.
func Encode(event string, data any) ([]byte, error) {
	var (
		raw json.RawMessage
		err error
	)
	if data != nil {
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}

// CursorMove is relayed to others with the sender's connection id stamped in.
type CursorMove struct {
	ID    string  `json:"id,omitempty"`
	XNorm float64 `json:"xNorm"`
	YNorm float64 `json:"yNorm"`
	Color string  `json:"color,omitempty"`
	Name  string  `json:"name,omitempty"`
}

// CursorRemove tells peers to drop a stale cursor for a disconnected peer.
type CursorRemove struct {
	ID string `json:"id"`
}

// ChatMessage carries a chat line. Name and Timestamp are stamped server-side.
type ChatMessage struct {
	Message   string    `json:"message"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// DrawingStatus announces that a named peer started or stopped drawing.
type DrawingStatus struct {
	Name      string `json:"name"`
	IsDrawing bool   `json:"isDrawing"`
}

// Reaction is an emoji reaction. Name and Timestamp are stamped server-side.
type Reaction struct {
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Credentials is the login/register request payload.
type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// DeleteAccount is the delete-account request payload.
type DeleteAccount struct {
	Username string `json:"username"`
}

// SaveDrawing carries a full-canvas export as a data URL.
type SaveDrawing struct {
	Image string `json:"image"`
}

// Result is the correlated response for login, register, and delete-account.
type Result struct {
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}
