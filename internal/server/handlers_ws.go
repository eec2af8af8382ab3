package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the client bundle may be served from another host
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	peer, err := s.dispatcher.Connect(conn)
	if err != nil {
		slog.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return nil
	}

	ctx := c.Request().Context()

	// Read pump, blocks until the connection closes.
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatcher.HandleMessage(ctx, peer, msg)
	}

	s.dispatcher.Disconnect(peer)

	return nil
}
