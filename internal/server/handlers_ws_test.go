package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodletogether/doodled/internal/domain"
	"github.com/doodletogether/doodled/internal/protocol"
	"github.com/doodletogether/doodled/internal/relay"
)

func writeStaticFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

type noopAccounts struct{}

func (noopAccounts) Register(context.Context, string, string) domain.AccountResult {
	return domain.AccountResult{}
}
func (noopAccounts) Login(context.Context, string, string) domain.AccountResult {
	return domain.AccountResult{}
}
func (noopAccounts) Delete(context.Context, string) domain.AccountResult {
	return domain.AccountResult{}
}
func (noopAccounts) Touch(context.Context, string) error { return nil }

type noopDrawings struct{}

func (noopDrawings) Insert(context.Context, string) error { return nil }

func TestWebSocketEndpointRoundTrip(t *testing.T) {
	hub := relay.NewHub(clockwork.NewRealClock())
	t.Cleanup(func() { hub.Stop() })

	dispatcher := relay.NewDispatcher(hub, noopAccounts{}, noopDrawings{}, nil, clockwork.NewRealClock())
	srv := NewServer(testConfig(t), dispatcher, stubStatus{available: true})

	ts := httptest.NewServer(srv.echo)
	t.Cleanup(func() { ts.Close() })

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Connecting broadcasts the connection count.
	env := readFrame(t, conn, protocol.EventUserConnected)
	var count int
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 1, count)

	// A set-username round-trips into the presence list.
	frame, err := protocol.Encode(protocol.EventSetUsername, "alice")
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, frame))

	env = readFrame(t, conn, protocol.EventUserList)
	var names []string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.Equal(t, []string{"alice"}, names)
}

func readFrame(t *testing.T, conn *ws.Conn, event string) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", event)
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}
