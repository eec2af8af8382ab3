package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodletogether/doodled/internal/protocol"
)

// testHub sets up a Hub behind a test HTTP server. dial opens a client
// connection registered under a fresh connection id.
func testHub(t *testing.T) (*Hub, func() (uuid.UUID, *ws.Conn)) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock())
	t.Cleanup(func() { hub.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connectionID := uuid.MustParse(r.URL.Query().Get("id"))
		_ = hub.Register(connectionID, conn)

		go func() {
			defer hub.Unregister(connectionID)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func() (uuid.UUID, *ws.Conn) {
		t.Helper()
		connectionID := uuid.New()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?id=" + connectionID.String()
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return connectionID, conn
	}

	return hub, dial
}

func waitForClientCount(h *Hub, expected int) bool {
	for i := 0; i < 200; i++ {
		if h.ClientCount() == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// readEvent reads frames until one matches the wanted event name, skipping
// interleaved presence and count broadcasts.
func readEvent(t *testing.T, conn *ws.Conn, event string) *protocol.Envelope {
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

// expectNoEvent asserts that the named event does not arrive within a short
// window. Other events are ignored.
func expectNoEvent(t *testing.T, conn *ws.Conn, event string) {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return // timeout: the event never arrived
		}
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		require.NotEqual(t, event, env.Event)
	}
}

func TestHub_RegisterBroadcastsCount(t *testing.T) {
	hub, dial := testHub(t)

	_, conn1 := dial()
	require.True(t, waitForClientCount(hub, 1))

	env := readEvent(t, conn1, protocol.EventUserConnected)
	var count int
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 1, count)

	dial()
	require.True(t, waitForClientCount(hub, 2))

	env = readEvent(t, conn1, protocol.EventUserConnected)
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 2, count)
}

func TestHub_SetNameBroadcastsPresence(t *testing.T) {
	hub, dial := testHub(t)

	idA, connA := dial()
	idB, connB := dial()
	require.True(t, waitForClientCount(hub, 2))

	hub.SetName(idA, "alice")

	for _, conn := range []*ws.Conn{connA, connB} {
		env := readEvent(t, conn, protocol.EventUserList)
		var names []string
		require.NoError(t, json.Unmarshal(env.Data, &names))
		assert.Equal(t, []string{"alice"}, names)
	}

	hub.SetName(idB, "bob")

	env := readEvent(t, connA, protocol.EventUserList)
	var names []string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestHub_ClearNameBroadcastsPresence(t *testing.T) {
	hub, dial := testHub(t)

	id, conn := dial()
	require.True(t, waitForClientCount(hub, 1))

	hub.SetName(id, "alice")
	env := readEvent(t, conn, protocol.EventUserList)
	var names []string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	require.Equal(t, []string{"alice"}, names)

	hub.ClearName(id)
	env = readEvent(t, conn, protocol.EventUserList)
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.Empty(t, names)
}

func TestHub_ResolveName(t *testing.T) {
	hub, dial := testHub(t)

	id, _ := dial()
	require.True(t, waitForClientCount(hub, 1))

	assert.Equal(t, "", hub.ResolveName(id))
	assert.Equal(t, "", hub.ResolveName(uuid.New()))

	hub.SetName(id, "alice")
	assert.Equal(t, "alice", hub.ResolveName(id))
}

func TestHub_BroadcastOthersExcludesSender(t *testing.T) {
	hub, dial := testHub(t)

	idA, connA := dial()
	_, connB := dial()
	_, connC := dial()
	require.True(t, waitForClientCount(hub, 3))

	frame, err := protocol.Encode("draw", map[string]any{"x": 1.0})
	require.NoError(t, err)
	hub.BroadcastOthers(idA, frame)

	for _, conn := range []*ws.Conn{connB, connC} {
		env := readEvent(t, conn, "draw")
		assert.JSONEq(t, `{"x":1}`, string(env.Data))
	}
	expectNoEvent(t, connA, "draw")
}

func TestHub_BroadcastAllIncludesSender(t *testing.T) {
	hub, dial := testHub(t)

	_, connA := dial()
	_, connB := dial()
	require.True(t, waitForClientCount(hub, 2))

	frame, err := protocol.Encode(protocol.EventChatMessage, map[string]any{"message": "hi"})
	require.NoError(t, err)
	hub.BroadcastAll(frame)

	for _, conn := range []*ws.Conn{connA, connB} {
		env := readEvent(t, conn, protocol.EventChatMessage)
		assert.JSONEq(t, `{"message":"hi"}`, string(env.Data))
	}
}

func TestHub_SendTargetsSingleConnection(t *testing.T) {
	hub, dial := testHub(t)

	idA, connA := dial()
	_, connB := dial()
	require.True(t, waitForClientCount(hub, 2))

	frame, err := protocol.Encode(protocol.EventLoginResult, protocol.Result{Success: true, Name: "alice"})
	require.NoError(t, err)
	hub.Send(idA, frame)

	env := readEvent(t, connA, protocol.EventLoginResult)
	var result protocol.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "alice", result.Name)

	expectNoEvent(t, connB, protocol.EventLoginResult)
}

func TestHub_DisconnectBroadcastsCleanup(t *testing.T) {
	hub, dial := testHub(t)

	idA, connA := dial()
	_, connB := dial()
	require.True(t, waitForClientCount(hub, 2))

	hub.SetName(idA, "alice")
	readEvent(t, connB, protocol.EventUserList)

	connA.Close()
	require.True(t, waitForClientCount(hub, 1))

	env := readEvent(t, connB, protocol.EventUserList)
	var names []string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.Empty(t, names)

	env = readEvent(t, connB, protocol.EventUserDisconnected)
	var count int
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 1, count)

	env = readEvent(t, connB, protocol.EventCursorRemove)
	var removal protocol.CursorRemove
	require.NoError(t, json.Unmarshal(env.Data, &removal))
	assert.Equal(t, idA.String(), removal.ID)
}

func TestHub_NamesSkipsAnonymous(t *testing.T) {
	hub, dial := testHub(t)

	idA, _ := dial()
	dial()
	require.True(t, waitForClientCount(hub, 2))

	assert.Empty(t, hub.Names())

	hub.SetName(idA, "alice")
	assert.Equal(t, []string{"alice"}, hub.Names())
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock())

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		_ = hub.Register(uuid.New(), conn)
		ready <- struct{}{}
	}))
	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	<-ready

	hub.Stop()

	// The server side closed the connection, so reads fail once the close
	// frame has been consumed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var readErr error
	for {
		if _, _, readErr = conn.ReadMessage(); readErr != nil {
			break
		}
	}
	assert.Error(t, readErr)
}
