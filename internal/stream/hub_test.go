package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var w wireEvent
	require.NoError(t, json.Unmarshal(data, &w))
	return w
}

func TestHubBroadcasts(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)

	h.Handle(event.StatusChanged(status.Running, 1))
	w := read(t, conn)
	assert.Equal(t, string(event.TypeStatusChanged), w.Type)
	assert.Contains(t, string(w.Payload), `"running"`)
}

func TestHubReplaysBacklog(t *testing.T) {
	b := console.NewBacklog(10)
	b.Add(console.Line{Time: time.Now(), Source: event.SourceStdout, Text: "first"})
	b.Add(console.Line{Time: time.Now(), Source: event.SourceStderr, Text: "oops"})
	h := NewHub(WithBacklog(b))
	conn := dial(t, h)

	w := read(t, conn)
	assert.Equal(t, string(event.TypeLog), w.Type)
	assert.Contains(t, string(w.Payload), "first")
	w = read(t, conn)
	assert.Contains(t, string(w.Payload), `"error"`)
	assert.Contains(t, string(w.Payload), "oops")
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsPeers(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	h.Close()
	assert.Equal(t, 0, h.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub(WithQueue(1))
	c := &Client{ID: "slow", send: make(chan event.Event, 1), hub: h}
	h.clients[c.ID] = c

	h.Handle(event.StatusChanged(status.Starting, 1))
	h.Handle(event.StatusChanged(status.Running, 1))
	assert.Len(t, c.send, 1)
}
