package eventstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, token string) (*Hub, string) {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub(Config{Token: token, Logger: &logger})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, header http.Header) *websocket.Conn {
	t.Helper()

	before := hub.Count()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Count() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastAddsSequence(t *testing.T) {
	hub, url := newTestHub(t, "")
	conn := dial(t, hub, url, nil)

	hub.Broadcast("custom", map[string]interface{}{"k": "v"})
	hub.Broadcast("custom", nil)

	first := readMessage(t, conn)
	second := readMessage(t, conn)

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "custom", first.Event)
	assert.Equal(t, map[string]interface{}{"k": "v"}, first.Data)
	assert.NotZero(t, first.Timestamp)
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestHub_AttachForwardsEmitterEvents(t *testing.T) {
	hub, url := newTestHub(t, "")
	conn := dial(t, hub, url, nil)

	em := events.NewEmitterWithLogger(zerolog.Nop())
	off := hub.Attach(em)

	em.Emit(events.NewStart(2))
	em.Emit(events.NewTaskComplete(task.Result{TaskID: "a", Success: true, Attempts: 1}))

	start := readMessage(t, conn)
	assert.Equal(t, string(events.KindStart), start.Event)

	complete := readMessage(t, conn)
	assert.Equal(t, string(events.KindTaskComplete), complete.Event)

	raw, err := json.Marshal(complete.Data)
	require.NoError(t, err)
	var payload struct {
		Result task.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "a", payload.Result.TaskID)
	assert.True(t, payload.Result.Success)

	off()
	em.Emit(events.NewStart(1))
	hub.Broadcast("marker", nil)
	assert.Equal(t, "marker", readMessage(t, conn).Event)
}

func TestHub_FansOutToEveryObserver(t *testing.T) {
	hub, url := newTestHub(t, "")
	a := dial(t, hub, url, nil)
	b := dial(t, hub, url, nil)

	hub.Broadcast("fanout", nil)

	assert.Equal(t, "fanout", readMessage(t, a).Event)
	assert.Equal(t, "fanout", readMessage(t, b).Event)
}

func TestHub_TokenRequired(t *testing.T) {
	hub, url := newTestHub(t, "s3cret")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, hub, url+"?token=s3cret", nil)
	dial(t, hub, url, http.Header{"Authorization": []string{"Bearer s3cret"}})
	assert.Equal(t, 2, hub.Count())
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, url := newTestHub(t, "")
	conn := dial(t, hub, url, nil)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() { hub.Broadcast("nobody", nil) })
}

func TestHub_CloseRefusesNewConnections(t *testing.T) {
	hub, url := newTestHub(t, "")
	dial(t, hub, url, nil)

	hub.Close()
	assert.Equal(t, 0, hub.Count())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_FullObserverQueueDoesNotBlock(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(Config{SendBuffer: 1, Logger: &logger})

	// no writer drains this observer
	stalled := newClient("stalled", nil, "test", 1)
	hub.clients.add(stalled)

	em := events.NewEmitterWithLogger(zerolog.Nop())
	off := hub.Attach(em)
	defer off()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			em.Emit(events.NewTaskStart("t", "w", i+1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emitting blocked on a stalled observer")
	}

	assert.Len(t, stalled.send, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(<-stalled.send, &msg))
	assert.Equal(t, int64(1), msg.Seq)
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	c := newClient("c", nil, "test", 4)
	assert.True(t, c.enqueue([]byte("a")))

	close(c.done)
	assert.False(t, c.enqueue([]byte("b")))
	assert.Len(t, c.send, 1)
}

func TestHub_SlowObserverDoesNotDelayOthers(t *testing.T) {
	hub, url := newTestHub(t, "")
	fast := dial(t, hub, url, nil)

	stalled := newClient("stalled", nil, "test", 1)
	hub.clients.add(stalled)
	defer hub.clients.remove(stalled.id)

	for i := 0; i < 5; i++ {
		hub.Broadcast("tick", i)
	}

	for i := 0; i < 5; i++ {
		msg := readMessage(t, fast)
		assert.Equal(t, "tick", msg.Event)
	}
}
