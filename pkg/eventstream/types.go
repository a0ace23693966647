package eventstream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the frame sent to observers for every event
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

// client is a connected observer. Frames are queued on send and written by
// writePump, the connection's only data writer.
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	ipAddress   string

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id string, conn *websocket.Conn, ip string, buffer int) *client {
	return &client{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		ipAddress:   ip,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It returns false when the client
// is gone or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump writes queued frames until the client is closed or a write fails.
func (c *client) writePump(timeout time.Duration) error {
	for {
		select {
		case data := <-c.send:
			if timeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

// close stops writePump and closes the connection. Close and WriteControl may
// be called concurrently with the pump's writes.
func (c *client) close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// registry manages connected clients
type registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func newRegistry() *registry {
	return &registry{clients: make(map[string]*client)}
}

func (r *registry) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *registry) all() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
