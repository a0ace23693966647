package eventstream

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/orchestra/pkg/events"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 256
)

// Config holds hub configuration
type Config struct {
	// Token, when set, must be presented as a bearer token or a "token"
	// query parameter.
	Token        string
	WriteTimeout time.Duration

	// SendBuffer is the number of frames queued per observer. Frames for an
	// observer whose queue is full are dropped.
	SendBuffer int

	Logger *zerolog.Logger
}

// Hub accepts observer connections and broadcasts events to them
type Hub struct {
	clients      *registry
	token        string
	writeTimeout time.Duration
	sendBuffer   int
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
	seq          uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewHub creates a hub with no connected observers
func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		l := log.Logger
		cfg.Logger = &l
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	return &Hub{
		clients:      newRegistry(),
		token:        cfg.Token,
		writeTimeout: cfg.WriteTimeout,
		sendBuffer:   cfg.SendBuffer,
		logger:       cfg.Logger.With().Str("component", "eventstream").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the observer
// until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, _ := gonanoid.New()
	c := newClient(id, conn, r.RemoteAddr, h.sendBuffer)
	h.clients.add(c)

	h.logger.Info().
		Str("clientId", id).
		Str("ip", r.RemoteAddr).
		Msg("Observer connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the client's queue; a failed write closes the connection,
// which ends readLoop.
func (h *Hub) writeLoop(c *client) {
	if err := c.writePump(h.writeTimeout); err != nil {
		h.logger.Warn().Err(err).Str("clientId", c.id).Msg("Failed to send event to observer")
		_ = c.close()
	}
}

// readLoop drains client frames so control messages are processed, and
// unregisters the client once the connection ends.
func (h *Hub) readLoop(c *client) {
	defer func() {
		_ = c.close()
		h.clients.remove(c.id)
		h.logger.Info().Str("clientId", c.id).Msg("Observer disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("clientId", c.id).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}

	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}

// Broadcast queues an event for every connected observer. It never waits on
// a slow observer.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.send(Message{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       h.nextSeq(),
	})
}

// Attach forwards every event the emitter reports. The returned function
// detaches the hub.
func (h *Hub) Attach(em *events.Emitter) func() {
	return em.OnAll(func(ev events.Event) {
		h.send(Message{
			Type:      "event",
			Event:     string(ev.Kind()),
			Data:      ev,
			Timestamp: ev.Timestamp().UnixMilli(),
			Seq:       h.nextSeq(),
		})
	})
}

func (h *Hub) send(msg Message) {
	clients := h.clients.all()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	dropped := 0
	for _, c := range clients {
		if !c.enqueue(data) {
			h.logger.Warn().
				Str("clientId", c.id).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Observer queue full, dropping event")
			dropped++
		}
	}

	h.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("clients", len(clients)).
		Int("dropped", dropped).
		Msg("Event queued")
}

// Count returns the number of connected observers
func (h *Hub) Count() int {
	return h.clients.count()
}

// Close disconnects every observer and refuses new connections
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		for _, c := range h.clients.all() {
			_ = c.close()
			h.clients.remove(c.id)
		}
	})
}

func (h *Hub) nextSeq() int64 {
	return int64(atomic.AddUint64(&h.seq, 1))
}
