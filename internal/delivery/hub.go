// Package delivery pushes notification frames to a user's live realtime
// connections. Push is best effort: durability lives in persisted
// messages, not here.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sleepd/internal/auth"
	"sleepd/internal/eventbus"
	logx "sleepd/pkg/logx"
)

// Deliverer is the push side of the hub as seen by notification
// producers.
type Deliverer interface {
	Deliver(userID string, p Payload, event string) int
}

type Options struct {
	SendBuffer     int           // per connection, default 32
	WriteTimeout   time.Duration // default 10s
	PingInterval   time.Duration // default 30s
	AllowedOrigins []string      // empty allows any origin
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Hub multiplexes connections by user id.
type Hub struct {
	auth auth.Authenticator
	opts Options
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	upgrader websocket.Upgrader

	mu     sync.RWMutex
	users  map[string]map[*conn]struct{}
	closed bool
}

func NewHub(a auth.Authenticator, opts Options, log logx.Logger, bus eventbus.Bus) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	h := &Hub{
		auth:  a,
		opts:  opts.withDefaults(),
		log:   log,
		bus:   bus,
		now:   time.Now,
		users: map[string]map[*conn]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Deliver queues a frame on every live connection of userID and returns
// how many connections accepted it. It never blocks: a full buffer drops
// the frame for that connection. No connections is not an error.
func (h *Hub) Deliver(userID string, p Payload, event string) int {
	h.mu.RLock()
	set := h.users[userID]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}
	return h.push(targets, p, event)
}

// Broadcast queues a frame on every live connection.
func (h *Hub) Broadcast(p Payload, event string) int {
	h.mu.RLock()
	var targets []*conn
	for _, set := range h.users {
		for c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}
	return h.push(targets, p, event)
}

func (h *Hub) push(targets []*conn, p Payload, event string) int {
	event = normalizeEvent(event)
	if p.Timestamp.IsZero() {
		p.Timestamp = h.now()
	}
	b, err := json.Marshal(Frame{Event: event, Data: p})
	if err != nil {
		h.log.Error("encode frame failed", logx.String("event", event), logx.Err(err))
		return 0
	}
	sent := 0
	for _, c := range targets {
		if c.enqueue(b) {
			sent++
			h.bus.Publish(eventbus.Event{
				Type: eventbus.DeliveryPushed,
				Data: eventbus.DeliveryEvent{UserID: c.userID, Event: event, Conns: 1},
			})
			continue
		}
		h.log.Debug("frame dropped", logx.UserID(c.userID), logx.String("conn", c.id), logx.String("event", event))
	}
	return sent
}

// Connections returns the number of live connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Len returns the total number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.users {
		n += len(set)
	}
	return n
}

// ServeHTTP authenticates and upgrades a realtime connection. Requests
// that fail authentication get 401, or 500 when the user could not be
// resolved, and are never admitted.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.log.Warn("handshake rejected", logx.String("remote", r.RemoteAddr), logx.Err(err))
		status := auth.Status(err)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		h.log.Debug("upgrade failed", logx.UserID(userID), logx.Err(err))
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}
	if !h.add(c) {
		c.close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	set := h.users[c.userID]
	if set == nil {
		set = map[*conn]struct{}{}
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()

	h.log.Info("connection opened", logx.UserID(c.userID), logx.String("conn", c.id), logx.Int("conns", n))
	h.bus.Publish(eventbus.Event{Type: eventbus.DeliveryConnected, Data: eventbus.DeliveryEvent{UserID: c.userID, Conns: n}})
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	set := h.users[c.userID]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	n := len(set)
	h.mu.Unlock()
	c.close()
	if !ok {
		return
	}
	h.log.Info("connection closed", logx.UserID(c.userID), logx.String("conn", c.id), logx.Int("conns", n))
	h.bus.Publish(eventbus.Event{Type: eventbus.DeliveryClosed, Data: eventbus.DeliveryEvent{UserID: c.userID, Conns: n}})
}

func (h *Hub) writePump(c *conn) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				h.log.Debug("write failed", logx.UserID(c.userID), logx.Err(err))
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed. The
// channel is push only; client data frames are ignored.
func (h *Hub) readPump(c *conn) {
	defer h.remove(c)
	pongWait := 2 * h.opts.PingInterval
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				h.log.Debug("read ended", logx.UserID(c.userID), logx.Err(err))
			}
			return
		}
	}
}

// Close disconnects every connection and refuses new ones.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	var all []*conn
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.signal()
	}
	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}

	signalOnce sync.Once
	closeOnce  sync.Once
}

func (c *conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *conn) signal() { c.signalOnce.Do(func() { close(c.done) }) }

func (c *conn) close() {
	c.signal()
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}
