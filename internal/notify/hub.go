package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bookline/internal/domain"
	"bookline/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one websocket connection listening on one or more inboxes.
type Client struct {
	id         string
	recipients []string
	send       chan []byte
	mu         sync.Mutex
	closed     bool
}

func NewClient(recipients ...string) *Client {
	return &Client{id: uuid.NewString(), recipients: recipients, send: make(chan []byte, sendBuffer)}
}

// offer queues msg without blocking. It reports false when the client is gone or slow.
func (c *Client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Messages exposes the outbound queue.
func (c *Client) Messages() <-chan []byte { return c.send }

// Hub routes notifications to the websocket clients of their recipient.
// A recipient with no open connection is not an error: the inbox keeps the entry.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	upgrader websocket.Upgrader
	log      *logrus.Entry
	m        *metrics
}

func NewHub(allowedOrigins []string, log *logrus.Entry) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     logging.OrNop(log),
		m:       getMetrics(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows same-host requests, requests without an Origin
// header (non-browser clients), and the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		normalized := u.Scheme + "://" + u.Host
		for _, a := range allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	for _, r := range c.recipients {
		set, ok := h.clients[r]
		if !ok {
			set = make(map[*Client]struct{})
			h.clients[r] = set
		}
		set[c] = struct{}{}
	}
	h.mu.Unlock()
	h.m.wsConnections.Inc()
	h.log.WithFields(logrus.Fields{"client_id": c.id, "recipients": c.recipients}).Debug("websocket client registered")
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := false
	for _, r := range c.recipients {
		if set, ok := h.clients[r]; ok {
			if _, present := set[c]; present {
				delete(set, c)
				removed = true
			}
			if len(set) == 0 {
				delete(h.clients, r)
			}
		}
	}
	h.mu.Unlock()
	c.close()
	if removed {
		h.m.wsConnections.Dec()
		h.log.WithField("client_id", c.id).Debug("websocket client unregistered")
	}
}

// ClientCount returns the number of distinct connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[*Client]struct{}{}
	for _, set := range h.clients {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// Dispatch implements Dispatcher. Slow clients are disconnected rather than
// allowed to hold up delivery.
func (h *Hub) Dispatch(_ context.Context, n domain.Notification) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[n.RecipientID]))
	for c := range h.clients[n.RecipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}
	msg, err := json.Marshal(n)
	if err != nil {
		return err
	}
	for _, c := range targets {
		if !c.offer(msg) {
			h.m.wsDropped.Inc()
			h.Unregister(c)
		}
	}
	return nil
}

// Serve upgrades the request and streams notifications for recipients until
// the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, recipients []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := NewClient(recipients...)
	h.Register(c)
	go h.writePump(conn, c)
	h.readPump(conn, c)
	return nil
}

// readPump only handles control frames; clients do not send data.
func (h *Hub) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		h.Unregister(c)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
