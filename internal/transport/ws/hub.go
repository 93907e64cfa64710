package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"
	"klinerelay/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
	Session        session.Config
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

func (c Config) pongWait() time.Duration {
	return c.PingInterval*2 + c.WriteTimeout
}

// Stats 汇总网关当前连接与会话状态。
type Stats struct {
	Clients  int                `json:"clients"`
	Dropped  int64              `json:"droppedFrames"`
	Sessions []session.Snapshot `json:"sessions"`
}

// Hub 持有所有下行连接，按连接 ID 索引；每个连接拥有独立的订阅会话。
type Hub struct {
	cfg      Config
	dialer   market.StreamDialer
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	dropped atomic.Int64

	newID func() string
}

func NewHub(cfg Config, dialer market.StreamDialer) *Hub {
	h := &Hub{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		clients: make(map[string]*Client),
		newID:   func() string { return uuid.NewString() },
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	logger.Warnf("ws origin rejected: %s", origin)
	return false
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws upgrade failed from %s: %v", c.ClientIP(), err)
		return
	}
	client := h.attach(conn)
	logger.Infof("ws client %s connected from %s", client.id, c.ClientIP())
}

func (h *Hub) attach(conn *websocket.Conn) *Client {
	client := &Client{
		id:   h.newID(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	client.session = session.New(client.id, h.cfg.Session, h.dialer, client)

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) client(id string) (*Client, error) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown client %s", id)
	}
	return c, nil
}

// HandleSubscribe routes a subscribe command to the client's session.
func (h *Hub) HandleSubscribe(ctx context.Context, clientID, symbol, interval string) error {
	c, err := h.client(clientID)
	if err != nil {
		return err
	}
	return c.session.Subscribe(ctx, symbol, interval)
}

func (h *Hub) HandleUnsubscribe(ctx context.Context, clientID string) error {
	c, err := h.client(clientID)
	if err != nil {
		return err
	}
	return c.session.Unsubscribe(ctx)
}

// HandleDisconnect unregisters the client and tears its session down. Idempotent.
func (h *Hub) HandleDisconnect(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.shutdown()
	logger.Infof("ws client %s disconnected", clientID)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.HandleDisconnect(id)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	snaps := make([]session.Snapshot, 0, len(h.clients))
	for _, c := range h.clients {
		snaps = append(snaps, c.session.Snapshot())
	}
	h.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return Stats{Clients: len(snaps), Dropped: h.dropped.Load(), Sessions: snaps}
}
