package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"
	"klinerelay/internal/session"
	"klinerelay/internal/store"
	"klinerelay/internal/transport/ws"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL  = "http://localhost:3000"
	defaultSymbol   = "btcusdt"
	defaultInterval = "1h"
	defaultLimit    = 1000
	defaultTimeout  = 10 * time.Second
	historicalPath  = "/api/historical"
	streamPath      = "/ws"
)

type Options struct {
	BaseURL  string
	Symbol   string
	Interval string
	Limit    int
	Timeout  time.Duration
}

func (o Options) withDefaults() Options {
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Symbol == "" {
		o.Symbol = defaultSymbol
	}
	if o.Interval == "" {
		o.Interval = defaultInterval
	}
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// Update is emitted for every frame the relay pushes.
type Update struct {
	Event  string
	Candle *market.Candle
	Err    string
}

// Chart 维护一个交易对的 K 线窗口：先拉历史数据，再订阅实时推送并滚动合并。
type Chart struct {
	opts   Options
	http   *http.Client
	dialer *websocket.Dialer
	store  *store.MemoryKlineStore

	mu        sync.Mutex
	target    market.Target
	conn      *websocket.Conn
	connected bool
	lastErr   string
	realtime  *market.Candle
	loading   bool

	updates chan Update
}

func New(opts Options) *Chart {
	final := opts.withDefaults()
	return &Chart{
		opts:    final,
		http:    &http.Client{Timeout: final.Timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: final.Timeout},
		store:   store.NewMemoryKlineStore(),
		target:  market.Target{Symbol: strings.ToLower(final.Symbol), Interval: final.Interval},
		updates: make(chan Update, 64),
	}
}

// Updates delivers relay frames; slow readers miss frames rather than stall the chart.
func (c *Chart) Updates() <-chan Update {
	return c.updates
}

// FetchHistorical loads the window from the relay's REST endpoint. On failure
// the error is also kept for Err and an empty slice is returned.
func (c *Chart) FetchHistorical(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = c.opts.Limit
	}
	c.mu.Lock()
	c.loading = true
	c.lastErr = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	candles, err := c.getHistorical(ctx, symbol, interval, limit)
	if err != nil {
		c.setErr(err.Error())
		logger.Errorf("Error fetching historical data: %v", err)
		return []market.Candle{}, err
	}
	target := market.Target{Symbol: strings.ToLower(symbol), Interval: interval}
	if err := c.store.Set(ctx, target, candles, limit); err != nil {
		return []market.Candle{}, err
	}
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
	return candles, nil
}

func (c *Chart) getHistorical(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	u, err := url.Parse(c.opts.BaseURL + historicalPath)
	if err != nil {
		return nil, fmt.Errorf("Request error: %w", err)
	}
	q := u.Query()
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("Request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New("Network error: Unable to connect to server")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New("Network error: Unable to connect to server")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail := gjson.GetBytes(body, "error").String()
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("Server error: %d - %s", resp.StatusCode, detail)
	}
	var candles []market.Candle
	if err := json.Unmarshal(body, &candles); err != nil {
		return nil, fmt.Errorf("Request error: %w", err)
	}
	return candles, nil
}

// Connect opens the relay websocket and subscribes to (symbol, interval).
// An existing connection is dropped first.
func (c *Chart) Connect(ctx context.Context, symbol, interval string) error {
	c.Disconnect()

	wsURL, err := streamURL(c.opts.BaseURL)
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setErr("Connection failed: " + err.Error())
		return err
	}
	sub := ws.ClientMessage{Event: ws.EventSubscribe, Symbol: strings.ToLower(symbol), Interval: interval}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		c.setErr("Connection failed: " + err.Error())
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	return nil
}

// Disconnect sends unsubscribe and closes the websocket, if any.
func (c *Chart) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(ws.ClientMessage{Event: ws.EventUnsubscribe})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}

// SubscribeToSymbol reloads history and then streams live updates.
func (c *Chart) SubscribeToSymbol(ctx context.Context, symbol, interval string) error {
	if _, err := c.FetchHistorical(ctx, symbol, interval, c.opts.Limit); err != nil {
		logger.Warnf("historical fetch failed, streaming anyway: %v", err)
	}
	return c.Connect(ctx, symbol, interval)
}

func (c *Chart) readLoop(conn *websocket.Conn) {
	for {
		var msg ws.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.connected = false
			}
			c.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				logger.Debugf("relay read loop ended: %v", err)
			}
			c.emit(Update{Event: "disconnected"})
			return
		}
		c.apply(msg)
	}
}

func (c *Chart) apply(msg ws.ServerMessage) {
	switch session.EventKind(msg.Event) {
	case session.EventConnected:
		c.mu.Lock()
		c.connected = true
		c.lastErr = ""
		c.mu.Unlock()
		c.emit(Update{Event: msg.Event})
	case session.EventKline:
		candle, err := ws.DecodeCandle(msg)
		if err != nil {
			logger.Debugf("bad kline frame: %v", err)
			return
		}
		c.mergeRealtime(candle)
		c.emit(Update{Event: msg.Event, Candle: &candle})
	case session.EventError:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			text = string(msg.Data)
		}
		c.setErr(text)
		c.emit(Update{Event: msg.Event, Err: text})
	case session.EventUnsubscribed:
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.emit(Update{Event: msg.Event})
	}
}

// mergeRealtime folds a live candle into the window. Live candles are ignored
// until a historical window has been loaded.
func (c *Chart) mergeRealtime(candle market.Candle) {
	c.mu.Lock()
	c.realtime = &candle
	target := c.target
	c.mu.Unlock()
	ctx := context.Background()
	cur, _ := c.store.Get(ctx, target)
	if len(cur) == 0 {
		return
	}
	_ = c.store.Put(ctx, target, []market.Candle{candle}, c.opts.Limit)
}

func (c *Chart) emit(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}

func (c *Chart) setErr(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Chart) Candles() []market.Candle {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	out, _ := c.store.Get(context.Background(), target)
	return out
}

func (c *Chart) LineData() []store.Point {
	return store.LineData(c.Candles())
}

func (c *Chart) VolumeData() []store.VolumePoint {
	return store.VolumeData(c.Candles())
}

func (c *Chart) Target() market.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Chart) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Chart) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Chart) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Chart) Realtime() *market.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.realtime == nil {
		return nil
	}
	cp := *c.realtime
	return &cp
}

func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	return u.String(), nil
}
