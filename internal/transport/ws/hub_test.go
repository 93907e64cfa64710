package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"klinerelay/internal/market"
	"klinerelay/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStream struct {
	mu     sync.Mutex
	closed bool
}

func (s *stubStream) Close(int, string) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubDialer struct {
	mu       sync.Mutex
	handlers []market.StreamHandler
	streams  []*stubStream
}

func (d *stubDialer) Open(_ context.Context, _ market.Target, h market.StreamHandler) (market.Stream, error) {
	st := &stubStream{}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.streams = append(d.streams, st)
	d.mu.Unlock()
	go h.OnOpen()
	return st, nil
}

func (d *stubDialer) last(t *testing.T) (market.StreamHandler, *stubStream) {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.handlers) > 0
	}, 2*time.Second, 5*time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[len(d.handlers)-1], d.streams[len(d.streams)-1]
}

func newTestHub(t *testing.T, cfg Config) (*Hub, *stubDialer, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	d := &stubDialer{}
	cfg.Session = session.Config{ReconnectDelay: 10 * time.Millisecond, MaxAttempts: 1}
	hub := NewHub(cfg, d)
	router := gin.New()
	router.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, d, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubSubscribeRelayUnsubscribe(t *testing.T) {
	hub, d, url := newTestHub(t, Config{})
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteJSON(ClientMessage{Event: EventSubscribe, Symbol: "BTC/USDT", Interval: "1m"}))
	msg := readFrame(t, conn)
	require.Equal(t, "connected", msg.Event)
	var data ConnectedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, ConnectedData{Symbol: "btcusdt", Interval: "1m"}, data)

	h, st := d.last(t)
	h.OnKline(market.Candle{Time: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: market.Float(3)})
	msg = readFrame(t, conn)
	require.Equal(t, "kline", msg.Event)
	candle, err := DecodeCandle(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), candle.Time)
	assert.Equal(t, 1.5, candle.Close)

	require.NoError(t, conn.WriteJSON(ClientMessage{Event: EventUnsubscribe}))
	msg = readFrame(t, conn)
	assert.Equal(t, "unsubscribed", msg.Event)
	assert.Empty(t, msg.Data)
	assert.True(t, st.isClosed())

	require.Eventually(t, func() bool {
		stats := hub.Stats()
		return len(stats.Sessions) == 1 && stats.Sessions[0].State == session.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubRejectsBadMessages(t *testing.T) {
	_, d, url := newTestHub(t, Config{})
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Event)
	assert.JSONEq(t, `"invalid message format"`, string(msg.Data))

	require.NoError(t, conn.WriteJSON(ClientMessage{Event: "dance"}))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg.Event)
	assert.Contains(t, string(msg.Data), "unknown event")

	require.NoError(t, conn.WriteJSON(ClientMessage{Event: EventSubscribe, Symbol: "***"}))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg.Event)
	assert.Contains(t, string(msg.Data), "invalid symbol")

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.handlers)
}

func TestHubDisconnectClosesSession(t *testing.T) {
	hub, d, url := newTestHub(t, Config{})
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteJSON(ClientMessage{Event: EventSubscribe, Symbol: "ethusdt"}))
	assert.Equal(t, "connected", readFrame(t, conn).Event)
	require.Equal(t, 1, hub.Count())

	_, st := d.last(t)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, st.isClosed())

	// Unknown ids are ignored.
	hub.HandleDisconnect("missing")
	assert.Error(t, hub.HandleSubscribe(context.Background(), "missing", "btcusdt", "1m"))
}

func TestHubOriginCheck(t *testing.T) {
	_, _, url := newTestHub(t, Config{AllowedOrigins: []string{"http://localhost:5173"}})

	conn := dial(t, url, http.Header{"Origin": []string{"http://localhost:5173"}})
	require.NotNil(t, conn)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 1}, &stubDialer{})
	c := &Client{id: "c1", hub: hub, send: make(chan []byte, 1), done: make(chan struct{})}

	assert.True(t, c.enqueue([]byte("a")))
	assert.False(t, c.enqueue([]byte("b")))
	assert.Equal(t, int64(1), hub.Stats().Dropped)

	close(c.done)
	<-c.send
	assert.False(t, c.enqueue([]byte("c")))
}

func TestEncodeNotification(t *testing.T) {
	out, err := encodeNotification(session.Notification{Event: session.EventError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":"unknown error"}`, string(out))

	out, err = encodeNotification(session.Notification{Event: session.EventKline, Candle: market.Candle{Time: 60, Close: 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"kline","data":{"time":60,"open":0,"high":0,"low":0,"close":2}}`, string(out))
}
