package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"klinerelay/internal/market"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klineFrame = `{"e":"kline","E":1700000001000,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"100.5","c":"101","h":"102","l":"99","v":"3.5","n":5,"x":false}}`

type streamEvent struct {
	kind   string
	candle market.Candle
	code   int
	err    error
}

func recordingHandler(ch chan<- streamEvent) market.StreamHandler {
	return market.StreamHandler{
		OnOpen:  func() { ch <- streamEvent{kind: "open"} },
		OnKline: func(c market.Candle) { ch <- streamEvent{kind: "kline", candle: c} },
		OnError: func(err error) { ch <- streamEvent{kind: "error", err: err} },
		OnClose: func(code int, _ string) { ch <- streamEvent{kind: "close", code: code} },
		OnPing:  func() { ch <- streamEvent{kind: "ping"} },
	}
}

func next(t *testing.T, ch <-chan streamEvent) streamEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return streamEvent{}
	}
}

func wsServer(t *testing.T, fn func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/{symbol}@kline_{interval}"
}

func TestStreamDeliversKlinesAndNormalClose(t *testing.T) {
	paths := make(chan string, 1)
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})
	s, err := NewStreamer(Config{StreamURL: url})
	require.NoError(t, err)

	events := make(chan streamEvent, 8)
	_, err = s.Open(context.Background(), market.Target{Symbol: "btcusdt", Interval: "1m"}, recordingHandler(events))
	require.NoError(t, err)

	assert.Equal(t, "/ws/btcusdt@kline_1m", <-paths)
	assert.Equal(t, "open", next(t, events).kind)
	kl := next(t, events)
	require.Equal(t, "kline", kl.kind)
	assert.Equal(t, int64(1700000000), kl.candle.Time)
	assert.Equal(t, 100.5, kl.candle.Open)
	assert.Equal(t, 102.0, kl.candle.High)
	assert.Equal(t, 99.0, kl.candle.Low)
	assert.Equal(t, 101.0, kl.candle.Close)
	require.NotNil(t, kl.candle.Volume)
	assert.Equal(t, 3.5, *kl.candle.Volume)

	closed := next(t, events)
	assert.Equal(t, "close", closed.kind)
	assert.Equal(t, websocket.CloseNormalClosure, closed.code)
	assert.Equal(t, int64(2), s.Stats().MalformedFrames)
}

func TestStreamAbnormalClose(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "maintenance"))
		_, _, _ = conn.ReadMessage()
	})
	s, err := NewStreamer(Config{StreamURL: url})
	require.NoError(t, err)
	events := make(chan streamEvent, 4)
	_, err = s.Open(context.Background(), market.Target{Symbol: "ethusdt", Interval: "5m"}, recordingHandler(events))
	require.NoError(t, err)

	assert.Equal(t, "open", next(t, events).kind)
	ev := next(t, events)
	assert.Equal(t, "close", ev.kind)
	assert.Equal(t, websocket.CloseTryAgainLater, ev.code)
	assert.Equal(t, int64(1), s.Stats().AbnormalCloses)
}

func TestStreamDialFailureReportsOneError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/{symbol}"
	srv.Close()

	s, err := NewStreamer(Config{StreamURL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)
	events := make(chan streamEvent, 4)
	_, err = s.Open(context.Background(), market.Target{Symbol: "btcusdt", Interval: "1m"}, recordingHandler(events))
	require.NoError(t, err)

	ev := next(t, events)
	assert.Equal(t, "error", ev.kind)
	assert.Error(t, ev.err)
	select {
	case extra := <-events:
		t.Fatalf("unexpected event after dial failure: %s", extra.kind)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int64(1), s.Stats().DialErrors)
}

func TestStreamAnswersPingAndCloseSilencesEvents(t *testing.T) {
	pongs := make(chan string, 1)
	release := make(chan struct{})
	url := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.SetPongHandler(func(data string) error {
			pongs <- data
			return nil
		})
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		_ = conn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second))
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		time.Sleep(50 * time.Millisecond)
	})
	s, err := NewStreamer(Config{StreamURL: url})
	require.NoError(t, err)
	events := make(chan streamEvent, 8)
	stream, err := s.Open(context.Background(), market.Target{Symbol: "btcusdt", Interval: "1m"}, recordingHandler(events))
	require.NoError(t, err)

	assert.Equal(t, "open", next(t, events).kind)
	assert.Equal(t, "ping", next(t, events).kind)
	select {
	case data := <-pongs:
		assert.Equal(t, "hb", data)
	case <-time.After(2 * time.Second):
		t.Fatal("pong not received")
	}

	require.NoError(t, stream.Close(websocket.CloseNormalClosure, ""))
	require.NoError(t, stream.Close(websocket.CloseNormalClosure, ""))
	close(release)
	select {
	case ev := <-events:
		t.Fatalf("event after Close: %s", ev.kind)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDecodeKlineFrame(t *testing.T) {
	c, ok := decodeKlineFrame([]byte(`{"stream":"btcusdt@kline_1m","data":` + klineFrame + `}`))
	require.True(t, ok)
	assert.Equal(t, 101.0, c.Close)

	c, ok = decodeKlineFrame([]byte(`{"e":"kline","k":{"t":60000,"o":"1","h":"2","l":"0.5","c":"1.5","v":""}}`))
	require.True(t, ok)
	assert.Equal(t, int64(60), c.Time)
	assert.Nil(t, c.Volume)

	for _, bad := range []string{`{}`, `{"k":"x"}`, `{"k":{"t":1,"o":"a","h":"1","l":"1","c":"1"}}`, `[`} {
		_, ok := decodeKlineFrame([]byte(bad))
		assert.False(t, ok, bad)
	}
}
