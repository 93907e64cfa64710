package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"
	symbolpkg "klinerelay/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const controlWriteWait = time.Second

// Streamer 为每个 (symbol, interval) 打开一条独立的 Binance K 线 WebSocket，
// 自身不做任何重连，连接结果与数据全部通过 market.StreamHandler 回调上报。
type Streamer struct {
	cfg    Config
	dialer *websocket.Dialer

	opened          atomic.Int64
	dialErrors      atomic.Int64
	abnormalCloses  atomic.Int64
	malformedFrames atomic.Int64

	errMu     sync.Mutex
	lastError string
}

func NewStreamer(cfg Config) (*Streamer, error) {
	final := cfg.withDefaults()
	proxy, err := final.proxyFunc()
	if err != nil {
		return nil, err
	}
	return &Streamer{
		cfg: final,
		dialer: &websocket.Dialer{
			Proxy:            proxy,
			HandshakeTimeout: final.HandshakeTimeout,
		},
	}, nil
}

// StreamURL renders the configured template for target.
func (s *Streamer) StreamURL(target market.Target) string {
	return strings.NewReplacer(
		"{symbol}", symbolpkg.BinanceStream.ToExchange(target.Symbol),
		"{interval}", target.Interval,
	).Replace(s.cfg.StreamURL)
}

func (s *Streamer) Open(ctx context.Context, target market.Target, handler market.StreamHandler) (market.Stream, error) {
	if target.Symbol == "" {
		return nil, market.ErrInvalidSymbol
	}
	if !market.ValidInterval(target.Interval) {
		return nil, market.ErrInvalidInterval
	}
	dialCtx, cancel := context.WithCancel(ctx)
	st := &klineStream{
		owner:   s,
		target:  target,
		url:     s.StreamURL(target),
		handler: handler,
		ctx:     dialCtx,
		cancel:  cancel,
	}
	s.opened.Add(1)
	go st.run()
	return st, nil
}

func (s *Streamer) Stats() market.SourceStats {
	s.errMu.Lock()
	last := s.lastError
	s.errMu.Unlock()
	return market.SourceStats{
		Opened:          s.opened.Load(),
		DialErrors:      s.dialErrors.Load(),
		AbnormalCloses:  s.abnormalCloses.Load(),
		MalformedFrames: s.malformedFrames.Load(),
		LastError:       last,
	}
}

func (s *Streamer) recordError(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	s.lastError = err.Error()
	s.errMu.Unlock()
}

// klineStream is one upstream connection. closed is set by Close and silences
// every later callback; terminal makes sure at most one of OnError/OnClose fires.
type klineStream struct {
	owner   *Streamer
	target  market.Target
	url     string
	handler market.StreamHandler

	ctx    context.Context
	cancel context.CancelFunc

	closed   atomic.Bool
	terminal atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func (st *klineStream) run() {
	conn, resp, err := st.owner.dialer.DialContext(st.ctx, st.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if st.closed.Load() {
			return
		}
		st.owner.dialErrors.Add(1)
		st.owner.recordError(err)
		logger.Warnf("binance stream %s dial failed: %v", st.target, err)
		st.fail(err)
		return
	}

	st.mu.Lock()
	if st.closed.Load() {
		st.mu.Unlock()
		_ = conn.Close()
		return
	}
	st.conn = conn
	st.mu.Unlock()
	defer conn.Close()

	readTimeout := st.owner.cfg.ReadTimeout
	extend := func() {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				return err
			}
		}
		if !st.closed.Load() && st.handler.OnPing != nil {
			st.handler.OnPing()
		}
		return nil
	})

	logger.Debugf("binance stream %s connected", st.target)
	if !st.closed.Load() && st.handler.OnOpen != nil {
		st.handler.OnOpen()
	}

	for {
		extend()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if st.closed.Load() {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code != websocket.CloseNormalClosure {
					st.owner.abnormalCloses.Add(1)
					st.owner.recordError(err)
				}
				st.finish(ce.Code, ce.Text)
				return
			}
			st.owner.recordError(err)
			st.fail(err)
			return
		}
		candle, ok := decodeKlineFrame(data)
		if !ok {
			st.owner.malformedFrames.Add(1)
			logger.Debugf("binance stream %s dropped malformed frame: %.120s", st.target, data)
			continue
		}
		if st.closed.Load() {
			return
		}
		if st.handler.OnKline != nil {
			st.handler.OnKline(candle)
		}
	}
}

func (st *klineStream) fail(err error) {
	if st.closed.Load() || !st.terminal.CompareAndSwap(false, true) {
		return
	}
	if st.handler.OnError != nil {
		st.handler.OnError(err)
	}
}

func (st *klineStream) finish(code int, reason string) {
	if st.closed.Load() || !st.terminal.CompareAndSwap(false, true) {
		return
	}
	if st.handler.OnClose != nil {
		st.handler.OnClose(code, reason)
	}
}

// Close sends a close frame with code and tears the socket down. Safe to call
// before the dial completes and more than once.
func (st *klineStream) Close(code int, reason string) error {
	if !st.closed.CompareAndSwap(false, true) {
		return nil
	}
	st.cancel()
	st.mu.Lock()
	conn := st.conn
	st.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
	return conn.Close()
}

// decodeKlineFrame accepts both raw (/ws) and combined (/stream) payloads.
// Frames without a kline object or with unparsable prices are rejected.
func decodeKlineFrame(data []byte) (market.Candle, bool) {
	if !gjson.ValidBytes(data) {
		return market.Candle{}, false
	}
	payload := data
	if inner := gjson.GetBytes(data, "data"); inner.IsObject() {
		payload = []byte(inner.Raw)
	}
	if !gjson.GetBytes(payload, "k").IsObject() {
		return market.Candle{}, false
	}
	var ev gobinance.WsKlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return market.Candle{}, false
	}
	k := ev.Kline
	prices := [4]string{k.Open, k.High, k.Low, k.Close}
	var vals [4]float64
	for i, raw := range prices {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return market.Candle{}, false
		}
		vals[i] = v
	}
	candle := market.Candle{
		Time:  k.StartTime / 1000,
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
	}
	if k.Volume != "" {
		if v, err := strconv.ParseFloat(k.Volume, 64); err == nil {
			candle.Volume = market.Float(v)
		}
	}
	return candle, true
}
