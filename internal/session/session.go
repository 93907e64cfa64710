package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"

	"github.com/gorilla/websocket"
)

type eventKind int

const (
	evSubscribe eventKind = iota
	evUnsubscribe
	evShutdown
	evOpen
	evKline
	evError
	evClose
	evReconnect
)

func (k eventKind) String() string {
	return [...]string{"subscribe", "unsubscribe", "shutdown", "open", "kline", "error", "close", "reconnect"}[k]
}

type event struct {
	kind     eventKind
	gen      uint64
	symbol   string
	interval string
	candle   market.Candle
	err      error
	code     int
	reason   string
	replyCh  chan error
}

// Session bridges one downstream client to at most one upstream stream.
//
// All state lives on a single goroutine fed by the inbox: client commands,
// adapter callbacks and reconnect timers are serialized there. Every adapter
// and timer is tagged with the generation that created it, so events from a
// superseded stream are dropped instead of reaching the client.
type Session struct {
	id     string
	cfg    Config
	dialer market.StreamDialer
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc

	inbox    chan event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// loop-owned
	state      State
	target     market.Target
	stream     market.Stream
	gen        uint64
	connecting bool
	attempts   int
	timer      *time.Timer
	klines     int64
	reconnects int64

	snapshot atomic.Value
}

func New(id string, cfg Config, dialer market.StreamDialer, sink Sink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
	s.inbox = make(chan event, s.cfg.InboxSize)
	s.refreshSnapshot()
	s.wg.Add(1)
	go s.runLoop()
	return s
}

func (s *Session) ID() string { return s.id }

// Subscribe switches the session to (symbol, interval). Validation failures
// are notified to the client and returned; the session state is unchanged.
func (s *Session) Subscribe(ctx context.Context, symbol, interval string) error {
	return s.sendSync(ctx, event{kind: evSubscribe, symbol: symbol, interval: interval})
}

// Unsubscribe drops the active subscription, if any, and acknowledges it.
func (s *Session) Unsubscribe(ctx context.Context) error {
	return s.sendSync(ctx, event{kind: evUnsubscribe})
}

// Close tears the session down without notifying the client.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.sendSync(ctx, event{kind: evShutdown}); err != nil {
			logger.Warnf("session %s shutdown: %v", s.id, err)
		}
		close(s.stopCh)
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Session) Snapshot() Snapshot {
	val := s.snapshot.Load()
	if val == nil {
		return Snapshot{ID: s.id}
	}
	return val.(Snapshot)
}

func (s *Session) post(evt event) bool {
	select {
	case s.inbox <- evt:
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Session) sendSync(ctx context.Context, evt event) error {
	evt.replyCh = make(chan error, 1)
	if !s.post(evt) {
		return errSessionClosed
	}
	select {
	case err := <-evt.replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return errSessionClosed
	}
}

func (s *Session) runLoop() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.inbox:
			s.handleEvent(evt)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Session) handleEvent(evt event) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("session %s panic handling %s: %v\n%s", s.id, evt.kind, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
		s.refreshSnapshot()
		if evt.replyCh != nil {
			evt.replyCh <- err
			close(evt.replyCh)
		}
	}()

	switch evt.kind {
	case evSubscribe:
		err = s.handleSubscribe(evt.symbol, evt.interval)
	case evUnsubscribe:
		s.handleUnsubscribe()
	case evShutdown:
		s.teardown()
	case evOpen:
		s.handleOpen(evt.gen)
	case evKline:
		s.handleKline(evt.gen, evt.candle)
	case evError:
		s.handleError(evt.gen, evt.err)
	case evClose:
		s.handleClose(evt.gen, evt.code, evt.reason)
	case evReconnect:
		s.handleReconnect(evt.gen)
	}
}

func (s *Session) handleSubscribe(symbol, interval string) error {
	target, err := market.NewTarget(symbol, interval, s.cfg.DefaultInterval)
	if err != nil {
		s.notify(Notification{Event: EventError, Err: err})
		return err
	}
	if s.state == StateConnecting && s.connecting && s.target == target {
		logger.Debugf("session %s: subscribe %s coalesced with pending connect", s.id, target)
		return nil
	}
	s.stopTimer()
	s.closeStream()
	s.attempts = 0
	s.gen++
	s.target = target
	logger.Infof("session %s subscribe %s (gen=%d)", s.id, target, s.gen)
	s.open()
	return nil
}

func (s *Session) handleUnsubscribe() {
	prev := s.target
	s.teardown()
	logger.Infof("session %s unsubscribed %s", s.id, prev)
	s.notify(Notification{Event: EventUnsubscribed, Target: prev})
}

func (s *Session) teardown() {
	s.stopTimer()
	s.closeStream()
	s.gen++
	s.target = market.Target{}
	s.connecting = false
	s.attempts = 0
	s.state = StateIdle
}

func (s *Session) open() {
	s.state = StateConnecting
	s.connecting = true
	gen := s.gen
	stream, err := s.dialer.Open(s.ctx, s.target, s.handlerFor(gen))
	if err != nil {
		s.handleError(gen, err)
		return
	}
	s.stream = stream
}

func (s *Session) handlerFor(gen uint64) market.StreamHandler {
	return market.StreamHandler{
		OnOpen: func() { s.post(event{kind: evOpen, gen: gen}) },
		OnKline: func(c market.Candle) {
			s.post(event{kind: evKline, gen: gen, candle: c})
		},
		OnError: func(err error) { s.post(event{kind: evError, gen: gen, err: err}) },
		OnClose: func(code int, reason string) {
			s.post(event{kind: evClose, gen: gen, code: code, reason: reason})
		},
	}
}

func (s *Session) handleOpen(gen uint64) {
	if gen != s.gen || s.state != StateConnecting {
		return
	}
	s.connecting = false
	s.state = StateLive
	s.attempts = 0
	logger.Infof("session %s live on %s", s.id, s.target)
	s.notify(Notification{Event: EventConnected, Target: s.target})
}

func (s *Session) handleKline(gen uint64, c market.Candle) {
	if gen != s.gen || s.state != StateLive {
		return
	}
	s.klines++
	s.notify(Notification{Event: EventKline, Target: s.target, Candle: c})
}

func (s *Session) handleError(gen uint64, err error) {
	if gen != s.gen || !s.active() {
		return
	}
	logger.Warnf("session %s stream %s error: %v", s.id, s.target, err)
	s.notify(Notification{Event: EventError, Target: s.target, Err: fmt.Errorf("stream error: %w", err)})
	s.retry()
}

func (s *Session) handleClose(gen uint64, code int, reason string) {
	if gen != s.gen || !s.active() {
		return
	}
	if code == websocket.CloseNormalClosure {
		prev := s.target
		s.stream = nil
		s.teardown()
		logger.Infof("session %s upstream closed %s normally", s.id, prev)
		s.notify(Notification{Event: EventUnsubscribed, Target: prev})
		return
	}
	logger.Warnf("session %s stream %s closed code=%d reason=%q", s.id, s.target, code, reason)
	s.notify(Notification{Event: EventError, Target: s.target, Err: fmt.Errorf("stream closed: code=%d %s", code, reason)})
	s.retry()
}

func (s *Session) retry() {
	s.connecting = false
	s.closeStream()
	s.gen++
	if s.attempts >= s.cfg.MaxAttempts {
		s.state = StateFailed
		err := fmt.Errorf("%w after %d attempts for %s", ErrRetriesExhausted, s.attempts, s.target)
		logger.Errorf("session %s: %v", s.id, err)
		s.notify(Notification{Event: EventError, Target: s.target, Err: err})
		return
	}
	s.attempts++
	s.reconnects++
	s.state = StateReconnecting
	gen := s.gen
	logger.Infof("session %s reconnecting %s in %s (attempt %d/%d)", s.id, s.target, s.cfg.ReconnectDelay, s.attempts, s.cfg.MaxAttempts)
	s.timer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.post(event{kind: evReconnect, gen: gen})
	})
}

func (s *Session) handleReconnect(gen uint64) {
	if gen != s.gen || s.state != StateReconnecting {
		return
	}
	s.timer = nil
	s.open()
}

func (s *Session) active() bool {
	return s.state == StateConnecting || s.state == StateLive
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(websocket.CloseNormalClosure, ""); err != nil {
		logger.Debugf("session %s close stream: %v", s.id, err)
	}
	s.stream = nil
}

func (s *Session) notify(n Notification) {
	if s.sink != nil {
		s.sink.Notify(n)
	}
}

func (s *Session) refreshSnapshot() {
	s.snapshot.Store(Snapshot{
		ID:         s.id,
		State:      s.state,
		Target:     s.target,
		Attempts:   s.attempts,
		Generation: s.gen,
		Klines:     s.klines,
		Reconnects: s.reconnects,
		UpdatedAt:  time.Now(),
	})
}
