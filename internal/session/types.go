package session

import (
	"errors"
	"time"

	"klinerelay/internal/market"
)

// ErrRetriesExhausted is reported once when the reconnect budget runs out.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

var errSessionClosed = errors.New("session is closed")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventKline        EventKind = "kline"
	EventError        EventKind = "error"
	EventUnsubscribed EventKind = "unsubscribed"
)

// Notification is what a session tells its client.
type Notification struct {
	Event  EventKind
	Target market.Target
	Candle market.Candle
	Err    error
}

// Sink receives notifications on the session goroutine and must not block.
type Sink interface {
	Notify(Notification)
}

type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

type Config struct {
	ReconnectDelay  time.Duration
	MaxAttempts     int
	DefaultInterval string
	InboxSize       int
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.DefaultInterval == "" {
		c.DefaultInterval = "1m"
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	return c
}

// Snapshot is a read-only copy of the session state for observers.
type Snapshot struct {
	ID         string        `json:"id"`
	State      State         `json:"state"`
	Target     market.Target `json:"target"`
	Attempts   int           `json:"attempts"`
	Generation uint64        `json:"generation"`
	Klines     int64         `json:"klines"`
	Reconnects int64         `json:"reconnects"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}
