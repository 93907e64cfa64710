package market

import "context"

// StreamHandler receives the events of one upstream stream. Every callback may
// be nil. After OnError or OnClose no further callbacks fire.
type StreamHandler struct {
	OnOpen  func()
	OnKline func(Candle)
	OnError func(error)
	OnClose func(code int, reason string)
	OnPing  func()
}

// Stream is the handle of one upstream connection.
type Stream interface {
	// Close tears the connection down with the given close code. Idempotent;
	// no handler callback fires after it returns.
	Close(code int, reason string) error
}

// StreamDialer opens upstream streams. Open returns immediately; the
// connection outcome is reported through the handler.
type StreamDialer interface {
	Open(ctx context.Context, target Target, handler StreamHandler) (Stream, error)
}

// HistorySource fetches closed and in-progress candles in ascending time order.
type HistorySource interface {
	FetchHistory(ctx context.Context, target Target, limit int) ([]Candle, error)
}

type SourceStats struct {
	Opened          int64  `json:"opened"`
	DialErrors      int64  `json:"dialErrors"`
	AbnormalCloses  int64  `json:"abnormalCloses"`
	MalformedFrames int64  `json:"malformedFrames"`
	LastError       string `json:"lastError,omitempty"`
}
