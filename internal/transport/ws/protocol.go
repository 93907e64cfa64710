package ws

import (
	"encoding/json"

	"klinerelay/internal/market"
	"klinerelay/internal/session"
)

// Client -> server events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// ClientMessage 是客户端发来的指令帧。
type ClientMessage struct {
	Event    string `json:"event"`
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// ServerMessage 是推送给客户端的事件帧，Event 取值见 session.EventKind。
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectedData struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func encodeNotification(n session.Notification) ([]byte, error) {
	var data any
	switch n.Event {
	case session.EventConnected:
		data = ConnectedData{Symbol: n.Target.Symbol, Interval: n.Target.Interval}
	case session.EventKline:
		data = n.Candle
	case session.EventError:
		msg := "unknown error"
		if n.Err != nil {
			msg = n.Err.Error()
		}
		data = msg
	}
	return encode(string(n.Event), data)
}

func encodeError(msg string) []byte {
	out, _ := encode(string(session.EventError), msg)
	return out
}

func encode(event string, data any) ([]byte, error) {
	msg := ServerMessage{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// DecodeCandle extracts the candle of a kline frame.
func DecodeCandle(msg ServerMessage) (market.Candle, error) {
	var c market.Candle
	err := json.Unmarshal(msg.Data, &c)
	return c, err
}
