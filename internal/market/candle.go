package market

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"klinerelay/internal/pkg/symbol"
)

var (
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidLimit    = errors.New("invalid limit")
)

// Candle 是对外（REST 与 WebSocket）统一的 K 线结构，Time 为开盘时间（秒）。
// Volume 为 nil 表示上游未提供，序列化时省略。
type Candle struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// VolumeOr returns the volume or def when absent.
func (c Candle) VolumeOr(def float64) float64 {
	if c.Volume == nil {
		return def
	}
	return *c.Volume
}

func Float(v float64) *float64 {
	return &v
}

// Target identifies one upstream stream: a sanitized symbol plus a known interval.
type Target struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func (t Target) String() string {
	return t.Symbol + "@" + t.Interval
}

func (t Target) IsZero() bool {
	return t.Symbol == "" && t.Interval == ""
}

// NewTarget sanitizes the symbol and validates the interval. An empty interval
// falls back to defInterval.
func NewTarget(rawSymbol, interval, defInterval string) (Target, error) {
	sym := symbol.Sanitize(rawSymbol)
	if sym == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, rawSymbol)
	}
	interval = strings.TrimSpace(interval)
	if interval == "" {
		interval = defInterval
	}
	if !ValidInterval(interval) {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	return Target{Symbol: sym, Interval: interval}, nil
}

// ParseLimit 解析 limit 查询参数：空值取 def，非正整数报错，超过 max 截断为 max。
func ParseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = strconv.Itoa(def)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// IsValidationError reports whether err stems from bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrInvalidInterval) || errors.Is(err, ErrInvalidLimit)
}
