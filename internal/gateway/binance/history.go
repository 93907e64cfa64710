package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"
	"klinerelay/internal/pkg/circuit"
	symbolpkg "klinerelay/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

const (
	klinesPath      = "/api/v3/klines"
	minKlineFields  = 6
	maxResponseSize = 8 << 20
)

// ErrUpstreamUnavailable marks failures talking to the Binance REST API.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// HistoryClient 通过 Binance REST /api/v3/klines 拉取历史 K 线，不做重试。
type HistoryClient struct {
	cfg     Config
	http    *http.Client
	breaker *circuit.CircuitBreaker
}

func NewHistoryClient(cfg Config) (*HistoryClient, error) {
	final := cfg.withDefaults()
	httpClient, err := newHTTPClient(final)
	if err != nil {
		return nil, err
	}
	return &HistoryClient{
		cfg:     final,
		http:    httpClient,
		breaker: circuit.NewCircuitBreaker("binance-rest", final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

func (h *HistoryClient) Breaker() *circuit.CircuitBreaker {
	return h.breaker
}

// FetchHistory issues exactly one upstream request. Any transport, status or
// decode failure is returned wrapped in ErrUpstreamUnavailable.
func (h *HistoryClient) FetchHistory(ctx context.Context, target market.Target, limit int) ([]market.Candle, error) {
	if target.Symbol == "" {
		return nil, market.ErrInvalidSymbol
	}
	if !market.ValidInterval(target.Interval) {
		return nil, market.ErrInvalidInterval
	}
	if limit <= 0 {
		return nil, market.ErrInvalidLimit
	}
	if !h.breaker.Allow() {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, circuit.ErrOpen)
	}

	body, status, err := h.get(ctx, target, limit)
	if err != nil {
		h.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		h.breaker.RecordFailure()
	} else {
		h.breaker.RecordSuccess()
	}
	if status != http.StatusOK {
		msg := gjson.GetBytes(body, "msg").String()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, fmt.Errorf("%w: binance klines %s status=%d: %s", ErrUpstreamUnavailable, target, status, msg)
	}
	candles, err := parseKlineRows(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode klines %s: %w", ErrUpstreamUnavailable, target, err)
	}
	logger.Debugf("binance klines %s limit=%d -> %d rows", target, limit, len(candles))
	return candles, nil
}

func (h *HistoryClient) get(ctx context.Context, target market.Target, limit int) ([]byte, int, error) {
	u, err := url.Parse(h.cfg.RESTBaseURL + klinesPath)
	if err != nil {
		return nil, 0, err
	}
	q := u.Query()
	q.Set("symbol", symbolpkg.BinanceREST.ToExchange(target.Symbol))
	q.Set("interval", target.Interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// parseKlineRows decodes Binance's positional rows:
// [openTime, open, high, low, close, volume, closeTime, ...].
// Numeric fields arrive as strings; openTime is in milliseconds.
func parseKlineRows(body []byte) ([]market.Candle, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, errors.New("expected array of rows")
	}
	rows := root.Array()
	out := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		fields := row.Array()
		if !row.IsArray() || len(fields) < minKlineFields {
			return nil, fmt.Errorf("row %d: expected at least %d fields", i, minKlineFields)
		}
		if fields[0].Type != gjson.Number {
			return nil, fmt.Errorf("row %d: open time is not a number", i)
		}
		var vals [5]float64
		for j := range vals {
			v, err := strconv.ParseFloat(fields[j+1].String(), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		out = append(out, market.Candle{
			Time:   fields[0].Int() / 1000,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: market.Float(vals[4]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}
