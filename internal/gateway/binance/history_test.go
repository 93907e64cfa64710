package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"klinerelay/internal/market"
	"klinerelay/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc1h = market.Target{Symbol: "btcusdt", Interval: "1h"}

func newHistoryServer(t *testing.T, handler http.HandlerFunc) (*HistoryClient, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := NewHistoryClient(Config{RESTBaseURL: srv.URL, BreakerThreshold: 2, BreakerCooldown: time.Minute})
	require.NoError(t, err)
	return client, &calls
}

func TestFetchHistoryMapsRows(t *testing.T) {
	client, calls := newHistoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1700003600000,"105","106","104","105.5","7.25",1700007199999,"0",10,"0","0","0"],
			[1700000000000,"100","110","90","105","5",1700003599999,"0",12,"0","0","0"]
		]`))
	})

	got, err := client.FetchHistory(context.Background(), btc1h, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, market.Candle{Time: 1700000000, Open: 100, High: 110, Low: 90, Close: 105, Volume: market.Float(5)}, got[0])
	assert.Equal(t, int64(1700003600), got[1].Time)
	assert.Equal(t, 7.25, *got[1].Volume)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetchHistoryFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "upstream error status", status: http.StatusBadRequest, body: `{"code":-1121,"msg":"Invalid symbol."}`},
		{name: "server error", status: http.StatusBadGateway, body: `oops`},
		{name: "short row", status: http.StatusOK, body: `[[1700000000000,"1","2","3","4"]]`},
		{name: "non numeric price", status: http.StatusOK, body: `[[1700000000000,"x","2","3","4","5"]]`},
		{name: "object body", status: http.StatusOK, body: `{"rows":[]}`},
		{name: "invalid json", status: http.StatusOK, body: `[[`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, calls := newHistoryServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.FetchHistory(context.Background(), btc1h, 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retries")
		})
	}
}

func TestFetchHistoryBreakerFailsFast(t *testing.T) {
	client, calls := newHistoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	for i := 0; i < 2; i++ {
		_, err := client.FetchHistory(context.Background(), btc1h, 10)
		require.Error(t, err)
	}
	require.Equal(t, circuit.StateOpen, client.Breaker().State())

	_, err := client.FetchHistory(context.Background(), btc1h, 10)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestFetchHistoryRejectsBadInput(t *testing.T) {
	client, calls := newHistoryServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.FetchHistory(context.Background(), market.Target{Symbol: "btcusdt", Interval: "7m"}, 10)
	assert.ErrorIs(t, err, market.ErrInvalidInterval)
	_, err = client.FetchHistory(context.Background(), btc1h, 0)
	assert.ErrorIs(t, err, market.ErrInvalidLimit)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestPinger(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ping", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":-1,"msg":"down"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p, err := NewPinger(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	assert.NoError(t, p.Ping(context.Background()))

	healthy.Store(false)
	assert.ErrorIs(t, p.Ping(context.Background()), ErrUpstreamUnavailable)
}
