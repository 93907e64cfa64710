package store

import (
	"context"
	"testing"

	"klinerelay/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc1m = market.Target{Symbol: "btcusdt", Interval: "1m"}

func candle(ts int64, close float64) market.Candle {
	return market.Candle{Time: ts, Open: close, High: close, Low: close, Close: close}
}

func TestPutMergesRollingWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKlineStore()

	require.NoError(t, s.Set(ctx, btc1m, []market.Candle{candle(60, 1), candle(120, 2), candle(180, 3)}, 3))

	t.Run("same time replaces last", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, btc1m, []market.Candle{candle(180, 3.5)}, 3))
		got, _ := s.Get(ctx, btc1m)
		require.Len(t, got, 3)
		assert.Equal(t, 3.5, got[2].Close)
	})

	t.Run("new time appends and evicts oldest", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, btc1m, []market.Candle{candle(240, 4)}, 3))
		got, _ := s.Get(ctx, btc1m)
		require.Len(t, got, 3)
		assert.Equal(t, int64(120), got[0].Time)
		assert.Equal(t, int64(240), got[2].Time)
	})

	t.Run("older time ignored", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, btc1m, []market.Candle{candle(60, 9)}, 3))
		got, _ := s.Get(ctx, btc1m)
		assert.Equal(t, []int64{120, 180, 240}, times(got))
	})
}

func TestSetTrimsAndCopies(t *testing.T) {
	ctx := context.Background()
	s := newMemoryKlineStore(1)
	in := []market.Candle{candle(1, 1), candle(2, 2), candle(3, 3)}
	require.NoError(t, s.Set(ctx, btc1m, in, 2))
	in[2].Close = 99

	got, err := s.Get(ctx, btc1m)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, times(got))
	assert.Equal(t, 3.0, got[1].Close)

	s.Drop(btc1m)
	got, _ = s.Get(ctx, btc1m)
	assert.Empty(t, got)
}

func TestEmptyTargetRejected(t *testing.T) {
	s := NewMemoryKlineStore()
	assert.Error(t, s.Put(context.Background(), market.Target{}, []market.Candle{candle(1, 1)}, 10))
	assert.Error(t, s.Set(context.Background(), market.Target{Symbol: "btcusdt"}, nil, 10))
}

func TestDerivedSeries(t *testing.T) {
	ks := []market.Candle{
		{Time: 1, Open: 10, Close: 12, Volume: market.Float(5)},
		{Time: 2, Open: 12, Close: 11},
	}
	assert.Equal(t, []Point{{Time: 1, Value: 12}, {Time: 2, Value: 11}}, LineData(ks))
	assert.Equal(t, []VolumePoint{{Time: 1, Value: 5, Up: true}, {Time: 2, Value: 0, Up: false}}, VolumeData(ks))
}

func times(ks []market.Candle) []int64 {
	out := make([]int64, len(ks))
	for i, k := range ks {
		out[i] = k.Time
	}
	return out
}
