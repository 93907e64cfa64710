package store

import (
	"context"
	"errors"
	"sync"

	"klinerelay/internal/market"
)

var errEmptyTarget = errors.New("symbol/interval 不能为空")

type KlineStore interface {
	Set(ctx context.Context, target market.Target, ks []market.Candle, max int) error
	Put(ctx context.Context, target market.Target, ks []market.Candle, max int) error
	Get(ctx context.Context, target market.Target) ([]market.Candle, error)
}

// MemoryKlineStore 以 symbol@interval 为键保存滚动窗口，按 FNV 哈希分片加锁。
type MemoryKlineStore struct {
	shards []klineShard
}

type klineShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

const (
	defaultShardCount = 32
	defaultWindow     = 1000
)

func NewMemoryKlineStore() *MemoryKlineStore {
	return newMemoryKlineStore(defaultShardCount)
}

func newMemoryKlineStore(shards int) *MemoryKlineStore {
	if shards <= 0 {
		shards = 1
	}
	out := &MemoryKlineStore{
		shards: make([]klineShard, shards),
	}
	for i := range out.shards {
		out.shards[i] = klineShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func (s *MemoryKlineStore) shardFor(key string) *klineShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// Set replaces the window with ks, keeping the newest max candles.
func (s *MemoryKlineStore) Set(ctx context.Context, target market.Target, ks []market.Candle, max int) error {
	if target.Symbol == "" || target.Interval == "" {
		return errEmptyTarget
	}
	k := target.String()
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	dst := make([]market.Candle, len(ks))
	copy(dst, ks)
	sh.data[k] = trimWindow(dst, max)
	return nil
}

// Put merges candles into the window: a candle whose Time equals the last
// entry replaces it, a newer one is appended, an older one is ignored. The
// oldest entries are evicted once the window exceeds max.
func (s *MemoryKlineStore) Put(ctx context.Context, target market.Target, ks []market.Candle, max int) error {
	if target.Symbol == "" || target.Interval == "" {
		return errEmptyTarget
	}
	if len(ks) == 0 {
		return nil
	}
	k := target.String()
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[k]
	for _, candle := range ks {
		n := len(cur)
		if n > 0 {
			last := cur[n-1].Time
			if last == candle.Time {
				cur[n-1] = candle
				continue
			}
			if candle.Time < last {
				continue
			}
		}
		cur = append(cur, candle)
	}
	sh.data[k] = trimWindow(cur, max)
	return nil
}

func (s *MemoryKlineStore) Get(ctx context.Context, target market.Target) ([]market.Candle, error) {
	k := target.String()
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, nil
}

// Drop forgets the window of target.
func (s *MemoryKlineStore) Drop(target market.Target) {
	k := target.String()
	sh := s.shardFor(k)
	sh.mu.Lock()
	delete(sh.data, k)
	sh.mu.Unlock()
}

func trimWindow(cur []market.Candle, max int) []market.Candle {
	if max <= 0 {
		max = defaultWindow
	}
	if len(cur) > max {
		cur = append([]market.Candle(nil), cur[len(cur)-max:]...)
	}
	return cur
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
