package app

import (
	"context"
	"fmt"

	"klinerelay/internal/config"
	"klinerelay/internal/gateway/binance"
	"klinerelay/internal/logger"
	"klinerelay/internal/market"
	"klinerelay/internal/session"
	"klinerelay/internal/transport/http/api"
	"klinerelay/internal/transport/ws"
)

// UpstreamStack 汇总 Binance 侧的三个依赖：历史 REST、实时流与就绪探测。
type UpstreamStack struct {
	History market.HistorySource
	Dialer  market.StreamDialer
	Probe   api.ReadinessProbe
}

type AppBuilder struct {
	cfg *config.Config

	upstreamFn func(config.UpstreamConfig, config.HistoryConfig) (*UpstreamStack, error)
	hubFn      func(config.HTTPConfig, config.StreamConfig, market.StreamDialer) *ws.Hub
	serverFn   func(config.HTTPConfig, config.HistoryConfig, *UpstreamStack, api.StreamGateway) (*api.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		upstreamFn: buildUpstreamStack,
		hubFn:      buildHub,
		serverFn:   buildServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	upstream, err := b.upstreamFn(cfg.Upstream, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("初始化上游失败: %w", err)
	}
	if upstream == nil || upstream.History == nil || upstream.Dialer == nil {
		return nil, fmt.Errorf("upstream stack incomplete")
	}
	hub := b.hubFn(cfg.HTTP, cfg.Stream, upstream.Dialer)
	server, err := b.serverFn(cfg.HTTP, cfg.History, upstream, hub)
	if err != nil {
		hub.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	logger.Debugf("relay stack ready: addr=%s", server.Addr())

	return &App{
		cfg:     cfg,
		server:  server,
		hub:     hub,
		probe:   upstream.Probe,
		Summary: newStartupSummary(cfg),
	}, nil
}

func buildUpstreamStack(up config.UpstreamConfig, hist config.HistoryConfig) (*UpstreamStack, error) {
	bcfg := binance.Config{
		RESTBaseURL:      up.RESTBaseURL,
		StreamURL:        up.StreamURL,
		HTTPTimeout:      up.HTTPTimeout,
		HandshakeTimeout: up.HandshakeTimeout,
		ReadTimeout:      up.ReadTimeout,
		ProxyURL:         up.ProxyURL,
		BreakerThreshold: hist.BreakerThreshold,
		BreakerCooldown:  hist.BreakerCooldown,
	}
	history, err := binance.NewHistoryClient(bcfg)
	if err != nil {
		return nil, err
	}
	streamer, err := binance.NewStreamer(bcfg)
	if err != nil {
		return nil, err
	}
	pinger, err := binance.NewPinger(bcfg)
	if err != nil {
		return nil, err
	}
	return &UpstreamStack{History: history, Dialer: streamer, Probe: pinger}, nil
}

// websocket 订阅的缺省周期沿用 session 默认值（1m）。
func buildHub(httpCfg config.HTTPConfig, stream config.StreamConfig, dialer market.StreamDialer) *ws.Hub {
	return ws.NewHub(ws.Config{
		SendBuffer:     stream.SendBuffer,
		WriteTimeout:   stream.WriteTimeout,
		PingInterval:   stream.PingInterval,
		AllowedOrigins: httpCfg.CORSOrigins,
		Session: session.Config{
			ReconnectDelay: stream.ReconnectDelay,
			MaxAttempts:    stream.MaxReconnectAttempts,
		},
	}, dialer)
}

func buildServer(httpCfg config.HTTPConfig, hist config.HistoryConfig, upstream *UpstreamStack, gateway api.StreamGateway) (*api.Server, error) {
	return api.NewServer(api.ServerConfig{
		Addr:      httpCfg.Addr(),
		History:   upstream.History,
		Gateway:   gateway,
		Readiness: upstream.Probe,
		Defaults: api.HistoryDefaults{
			Symbol:   hist.DefaultSymbol,
			Interval: hist.DefaultInterval,
			Limit:    hist.DefaultLimit,
			MaxLimit: hist.MaxLimit,
		},
		CORSOrigins:     httpCfg.CORSOrigins,
		ShutdownTimeout: httpCfg.ShutdownTimeout,
	})
}

func WithUpstream(fn func(config.UpstreamConfig, config.HistoryConfig) (*UpstreamStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.upstreamFn = fn
		}
	}
}

func WithHub(fn func(config.HTTPConfig, config.StreamConfig, market.StreamDialer) *ws.Hub) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.hubFn = fn
		}
	}
}

func WithServer(fn func(config.HTTPConfig, config.HistoryConfig, *UpstreamStack, api.StreamGateway) (*api.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.serverFn = fn
		}
	}
}
