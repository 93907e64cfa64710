package app

import (
	"fmt"
	"strings"

	"klinerelay/internal/config"
	"klinerelay/internal/logger"
)

type StartupSummary struct {
	Listen   ListenSummary
	Upstream UpstreamSummary
	Stream   StreamSummary
	History  HistorySummary
}

type ListenSummary struct {
	Addr        string
	CORSOrigins []string
}

type UpstreamSummary struct {
	RESTBaseURL string
	StreamURL   string
	Proxy       string
}

type StreamSummary struct {
	ReconnectDelay string
	MaxAttempts    int
	SendBuffer     int
}

type HistorySummary struct {
	DefaultSymbol   string
	DefaultInterval string
	DefaultLimit    int
	MaxLimit        int
}

func newStartupSummary(cfg *config.Config) *StartupSummary {
	origins := cfg.HTTP.CORSOrigins
	if cfg.HTTP.AllowAnyOrigin() {
		origins = []string{"*"}
	}
	return &StartupSummary{
		Listen: ListenSummary{Addr: cfg.HTTP.Addr(), CORSOrigins: origins},
		Upstream: UpstreamSummary{
			RESTBaseURL: cfg.Upstream.RESTBaseURL,
			StreamURL:   cfg.Upstream.StreamURL,
			Proxy:       cfg.Upstream.ProxyURL,
		},
		Stream: StreamSummary{
			ReconnectDelay: cfg.Stream.ReconnectDelay.String(),
			MaxAttempts:    cfg.Stream.MaxReconnectAttempts,
			SendBuffer:     cfg.Stream.SendBuffer,
		},
		History: HistorySummary{
			DefaultSymbol:   cfg.History.DefaultSymbol,
			DefaultInterval: cfg.History.DefaultInterval,
			DefaultLimit:    cfg.History.DefaultLimit,
			MaxLimit:        cfg.History.MaxLimit,
		},
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")

	b.WriteString("[监听 (LISTEN)]\n")
	fmt.Fprintf(&b, "  地址: %s\n", s.Listen.Addr)
	fmt.Fprintf(&b, "  CORS: %s\n", formatList(s.Listen.CORSOrigins))

	b.WriteString("[上游 (UPSTREAM)]\n")
	fmt.Fprintf(&b, "  REST: %s\n", s.Upstream.RESTBaseURL)
	fmt.Fprintf(&b, "  Stream: %s\n", s.Upstream.StreamURL)
	if s.Upstream.Proxy != "" {
		fmt.Fprintf(&b, "  代理: %s\n", s.Upstream.Proxy)
	}

	b.WriteString("[实时流 (STREAM)]\n")
	fmt.Fprintf(&b, "  重连间隔: %s，最多 %d 次\n", s.Stream.ReconnectDelay, s.Stream.MaxAttempts)
	fmt.Fprintf(&b, "  下行缓冲: %d\n", s.Stream.SendBuffer)

	b.WriteString("[历史数据 (HISTORY)]\n")
	fmt.Fprintf(&b, "  默认: %s %s limit=%d（上限 %d）\n",
		s.History.DefaultSymbol, s.History.DefaultInterval, s.History.DefaultLimit, s.History.MaxLimit)
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
