package config

import (
	"strconv"
	"strings"
	"time"
)

// Config 是 klinerelay 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	HTTP     HTTPConfig     `toml:"http"`
	Upstream UpstreamConfig `toml:"upstream"`
	Stream   StreamConfig   `toml:"stream"`
	History  HistoryConfig  `toml:"history"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	Debug    bool   `toml:"debug"`
	LogPath  string `toml:"log_path"`
}

// HTTPConfig 描述对外 HTTP / WebSocket 服务。
type HTTPConfig struct {
	Port            int           `toml:"port"`
	CORSOrigins     []string      `toml:"cors_origins"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Addr 返回 gin 监听地址。
func (h HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(h.Port)
}

// AllowAnyOrigin 在未配置白名单或包含 "*" 时为 true。
func (h HTTPConfig) AllowAnyOrigin() bool {
	if len(h.CORSOrigins) == 0 {
		return true
	}
	for _, o := range h.CORSOrigins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// UpstreamConfig 描述 Binance REST 与行情流地址。
type UpstreamConfig struct {
	RESTBaseURL      string        `toml:"rest_base_url"`
	StreamURL        string        `toml:"stream_url"`
	HTTPTimeout      time.Duration `toml:"http_timeout"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	ReadTimeout      time.Duration `toml:"read_timeout"`
	ProxyURL         string        `toml:"proxy_url"`
}

// StreamConfig 控制每个订阅会话的重连策略与下行写队列。
type StreamConfig struct {
	ReconnectDelay       time.Duration `toml:"reconnect_delay"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	SendBuffer           int           `toml:"send_buffer"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	PingInterval         time.Duration `toml:"ping_interval"`
}

type HistoryConfig struct {
	DefaultSymbol    string        `toml:"default_symbol"`
	DefaultInterval  string        `toml:"default_interval"`
	DefaultLimit     int           `toml:"default_limit"`
	MaxLimit         int           `toml:"max_limit"`
	BreakerThreshold int           `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
