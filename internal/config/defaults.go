package config

import (
	"strings"
	"time"
)

// 默认值常量
const (
	defaultAppEnv               = "dev"
	defaultAppLogLevel          = "info"
	defaultHTTPPort             = 3000
	defaultHTTPShutdownTimeout  = 5 * time.Second
	defaultUpstreamREST         = "https://api.binance.com"
	defaultUpstreamStream       = "wss://stream.binance.com:9443/ws/{symbol}@kline_{interval}"
	defaultUpstreamHTTPTimeout  = 10 * time.Second
	defaultUpstreamHandshake    = 10 * time.Second
	defaultUpstreamReadTimeout  = 5 * time.Minute
	defaultStreamReconnectDelay = 5 * time.Second
	defaultStreamMaxAttempts    = 5
	defaultStreamSendBuffer     = 256
	defaultStreamWriteTimeout   = 10 * time.Second
	defaultStreamPingInterval   = 30 * time.Second
	defaultHistorySymbol        = "btcusdt"
	defaultHistoryInterval      = "1h"
	defaultHistoryLimit         = 1000
	defaultHistoryMaxLimit      = 1000
	defaultHistoryBreakerFails  = 5
	defaultHistoryBreakerWindow = 30 * time.Second
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Upstream.applyDefaults(keys)
	c.Stream.applyDefaults(keys)
	c.History.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("http.port", &h.Port, defaultHTTPPort),
		durationFieldDefault("http.shutdown_timeout", &h.ShutdownTimeout, defaultHTTPShutdownTimeout),
	)
}

func (u *UpstreamConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("upstream.rest_base_url", &u.RESTBaseURL, defaultUpstreamREST),
		stringFieldDefault("upstream.stream_url", &u.StreamURL, defaultUpstreamStream),
		durationFieldDefault("upstream.http_timeout", &u.HTTPTimeout, defaultUpstreamHTTPTimeout),
		durationFieldDefault("upstream.handshake_timeout", &u.HandshakeTimeout, defaultUpstreamHandshake),
		durationFieldDefault("upstream.read_timeout", &u.ReadTimeout, defaultUpstreamReadTimeout),
	)
	u.RESTBaseURL = strings.TrimRight(strings.TrimSpace(u.RESTBaseURL), "/")
}

func (s *StreamConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("stream.reconnect_delay", &s.ReconnectDelay, defaultStreamReconnectDelay),
		// 0 次重连是合法配置，只有未显式设置时才填默认值
		fieldDefault{
			key:   "stream.max_reconnect_attempts",
			need:  func() bool { return s.MaxReconnectAttempts == 0 },
			apply: func() { s.MaxReconnectAttempts = defaultStreamMaxAttempts },
		},
		intFieldDefault("stream.send_buffer", &s.SendBuffer, defaultStreamSendBuffer),
		durationFieldDefault("stream.write_timeout", &s.WriteTimeout, defaultStreamWriteTimeout),
		durationFieldDefault("stream.ping_interval", &s.PingInterval, defaultStreamPingInterval),
	)
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("history.default_symbol", &h.DefaultSymbol, defaultHistorySymbol),
		stringFieldDefault("history.default_interval", &h.DefaultInterval, defaultHistoryInterval),
		intFieldDefault("history.default_limit", &h.DefaultLimit, defaultHistoryLimit),
		intFieldDefault("history.max_limit", &h.MaxLimit, defaultHistoryMaxLimit),
		intFieldDefault("history.breaker_threshold", &h.BreakerThreshold, defaultHistoryBreakerFails),
		durationFieldDefault("history.breaker_cooldown", &h.BreakerCooldown, defaultHistoryBreakerWindow),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
