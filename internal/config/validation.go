package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.HTTP.validate(); err != nil {
		return err
	}
	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if err := c.Stream.validate(); err != nil {
		return err
	}
	if err := c.History.validate(); err != nil {
		return err
	}
	return nil
}

func (h *HTTPConfig) validate() error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", h.Port)
	}
	return nil
}

func (u *UpstreamConfig) validate() error {
	rest, err := url.Parse(u.RESTBaseURL)
	if err != nil || rest.Host == "" {
		return fmt.Errorf("upstream.rest_base_url invalid: %q", u.RESTBaseURL)
	}
	if !strings.HasPrefix(u.StreamURL, "ws://") && !strings.HasPrefix(u.StreamURL, "wss://") {
		return fmt.Errorf("upstream.stream_url must be a ws:// or wss:// url: %q", u.StreamURL)
	}
	if !strings.Contains(u.StreamURL, "{symbol}") {
		return fmt.Errorf("upstream.stream_url missing {symbol} placeholder")
	}
	if u.ProxyURL != "" {
		if _, err := url.Parse(u.ProxyURL); err != nil {
			return fmt.Errorf("upstream.proxy_url invalid: %w", err)
		}
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must be >= 0")
	}
	return nil
}

func (h *HistoryConfig) validate() error {
	if h.DefaultLimit > h.MaxLimit {
		return fmt.Errorf("history.default_limit (%d) exceeds history.max_limit (%d)", h.DefaultLimit, h.MaxLimit)
	}
	return nil
}
