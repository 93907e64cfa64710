package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://api.binance.com"
	defaultStreamURL   = "wss://stream.binance.com:9443/ws/{symbol}@kline_{interval}"
)

type Config struct {
	RESTBaseURL string
	// StreamURL is a template with {symbol} and {interval} placeholders.
	StreamURL        string
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between frames (pings included); 0 disables it.
	ReadTimeout time.Duration
	ProxyURL    string

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
	}
	out.StreamURL = strings.TrimSpace(out.StreamURL)
	if out.StreamURL == "" {
		out.StreamURL = defaultStreamURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 10 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}

func (c Config) proxyFunc() (func(*http.Request) (*url.URL, error), error) {
	if c.ProxyURL == "" {
		return http.ProxyFromEnvironment, nil
	}
	proxyURL, err := url.Parse(c.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	return http.ProxyURL(proxyURL), nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	proxy, err := cfg.proxyFunc()
	if err != nil {
		return nil, err
	}
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok || baseTransport == nil {
		return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
	}
	transport := baseTransport.Clone()
	transport.Proxy = proxy
	return &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport}, nil
}
