package binance

import (
	"context"
	"fmt"

	gobinance "github.com/adshao/go-binance/v2"
)

// Pinger checks REST reachability through the SDK's /api/v3/ping service.
type Pinger struct {
	client *gobinance.Client
}

func NewPinger(cfg Config) (*Pinger, error) {
	final := cfg.withDefaults()
	httpClient, err := newHTTPClient(final)
	if err != nil {
		return nil, err
	}
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = httpClient
	return &Pinger{client: client}, nil
}

func (p *Pinger) Ping(ctx context.Context) error {
	if err := p.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUpstreamUnavailable, err)
	}
	return nil
}
