package polygon

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the Polygon REST endpoint.
const DefaultBaseURL = "https://api.polygon.io"

// baseTransportConfig returns the shared HTTP transport configuration used by Polygon clients.
func baseTransportConfig() *http.Transport {
	return &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DisableKeepAlives:     true,
	}
}

// newHTTPClient creates an HTTP client configured for Polygon requests.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &http.Client{
		Transport: baseTransportConfig(),
		Timeout:   timeout,
	}
}

// NewCrawler constructs a Crawler with a shared HTTP client.
func NewCrawler(cfg Config) *Crawler {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Crawler{
		client:   newHTTPClient(cfg.Timeout),
		baseURL:  base,
		keys:     cfg.APIKeys,
		cooldown: cfg.Cooldown,
		retries:  cfg.Retries,
		delay:    cfg.RetryDelay,
		logger:   slog.Default().With("source", "polygon"),
	}
}
