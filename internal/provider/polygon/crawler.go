package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/maxz073/finm-dashboard/internal/model"
)

const (
	// Max 50k results per request
	maxLimit = 50000

	// KeyCooldownSec: Polygon 5 req/min => 12s between requests per key
	KeyCooldownSec = 12

	// DefaultRetryDelay is the wait before retrying a rate-limited request.
	DefaultRetryDelay = 15 * time.Second
)

// Config holds the Polygon tier settings.
type Config struct {
	APIKeys    []string
	BaseURL    string
	Timeout    time.Duration
	Cooldown   time.Duration // wait between requests made with the same key
	Retries    int           // extra attempts on 429; 0 disables
	RetryDelay time.Duration
}

// Crawler fetches daily aggregates from the Polygon API, rotating API keys
// round-robin across tickers.
type Crawler struct {
	client   *http.Client
	baseURL  string
	keys     []string
	cooldown time.Duration
	retries  int
	delay    time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	next     int
	lastUsed map[string]time.Time
}

// Close closes connections
func (c *Crawler) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// HasKeys reports whether any API key is configured.
func (c *Crawler) HasKeys() bool {
	return len(c.keys) > 0
}

// acquireKey picks the next key and waits out its cooldown.
func (c *Crawler) acquireKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	key := c.keys[c.next%len(c.keys)]
	c.next++
	if c.lastUsed == nil {
		c.lastUsed = make(map[string]time.Time)
	}
	wait := time.Duration(0)
	if last, ok := c.lastUsed[key]; ok && c.cooldown > 0 {
		wait = c.cooldown - time.Since(last)
	}
	c.lastUsed[key] = time.Now().Add(max(wait, 0))
	c.mu.Unlock()

	if wait > 0 {
		c.logger.Debug("key cooldown", "key", keyPrefix(key), "wait", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return "", err
		}
	}
	return key, nil
}

func keyPrefix(apiKey string) string {
	if len(apiKey) > 8 {
		return apiKey[:8] + "..."
	}
	return apiKey
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// buildDailyAggregatesRequest builds GET request for 1-day aggregates (adjusted, limit, sort, apiKey).
func (c *Crawler) buildDailyAggregatesRequest(ctx context.Context, ticker string, from, to time.Time, apiKey string) (*http.Request, error) {
	rawURL := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		c.baseURL, url.PathEscape(ticker), from.Format(model.DateLayout), to.Format(model.DateLayout))
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("adjusted", "true")
	q.Set("limit", strconv.Itoa(maxLimit))
	q.Set("sort", "asc")
	q.Set("apiKey", apiKey)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Connection", "close")
	return req, nil
}

// StatusError is a non-200 answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API status %d: %s", e.Code, e.Body)
}

// doAggregatesRequest runs one GET request, retrying on 429 up to c.retries times.
func (c *Crawler) doAggregatesRequest(ctx context.Context, req *http.Request) (*AggregatesResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("API call failed: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests && attempt < c.retries {
				c.logger.Warn("rate limited, retrying", "attempt", attempt+1, "delay", c.delay)
				if err := sleepCtx(ctx, c.delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
		}

		var result AggregatesResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}

		switch result.Status {
		case "OK", "DELAYED":
			return &result, nil
		default:
			return nil, fmt.Errorf("API status not OK: %s", result.Status)
		}
	}
}

// CrawlDailyBars fetches adjusted daily closes for ticker over [from, to].
// Pages through next_url until the range is exhausted.
func (c *Crawler) CrawlDailyBars(ctx context.Context, ticker string, from, to time.Time) ([]model.PriceObservation, error) {
	if !c.HasKeys() {
		return nil, fmt.Errorf("no API keys configured")
	}
	key, err := c.acquireKey(ctx)
	if err != nil {
		return nil, err
	}
	req, err := c.buildDailyAggregatesRequest(ctx, ticker, from, to, key)
	if err != nil {
		return nil, err
	}

	var out []model.PriceObservation
	for page := 1; ; page++ {
		response, err := c.doAggregatesRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, barRaw := range response.Results {
			out = append(out, barRaw.ToObservation(ticker))
		}
		c.logger.Debug("page fetched", "ticker", ticker, "page", page, "bars", len(response.Results), "key", keyPrefix(key))
		if response.NextURL == "" {
			break
		}
		next, err := url.Parse(response.NextURL)
		if err != nil {
			return nil, fmt.Errorf("parse next_url: %w", err)
		}
		q := next.Query()
		q.Set("apiKey", key)
		next.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
	}
	return dedupeDays(out), nil
}

// dedupeDays keeps the last bar per calendar day; input is ascending.
func dedupeDays(obs []model.PriceObservation) []model.PriceObservation {
	if len(obs) < 2 {
		return obs
	}
	out := obs[:1]
	for _, o := range obs[1:] {
		last := &out[len(out)-1]
		if o.Date.Equal(last.Date) {
			*last = o
			continue
		}
		if o.Date.Before(last.Date) {
			continue
		}
		out = append(out, o)
	}
	return out
}
