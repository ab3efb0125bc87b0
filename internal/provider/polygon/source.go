package polygon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// Source is the live Polygon tier.
type Source struct {
	crawler *Crawler
}

// NewSource wraps a crawler built from cfg.
func NewSource(cfg Config) *Source {
	return &Source{crawler: NewCrawler(cfg)}
}

// Name returns the tier name.
func (s *Source) Name() string { return "polygon" }

// Tier returns LIVE_PULL.
func (s *Source) Tier() model.Provenance { return model.ProvenanceLive }

// Close releases idle connections.
func (s *Source) Close() error { return s.crawler.Close() }

// Fetch pulls each entity in turn. Tickers the API has no bars for are left
// out of the result. An authorization, rate-limit or network failure stops
// the pull; bars already fetched are still returned.
func (s *Source) Fetch(ctx context.Context, entities []string, r model.DateRange) (map[string][]model.PriceObservation, error) {
	if !s.crawler.HasKeys() {
		return nil, fmt.Errorf("polygon: no API key: %w", model.ErrSourceUnavailable)
	}
	out := make(map[string][]model.PriceObservation, len(entities))
	for _, ticker := range entities {
		bars, err := s.crawler.CrawlDailyBars(ctx, ticker, r.Start, r.End)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isUnavailable(err) {
				if len(out) == 0 {
					return nil, fmt.Errorf("polygon %s: %v: %w", ticker, err, model.ErrSourceUnavailable)
				}
				s.crawler.logger.Warn("live pull stopped early", "ticker", ticker, "error", err, "fetched", len(out))
				return out, nil
			}
			s.crawler.logger.Warn("ticker skipped", "ticker", ticker, "error", err)
			continue
		}
		var kept []model.PriceObservation
		for _, b := range bars {
			if r.Contains(b.Date) && b.Price.IsPositive() {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 {
			out[ticker] = kept
		}
	}
	return out, nil
}

func isUnavailable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return true
		}
		return se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
