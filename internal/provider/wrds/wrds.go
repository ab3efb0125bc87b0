// Package wrds is the live tier backed by the CRSP daily stock file on the
// WRDS PostgreSQL service.
package wrds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// dailyQuery joins CRSP daily prices to the ticker that was valid on each date.
const dailyQuery = `
SELECT h.ticker, d.dlycaldt, d.dlyprc, d.dlyvol
FROM crsp.dsf_v2 AS d
JOIN crsp.stksecurityinfohist AS h
  ON h.permno = d.permno
 AND d.dlycaldt BETWEEN h.secinfostartdt AND h.secinfoenddt
WHERE h.ticker = ANY($1)
  AND d.dlycaldt BETWEEN $2 AND $3
ORDER BY h.ticker, d.dlycaldt`

// Source queries WRDS lazily: the pool is opened on the first Fetch.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewSource returns a WRDS tier. No connection is made until Fetch.
func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg, logger: slog.Default().With("source", "wrds")}
}

// Name returns the tier name.
func (s *Source) Name() string { return "wrds" }

// Tier returns LIVE_PULL.
func (s *Source) Tier() model.Provenance { return model.ProvenanceLive }

// Close closes the pool if it was opened.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// connect creates the pool once.
func (s *Source) connect(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(s.cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if s.cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(s.cfg.MaxConns)
	}
	poolCfg.ConnConfig.ConnectTimeout = 15 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.pool = pool
	return pool, nil
}

// Fetch reads daily closes for entities over r.
func (s *Source) Fetch(ctx context.Context, entities []string, r model.DateRange) (map[string][]model.PriceObservation, error) {
	if !s.cfg.HasCredentials() {
		return nil, fmt.Errorf("wrds: no username: %w", model.ErrSourceUnavailable)
	}
	pool, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("wrds: %v: %w", err, model.ErrSourceUnavailable)
	}

	rows, err := pool.Query(ctx, dailyQuery, entities, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("wrds query: %v: %w", err, model.ErrSourceUnavailable)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("wrds scan: %w", err)
	}
	s.logger.Info("crsp rows read", "entities", len(out), "requested", len(entities))
	return out, nil
}

type crspRow struct {
	Ticker string
	Date   time.Time
	Price  *float64
	Volume *float64
}

func collect(rows pgx.Rows) (map[string][]model.PriceObservation, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crspRow, error) {
		var r crspRow
		err := row.Scan(&r.Ticker, &r.Date, &r.Price, &r.Volume)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.PriceObservation)
	for _, rec := range recs {
		if obs, ok := toObservation(rec); ok {
			prev := out[obs.EntityID]
			if n := len(prev); n > 0 && !prev[n-1].Date.Before(obs.Date) {
				continue // share classes with the same ticker; keep the first
			}
			out[obs.EntityID] = append(prev, obs)
		}
	}
	return out, nil
}

// toObservation converts a CRSP row. CRSP stores a bid/ask midpoint as a
// negative price when there was no trade; the magnitude is the price.
func toObservation(r crspRow) (model.PriceObservation, bool) {
	if r.Price == nil || *r.Price == 0 {
		return model.PriceObservation{}, false
	}
	obs := model.PriceObservation{
		EntityID: strings.ToUpper(strings.TrimSpace(r.Ticker)),
		Date:     model.TruncateDay(r.Date),
		Price:    model.RoundPrice(decimal.NewFromFloat(*r.Price).Abs()),
	}
	if !obs.Price.IsPositive() {
		return model.PriceObservation{}, false
	}
	if r.Volume != nil && *r.Volume >= 0 {
		obs.Volume = model.Int64Ptr(int64(*r.Volume))
	}
	return obs, true
}
