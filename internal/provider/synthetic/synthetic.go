// Package synthetic is the last-resort tier: a deterministic geometric
// random walk per entity.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxz073/finm-dashboard/internal/model"
)

const (
	basePrice  = 100.0
	drift      = 0.0005
	volatility = 0.012
	minVolume  = 50_000
	maxVolume  = 200_000
)

// Config holds generator options.
type Config struct {
	Calendar string // "daily" (default) or "business"
}

// Source generates series that depend only on entity and range.
type Source struct {
	cfg Config
}

// NewSource returns a synthetic tier.
func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Name returns the tier name.
func (s *Source) Name() string { return "synthetic" }

// Tier returns SYNTHETIC.
func (s *Source) Tier() model.Provenance { return model.ProvenanceSynthetic }

// Close is a no-op.
func (s *Source) Close() error { return nil }

// Fetch generates a series for every entity.
func (s *Source) Fetch(_ context.Context, entities []string, r model.DateRange) (map[string][]model.PriceObservation, error) {
	cal, err := model.ParseCalendar(s.cfg.Calendar)
	if err != nil {
		return nil, fmt.Errorf("synthetic: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("synthetic: %w", err)
	}
	days := r.Days(cal)
	if len(days) == 0 {
		return nil, fmt.Errorf("synthetic: no %s dates in %s", cal, r)
	}
	out := make(map[string][]model.PriceObservation, len(entities))
	for _, e := range entities {
		out[e] = Series(e, days, r)
	}
	return out, nil
}

// Seed derives the generator seed from entity and range.
func Seed(entity string, r model.DateRange) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", entity, r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout))
	return h.Sum64()
}

// Series generates one observation per day.
func Series(entity string, days []time.Time, r model.DateRange) []model.PriceObservation {
	seed := Seed(entity, r)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	out := make([]model.PriceObservation, 0, len(days))
	logPrice := 0.0
	for _, d := range days {
		logPrice += drift + volatility*rng.NormFloat64()
		price := model.RoundPrice(decimal.NewFromFloat(basePrice * math.Exp(logPrice)))
		if !price.IsPositive() {
			price = decimal.New(1, -model.PriceScale)
		}
		vol := minVolume + rng.Int64N(maxVolume-minVolume)
		out = append(out, model.PriceObservation{
			EntityID: entity,
			Date:     d,
			Price:    price,
			Volume:   &vol,
		})
	}
	return out
}
