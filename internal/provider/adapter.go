package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/maxz073/finm-dashboard/internal/metrics"
	"github.com/maxz073/finm-dashboard/internal/model"
)

// Adapter fetches daily prices through a fixed chain of tiers. Each entity is
// served by the first tier that has data for it.
type Adapter struct {
	tiers  []Source
	logger *slog.Logger
}

// New builds an adapter from cfg.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithTiers(cfg.Tiers()...), nil
}

// NewWithTiers builds an adapter over an explicit chain.
func NewWithTiers(tiers ...Source) *Adapter {
	return &Adapter{tiers: tiers, logger: slog.Default().With("component", "adapter")}
}

// Tiers returns the tier names in order.
func (a *Adapter) Tiers() []string {
	names := make([]string, len(a.tiers))
	for i, t := range a.tiers {
		names[i] = t.Name()
	}
	return names
}

// Close closes every tier.
func (a *Adapter) Close() error {
	var errs []error
	for _, t := range a.tiers {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

// NormalizeEntities upper-cases, trims and de-duplicates ids, keeping order.
func NormalizeEntities(entities []string) []string {
	seen := make(map[string]bool, len(entities))
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// Fetch returns a validated dataset for entities over r.
func (a *Adapter) Fetch(ctx context.Context, entities []string, r model.DateRange) (*model.Dataset, error) {
	requested := NormalizeEntities(entities)
	if len(requested) == 0 {
		return nil, fmt.Errorf("no entities requested: %w", ErrDataUnavailable)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	series := make(map[string][]model.PriceObservation, len(requested))
	prov := make(map[string]model.Provenance, len(requested))
	order := slices.Clone(requested)
	remaining := requested
	substituted := false
	var lastErr error

	for _, tier := range a.tiers {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := tier.Fetch(ctx, remaining, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			outcome := "error"
			if errors.Is(err, ErrSourceUnavailable) {
				outcome = "unavailable"
			}
			metrics.TierFetches.WithLabelValues(tier.Name(), outcome).Inc()
			a.logger.Warn("tier failed, falling back", "tier", tier.Name(), "error", err)
			continue
		}

		served := 0
		for _, e := range remaining {
			if obs := got[e]; len(obs) > 0 {
				series[e] = obs
				prov[e] = tier.Tier()
				served++
			}
		}
		if served == 0 && len(series) == 0 && hasForeign(got, remaining) {
			// The tier answered with entities of its own.
			order = order[:0]
			for _, e := range sortedKeys(got, tier) {
				series[e] = got[e]
				prov[e] = tier.Tier()
				order = append(order, e)
			}
			served = len(got)
			substituted = true
			remaining = nil
			a.logger.Warn("requested entities substituted", "tier", tier.Name(), "requested", requested, "served", order)
		} else {
			remaining = slices.DeleteFunc(slices.Clone(remaining), func(e string) bool { return prov[e] != "" })
		}

		outcome := "ok"
		if served == 0 {
			outcome = "empty"
		}
		metrics.TierFetches.WithLabelValues(tier.Name(), outcome).Inc()
		a.logger.Info("tier fetched", "tier", tier.Name(), "entities", served, "remaining", len(remaining))
	}

	if len(series) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, lastErr)
		}
		return nil, fmt.Errorf("no tier produced data for %v over %s: %w", requested, r, ErrDataUnavailable)
	}
	if len(remaining) > 0 {
		a.logger.Warn("entities without data", "entities", remaining)
	}

	ds := &model.Dataset{
		EntityProvenance: prov,
		Requested:        requested,
		Substituted:      substituted,
		Range:            r,
	}
	for _, e := range order {
		ds.Observations = append(ds.Observations, series[e]...)
	}
	ds.Provenance = combine(prov)
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("dataset from %s: %w", ds.Provenance, err)
	}
	return ds, nil
}

// sortedKeys lists a substituting tier's entities in its own order when it
// exposes one, else alphabetically.
func sortedKeys(got map[string][]model.PriceObservation, tier Source) []string {
	if lister, ok := tier.(interface{ Entities() ([]string, error) }); ok {
		if ents, err := lister.Entities(); err == nil {
			return slices.DeleteFunc(ents, func(e string) bool { return len(got[e]) == 0 })
		}
	}
	keys := make([]string, 0, len(got))
	for k, obs := range got {
		if len(obs) > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func hasForeign(got map[string][]model.PriceObservation, asked []string) bool {
	for k, obs := range got {
		if len(obs) > 0 && !slices.Contains(asked, k) {
			return true
		}
	}
	return false
}

func combine(prov map[string]model.Provenance) model.Provenance {
	var first model.Provenance
	for _, p := range prov {
		if first == "" {
			first = p
		} else if p != first {
			return model.ProvenanceMixed
		}
	}
	return first
}
