package provider

import (
	"context"

	"github.com/maxz073/finm-dashboard/internal/model"
)

var (
	ErrSourceUnavailable = model.ErrSourceUnavailable
	ErrDataUnavailable   = model.ErrDataUnavailable
)

// Source is one tier of the fallback chain. Fetch returns the series it can
// produce keyed by entity; entities it cannot serve are simply absent.
type Source interface {
	Name() string
	Tier() model.Provenance
	Fetch(ctx context.Context, entities []string, r model.DateRange) (map[string][]model.PriceObservation, error)
	Close() error
}
