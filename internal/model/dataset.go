package model

import (
	"fmt"
)

// Provenance records which fallback tier produced a dataset.
type Provenance string

const (
	ProvenanceLive      Provenance = "LIVE_PULL"
	ProvenanceSample    Provenance = "BUNDLED_SAMPLE"
	ProvenanceSynthetic Provenance = "SYNTHETIC"
	ProvenanceMixed     Provenance = "MIXED" // entities came from more than one tier
)

// ParseProvenance accepts the tag as written in metadata files.
func ParseProvenance(s string) (Provenance, error) {
	switch p := Provenance(s); p {
	case ProvenanceLive, ProvenanceSample, ProvenanceSynthetic, ProvenanceMixed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provenance %q", s)
	}
}

// Dataset is the output of one adapter fetch. It is built once and not
// mutated afterwards; consumers copy before narrowing.
type Dataset struct {
	Observations     []PriceObservation
	Provenance       Provenance
	EntityProvenance map[string]Provenance
	Requested        []string
	Substituted      bool // sample entities replaced the requested ones
	Range            DateRange
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	return len(d.Observations)
}

// Entities returns the entity ids in order of first appearance.
func (d *Dataset) Entities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range d.Observations {
		if !seen[o.EntityID] {
			seen[o.EntityID] = true
			out = append(out, o.EntityID)
		}
	}
	return out
}

// ByEntity groups observations per entity, keeping order within each.
func (d *Dataset) ByEntity() map[string][]PriceObservation {
	out := make(map[string][]PriceObservation)
	for _, o := range d.Observations {
		out[o.EntityID] = append(out[o.EntityID], o)
	}
	return out
}

// Validate checks (entity, date) uniqueness, chronological order per entity,
// positive prices and non-negative volumes.
func (d *Dataset) Validate() error {
	last := make(map[string]PriceObservation)
	for i, o := range d.Observations {
		if o.EntityID == "" {
			return fmt.Errorf("observation %d: empty entity id", i)
		}
		if !o.Price.IsPositive() {
			return fmt.Errorf("observation %d (%s %s): price %s is not positive", i, o.EntityID, o.Date.Format(DateLayout), o.Price)
		}
		if o.Volume != nil && *o.Volume < 0 {
			return fmt.Errorf("observation %d (%s %s): negative volume", i, o.EntityID, o.Date.Format(DateLayout))
		}
		if prev, ok := last[o.EntityID]; ok {
			if o.Date.Equal(prev.Date) {
				return fmt.Errorf("duplicate observation for %s on %s", o.EntityID, o.Date.Format(DateLayout))
			}
			if o.Date.Before(prev.Date) {
				return fmt.Errorf("observations for %s out of order at %s", o.EntityID, o.Date.Format(DateLayout))
			}
		}
		last[o.EntityID] = o
	}
	return nil
}
