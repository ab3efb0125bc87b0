// Package sample is the bundled-sample tier: a wide CSV of daily closes
// (date column plus one column per ticker) shipped inside the binary.
package sample

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/maxz073/finm-dashboard/internal/model"
)

//go:embed sample_prices.csv
var bundled []byte

// Config selects the sample file and substitution policy.
type Config struct {
	Path       string // overrides the bundled file when set
	Substitute bool   // serve the sample's own entities when none requested are present
}

// Source serves observations from the sample file, parsed once.
type Source struct {
	cfg    Config
	logger *slog.Logger

	once   sync.Once
	series map[string][]model.PriceObservation
	order  []string
	err    error
}

// NewSource returns a sample tier.
func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg, logger: slog.Default().With("source", "sample")}
}

// Name returns the tier name.
func (s *Source) Name() string { return "sample" }

// Tier returns BUNDLED_SAMPLE.
func (s *Source) Tier() model.Provenance { return model.ProvenanceSample }

// Close is a no-op.
func (s *Source) Close() error { return nil }

// Entities lists the tickers in the sample, in column order.
func (s *Source) Entities() ([]string, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return slices.Clone(s.order), nil
}

func (s *Source) load() error {
	s.once.Do(func() {
		data := bundled
		if s.cfg.Path != "" {
			b, err := os.ReadFile(s.cfg.Path)
			if err != nil {
				s.err = fmt.Errorf("sample: %v: %w", err, model.ErrSourceUnavailable)
				return
			}
			data = b
		}
		s.series, s.order, s.err = Parse(bytes.NewReader(data))
		if s.err != nil {
			s.err = fmt.Errorf("sample %s: %w", s.describe(), s.err)
		}
	})
	return s.err
}

func (s *Source) describe() string {
	if s.cfg.Path != "" {
		return s.cfg.Path
	}
	return "(bundled)"
}

// Fetch returns the requested entities present in the sample within r. When
// none are present and substitution is enabled, the sample's own entities are
// returned instead; callers detect this by the foreign keys in the result.
func (s *Source) Fetch(_ context.Context, entities []string, r model.DateRange) (map[string][]model.PriceObservation, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string][]model.PriceObservation)
	var missing []string
	for _, e := range entities {
		if obs := window(s.series[e], r); len(obs) > 0 {
			out[e] = obs
		} else {
			missing = append(missing, e)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("entities not in sample", "missing", missing, "sample", s.order)
	}
	if len(out) > 0 || !s.cfg.Substitute {
		return out, nil
	}

	for _, e := range s.order {
		if obs := window(s.series[e], r); len(obs) > 0 {
			out[e] = obs
		}
	}
	if len(out) > 0 {
		s.logger.Warn("substituting sample entities", "requested", entities, "served", s.order)
	}
	return out, nil
}

func window(obs []model.PriceObservation, r model.DateRange) []model.PriceObservation {
	var out []model.PriceObservation
	for _, o := range obs {
		if r.Contains(o.Date) {
			out = append(out, o)
		}
	}
	return out
}

// Parse reads a wide CSV: first column is the date, remaining columns are
// tickers. Empty cells are skipped. Rows may be in any order; each series is
// returned sorted by date.
func Parse(r io.Reader) (map[string][]model.PriceObservation, []string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "date") {
		return nil, nil, errors.New("header must be date followed by tickers")
	}
	order := make([]string, 0, len(header)-1)
	for _, h := range header[1:] {
		order = append(order, strings.ToUpper(strings.TrimSpace(h)))
	}

	series := make(map[string][]model.PriceObservation, len(order))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		day, err := model.ParseDate(rec[0])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, cell := range rec[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			p, err := decimal.NewFromString(cell)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d %s: %w", line, order[i], err)
			}
			if !p.IsPositive() {
				continue
			}
			series[order[i]] = append(series[order[i]], model.PriceObservation{
				EntityID: order[i],
				Date:     day,
				Price:    model.RoundPrice(p),
			})
		}
	}
	for k, obs := range series {
		slices.SortStableFunc(obs, func(a, b model.PriceObservation) int { return a.Date.Compare(b.Date) })
		series[k] = slices.CompactFunc(obs, func(a, b model.PriceObservation) bool { return a.Date.Equal(b.Date) })
	}
	return series, order, nil
}
