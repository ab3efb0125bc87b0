package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/provider/sample"
	"github.com/maxz073/finm-dashboard/internal/provider/synthetic"
)

var jan1to5 = model.NewDateRange(model.Day(2020, 1, 1), model.Day(2020, 1, 5))

// stubSource serves fixed series or fails with err.
type stubSource struct {
	name   string
	tier   model.Provenance
	series map[string][]model.PriceObservation
	err    error
	asked  [][]string
}

func (s *stubSource) Name() string           { return s.name }
func (s *stubSource) Tier() model.Provenance { return s.tier }
func (s *stubSource) Close() error           { return nil }
func (s *stubSource) Fetch(_ context.Context, entities []string, _ model.DateRange) (map[string][]model.PriceObservation, error) {
	s.asked = append(s.asked, entities)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]model.PriceObservation)
	for _, e := range entities {
		if obs, ok := s.series[e]; ok {
			out[e] = obs
		}
	}
	return out, nil
}

func liveStub(entities ...string) *stubSource {
	s := &stubSource{name: "live", tier: model.ProvenanceLive, series: map[string][]model.PriceObservation{}}
	for _, e := range entities {
		s.series[e] = []model.PriceObservation{{EntityID: e, Date: model.Day(2020, 1, 2), Price: model.RoundPrice(decimalOf(10))}}
	}
	return s
}

func TestFetchSyntheticWhenNothingElse(t *testing.T) {
	a, err := New(Config{Live: LiveNone})
	require.NoError(t, err)

	ds, err := a.Fetch(context.Background(), []string{"ACME"}, jan1to5)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceSynthetic, ds.Provenance)
	assert.Equal(t, 5, ds.Len())
	assert.False(t, ds.Substituted)
	for _, o := range ds.Observations {
		assert.True(t, o.Price.IsPositive())
	}
}

func TestFetchLiveUnavailableFallsBack(t *testing.T) {
	live := &stubSource{name: "live", tier: model.ProvenanceLive, err: errors.Join(errors.New("401"), ErrSourceUnavailable)}
	a := NewWithTiers(live, sample.NewSource(sample.Config{}), synthetic.NewSource(synthetic.Config{}))

	ds, err := a.Fetch(context.Background(), []string{"aapl", "MSFT", "AAPL"}, jan1to5)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceSample, ds.Provenance)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ds.Entities())
	assert.Equal(t, []string{"AAPL", "MSFT"}, ds.Requested)
}

func TestFetchPerEntityMixed(t *testing.T) {
	live := liveStub("MSFT")
	a := NewWithTiers(live, sample.NewSource(sample.Config{}), synthetic.NewSource(synthetic.Config{}))

	ds, err := a.Fetch(context.Background(), []string{"AAPL", "MSFT", "ACME"}, jan1to5)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceMixed, ds.Provenance)
	assert.Equal(t, map[string]model.Provenance{
		"AAPL": model.ProvenanceSample,
		"MSFT": model.ProvenanceLive,
		"ACME": model.ProvenanceSynthetic,
	}, ds.EntityProvenance)
	assert.Equal(t, []string{"AAPL", "MSFT", "ACME"}, ds.Entities())
	assert.Equal(t, [][]string{{"AAPL", "MSFT", "ACME"}}, live.asked)
}

func TestFetchAllLive(t *testing.T) {
	live := liveStub("AAPL", "MSFT")
	syn := &stubSource{name: "synthetic", tier: model.ProvenanceSynthetic}
	a := NewWithTiers(live, syn)

	ds, err := a.Fetch(context.Background(), []string{"AAPL", "MSFT"}, jan1to5)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceLive, ds.Provenance)
	assert.Empty(t, syn.asked, "later tiers are not consulted once every entity is served")
}

func TestFetchSubstitution(t *testing.T) {
	a := NewWithTiers(sample.NewSource(sample.Config{Substitute: true}), synthetic.NewSource(synthetic.Config{}))

	ds, err := a.Fetch(context.Background(), []string{"ACME"}, jan1to5)
	require.NoError(t, err)
	assert.True(t, ds.Substituted)
	assert.Equal(t, model.ProvenanceSample, ds.Provenance)
	assert.Equal(t, []string{"AAPL", "MSFT", "SPY"}, ds.Entities())
	assert.Equal(t, []string{"ACME"}, ds.Requested)
}

func TestFetchDataUnavailable(t *testing.T) {
	down := &stubSource{name: "live", tier: model.ProvenanceLive, err: ErrSourceUnavailable}
	a := NewWithTiers(down, synthetic.NewSource(synthetic.Config{Calendar: "lunar"}))

	_, err := a.Fetch(context.Background(), []string{"ACME"}, jan1to5)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = NewWithTiers().Fetch(context.Background(), []string{"ACME"}, jan1to5)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = NewWithTiers(synthetic.NewSource(synthetic.Config{})).Fetch(context.Background(), nil, jan1to5)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWithTiers(synthetic.NewSource(synthetic.Config{})).Fetch(ctx, []string{"ACME"}, jan1to5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigTiers(t *testing.T) {
	cases := map[string][]string{
		LivePolygon: {"polygon", "sample", "synthetic"},
		LiveWRDS:    {"wrds", "sample", "synthetic"},
		LiveNone:    {"sample", "synthetic"},
	}
	for live, want := range cases {
		a, err := New(Config{Live: live})
		require.NoError(t, err)
		assert.Equal(t, want, a.Tiers(), live)
	}

	_, err := New(Config{Live: "bloomberg"})
	assert.Error(t, err)
}

func decimalOf(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
