package synthetic

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxz073/finm-dashboard/internal/model"
)

var jan1to5 = model.NewDateRange(model.Day(2020, 1, 1), model.Day(2020, 1, 5))

func TestFetchDaily(t *testing.T) {
	got, err := NewSource(Config{}).Fetch(context.Background(), []string{"ACME"}, jan1to5)
	require.NoError(t, err)
	acme := got["ACME"]
	require.Len(t, acme, 5)
	for i, o := range acme {
		assert.Equal(t, "ACME", o.EntityID)
		assert.True(t, o.Date.Equal(model.Day(2020, 1, 1+i)))
		assert.True(t, o.Price.IsPositive())
		require.NotNil(t, o.Volume)
		assert.GreaterOrEqual(t, *o.Volume, int64(minVolume))
		assert.Less(t, *o.Volume, int64(maxVolume))
	}
}

func TestFetchBusiness(t *testing.T) {
	got, err := NewSource(Config{Calendar: "business"}).Fetch(context.Background(), []string{"ACME"}, jan1to5)
	require.NoError(t, err)
	assert.Len(t, got["ACME"], 3)
}

func TestDeterministic(t *testing.T) {
	src := NewSource(Config{})
	a, err := src.Fetch(context.Background(), []string{"ACME", "BETA"}, jan1to5)
	require.NoError(t, err)
	b, err := NewSource(Config{}).Fetch(context.Background(), []string{"BETA", "ACME"}, jan1to5)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b, cmp.Comparer(func(x, y model.PriceObservation) bool { return x.Equal(y) })); diff != "" {
		t.Fatalf("series differ between runs (-a +b):\n%s", diff)
	}
	assert.False(t, a["ACME"][0].Price.Equal(a["BETA"][0].Price), "entities share a seed")
}

func TestSeedDependsOnRange(t *testing.T) {
	other := model.NewDateRange(model.Day(2020, 1, 1), model.Day(2020, 1, 6))
	assert.NotEqual(t, Seed("ACME", jan1to5), Seed("ACME", other))
	assert.Equal(t, Seed("ACME", jan1to5), Seed("ACME", jan1to5))
}

func TestMisconfigured(t *testing.T) {
	ctx := context.Background()

	_, err := NewSource(Config{Calendar: "lunar"}).Fetch(ctx, []string{"ACME"}, jan1to5)
	assert.Error(t, err)

	inverted := model.DateRange{Start: model.Day(2020, 1, 5), End: model.Day(2020, 1, 1)}
	_, err = NewSource(Config{}).Fetch(ctx, []string{"ACME"}, inverted)
	assert.Error(t, err)

	weekend := model.NewDateRange(model.Day(2020, 1, 4), model.Day(2020, 1, 5))
	_, err = NewSource(Config{Calendar: "business"}).Fetch(ctx, []string{"ACME"}, weekend)
	assert.Error(t, err)
}
