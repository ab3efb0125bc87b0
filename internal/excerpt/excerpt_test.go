package excerpt

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// tenEntities builds E0..E9 with three days each, E9 first so input order
// differs from alphabetical.
func tenEntities(t *testing.T) *model.Dataset {
	t.Helper()
	ds := &model.Dataset{Provenance: model.ProvenanceSynthetic}
	for _, i := range []int{9, 0, 1, 2, 3, 4, 5, 6, 7, 8} {
		for d := 1; d <= 3; d++ {
			ds.Observations = append(ds.Observations, model.PriceObservation{
				EntityID: fmt.Sprintf("E%d", i),
				Date:     model.Day(2020, 1, d),
				Price:    decimal.NewFromInt(int64(100 + i*10 + d)),
				Volume:   model.Int64Ptr(int64(1000 * d)),
			})
		}
	}
	require.NoError(t, ds.Validate())
	return ds
}

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{
		CSV:      filepath.Join(dir, "price_excerpt.csv"),
		Parquet:  filepath.Join(dir, "price_excerpt.parquet"),
		Metadata: filepath.Join(dir, "price_excerpt_metadata.json"),
	}
}

func TestBuildMaxEntities(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ex, meta, err := Build(tenEntities(t), Spec{MaxEntities: 3}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"E9", "E0", "E1"}, ex.EntityIDs)
	assert.Len(t, ex.Rows, 9)
	assert.Equal(t, 3, meta.Entities)
	assert.Equal(t, 9, meta.Rows)
	assert.Equal(t, "2020-01-01", meta.MinDate)
	assert.Equal(t, "2020-01-03", meta.MaxDate)
	assert.Equal(t, []string{"entity_id", "date", "price"}, meta.Columns)
	assert.Equal(t, model.ProvenanceSynthetic, meta.Provenance)
	assert.Equal(t, now, meta.GeneratedAt)
	assert.NotEmpty(t, meta.RunID)
	for _, o := range ex.Rows {
		assert.Nil(t, o.Volume, "volume is dropped unless requested")
	}
}

func TestBuildWindowAndColumns(t *testing.T) {
	w := model.NewDateRange(model.Day(2020, 1, 2), model.Day(2020, 1, 2))
	ex, meta, err := Build(tenEntities(t), Spec{Window: &w, Columns: []string{"volume"}}, time.Now())
	require.NoError(t, err)
	assert.Len(t, ex.Rows, 10)
	assert.Equal(t, 10, meta.Entities)
	assert.Equal(t, []string{"entity_id", "date", "price", "volume"}, meta.Columns)
	assert.Equal(t, int64(2000), *ex.Rows[0].Volume)
}

func TestBuildReturnColumn(t *testing.T) {
	w := model.NewDateRange(model.Day(2020, 1, 2), model.Day(2020, 1, 3))
	ex, meta, err := Build(tenEntities(t), Spec{Window: &w, MaxEntities: 1, Columns: []string{"return", "volume"}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"entity_id", "date", "price", "volume", "return"}, meta.Columns)
	require.Len(t, ex.Rows, 2)
	assert.Equal(t, "0.005236", ex.Rows[0].Return.StringFixed(model.ReturnScale), "first windowed row compares against the day before")

	ex, _, err = Build(tenEntities(t), Spec{MaxEntities: 2, Columns: []string{"return"}}, time.Now())
	require.NoError(t, err)
	assert.True(t, ex.Rows[0].Return.IsZero(), "first observation of an entity has zero return")
	assert.True(t, ex.Rows[3].Return.IsZero())
	assert.Nil(t, ex.Rows[0].Volume)

	ex, _, err = Build(tenEntities(t), Spec{MaxEntities: 1}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ex.Rows[1].Return)
}

func TestBuildDeterministic(t *testing.T) {
	ds := tenEntities(t)
	a, ma, err := Build(ds, Spec{MaxEntities: 4}, time.Unix(0, 0))
	require.NoError(t, err)
	b, mb, err := Build(ds, Spec{MaxEntities: 4}, time.Now())
	require.NoError(t, err)

	if diff := cmp.Diff(a.Rows, b.Rows, cmp.Comparer(func(x, y model.PriceObservation) bool { return x.Equal(y) })); diff != "" {
		t.Fatalf("rows differ (-a +b):\n%s", diff)
	}
	assert.Equal(t, ma.Checksum, mb.Checksum)
	assert.NotEqual(t, ma.RunID, mb.RunID)
}

func TestBuildEmpty(t *testing.T) {
	w := model.NewDateRange(model.Day(2021, 1, 1), model.Day(2021, 12, 31))
	_, _, err := Build(tenEntities(t), Spec{Window: &w}, time.Now())
	assert.ErrorIs(t, err, ErrEmptyResult)

	_, _, err = Build(&model.Dataset{}, Spec{}, time.Now())
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestBuildRejectsBadSpec(t *testing.T) {
	ds := tenEntities(t)
	_, _, err := Build(ds, Spec{MaxEntities: -1}, time.Now())
	assert.Error(t, err)
	_, _, err = Build(ds, Spec{Columns: []string{"open"}}, time.Now())
	assert.Error(t, err)
	inverted := model.DateRange{Start: model.Day(2020, 1, 3), End: model.Day(2020, 1, 1)}
	_, _, err = Build(ds, Spec{Window: &inverted}, time.Now())
	assert.Error(t, err)
}

func TestWriteAndLoad(t *testing.T) {
	paths := testPaths(t)
	ex, meta, err := Build(tenEntities(t), Spec{MaxEntities: 3, Columns: []string{"volume", "return"}}, time.Now())
	require.NoError(t, err)
	require.NoError(t, Write(ex, meta, paths))
	require.NotNil(t, ex.Rows[1].Return)

	rows, from, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, paths.Parquet, from)
	eq := cmp.Comparer(func(x, y model.PriceObservation) bool { return x.Equal(y) })
	if diff := cmp.Diff(ex.Rows, rows, eq); diff != "" {
		t.Fatalf("parquet rows differ (-want +got):\n%s", diff)
	}

	got, err := ReadMetadata(paths.Metadata)
	require.NoError(t, err)
	assert.Equal(t, meta.Checksum, got.Checksum)
	assert.Equal(t, []string{"E9", "E0", "E1"}, got.EntityIDs)
	assert.Equal(t, meta.RunID, got.RunID)

	// CSV serves when the Parquet file is gone, with identical rows.
	require.NoError(t, os.Remove(paths.Parquet))
	rows, from, err = Load(paths)
	require.NoError(t, err)
	assert.Equal(t, paths.CSV, from)
	if diff := cmp.Diff(ex.Rows, rows, eq); diff != "" {
		t.Fatalf("csv rows differ (-want +got):\n%s", diff)
	}

	require.NoError(t, os.Remove(paths.CSV))
	_, _, err = Load(paths)
	assert.Error(t, err)
}

func TestWriteFailureKeepsPreviousExcerpt(t *testing.T) {
	paths := testPaths(t)
	ex, meta, err := Build(tenEntities(t), Spec{MaxEntities: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, Write(ex, meta, paths))
	before, err := os.ReadFile(paths.CSV)
	require.NoError(t, err)

	blocker := filepath.Join(filepath.Dir(paths.CSV), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	broken := paths
	broken.Metadata = filepath.Join(blocker, "meta.json")
	ex, meta, err = Build(tenEntities(t), Spec{MaxEntities: 5}, time.Now())
	require.NoError(t, err)
	assert.Error(t, Write(ex, meta, broken))

	after, err := os.ReadFile(paths.CSV)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(paths.CSV), "*"+stagingSuffix))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteEmpty(t *testing.T) {
	paths := testPaths(t)
	assert.ErrorIs(t, Write(&Excerpt{}, &model.PipelineMetadata{}, paths), ErrEmptyResult)
	_, err := os.Stat(paths.CSV)
	assert.True(t, os.IsNotExist(err))
}
