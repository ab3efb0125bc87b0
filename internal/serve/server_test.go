package serve

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxz073/finm-dashboard/internal/excerpt"
	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/provider"
)

type stubFetcher struct {
	calls    int
	entities []string
	err      error
}

func (s *stubFetcher) Fetch(_ context.Context, entities []string, r model.DateRange) (*model.Dataset, error) {
	s.calls++
	s.entities = entities
	if s.err != nil {
		return nil, s.err
	}
	var obs []model.PriceObservation
	for _, e := range entities {
		obs = append(obs, model.PriceObservation{EntityID: e, Date: r.Start, Price: decimal.NewFromInt(50)})
	}
	return &model.Dataset{Observations: obs, Provenance: model.ProvenanceSynthetic, Range: r}, nil
}

func testPaths(t *testing.T) excerpt.Paths {
	dir := t.TempDir()
	return excerpt.Paths{
		CSV:      filepath.Join(dir, "price_excerpt.csv"),
		Parquet:  filepath.Join(dir, "price_excerpt.parquet"),
		Metadata: filepath.Join(dir, "price_excerpt_metadata.json"),
	}
}

func writeExcerpt(t *testing.T, paths excerpt.Paths) {
	t.Helper()
	ds := &model.Dataset{
		Observations: []model.PriceObservation{
			{EntityID: "AAPL", Date: model.Day(2020, 1, 2), Price: decimal.RequireFromString("75.0875")},
			{EntityID: "AAPL", Date: model.Day(2020, 1, 3), Price: decimal.RequireFromString("74.3575")},
			{EntityID: "MSFT", Date: model.Day(2020, 1, 2), Price: decimal.RequireFromString("160.62")},
		},
		Provenance: model.ProvenanceSample,
		Range:      model.NewDateRange(model.Day(2020, 1, 2), model.Day(2020, 1, 3)),
	}
	ex, meta, err := excerpt.Build(ds, excerpt.Spec{}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, excerpt.Write(ex, meta, paths))
}

func newTestServer(paths excerpt.Paths, f Fetcher) *fiber.App {
	return New(Options{
		Paths:    paths,
		Fallback: f,
		Range:    model.NewDateRange(model.Day(2020, 1, 2), model.Day(2020, 1, 3)),
	}).App()
}

func get(t *testing.T, app *fiber.App, target string, v any) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, json.Unmarshal(body, v), string(body))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	app := newTestServer(testPaths(t), nil)
	var out map[string]string
	assert.Equal(t, http.StatusOK, get(t, app, "/healthz", &out))
	assert.Equal(t, "ok", out["status"])
}

func TestMetadata(t *testing.T) {
	paths := testPaths(t)
	app := newTestServer(paths, nil)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, app, "/api/metadata", &errBody))
	assert.NotEmpty(t, errBody["error"])

	writeExcerpt(t, paths)
	var meta model.PipelineMetadata
	assert.Equal(t, http.StatusOK, get(t, app, "/api/metadata", &meta))
	assert.Equal(t, 3, meta.Rows)
	assert.Equal(t, model.ProvenanceSample, meta.Provenance)
	assert.Equal(t, []string{"AAPL", "MSFT"}, meta.EntityIDs)
}

func TestPricesFromExcerpt(t *testing.T) {
	paths := testPaths(t)
	writeExcerpt(t, paths)
	f := &stubFetcher{}
	app := newTestServer(paths, f)

	var resp PricesResponse
	assert.Equal(t, http.StatusOK, get(t, app, "/api/prices?entity=aapl", &resp))
	assert.Equal(t, SourceExcerpt, resp.Source)
	assert.Equal(t, model.ProvenanceSample, resp.Provenance)
	assert.Equal(t, "AAPL", resp.Entity)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, Observation{EntityID: "AAPL", Date: "2020-01-02", Price: "75.0875"}, resp.Observations[0])
	assert.Zero(t, f.calls)

	require.NoError(t, os.Remove(paths.Parquet))
	resp = PricesResponse{}
	assert.Equal(t, http.StatusOK, get(t, app, "/api/prices", &resp))
	assert.Equal(t, SourceExcerpt, resp.Source, "CSV still serves")
	assert.Equal(t, 3, resp.Count)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, app, "/api/prices?entity=IBM", &errBody))
	assert.Equal(t, SourceExcerpt, errBody["source"])
}

func TestPricesFallback(t *testing.T) {
	f := &stubFetcher{}
	app := newTestServer(testPaths(t), f)

	var resp PricesResponse
	assert.Equal(t, http.StatusOK, get(t, app, "/api/prices?entity=SPY", &resp))
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, model.ProvenanceSynthetic, resp.Provenance)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, provider.DefaultEntities, f.entities)

	var all PricesResponse
	assert.Equal(t, http.StatusOK, get(t, app, "/api/prices", &all))
	assert.Equal(t, len(provider.DefaultEntities), all.Count, "entity filter must not shrink the cached response")
	assert.Equal(t, 1, f.calls, "fallback is fetched once per server")
}

func TestPricesFallbackRetriesAfterFailure(t *testing.T) {
	f := &stubFetcher{err: provider.ErrDataUnavailable}
	app := newTestServer(testPaths(t), f)

	var errBody map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, get(t, app, "/api/prices", &errBody))

	f.err = nil
	var resp PricesResponse
	assert.Equal(t, http.StatusOK, get(t, app, "/api/prices", &resp))
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, 2, f.calls)
}

func TestPricesWithoutFallback(t *testing.T) {
	app := newTestServer(testPaths(t), nil)
	assert.Equal(t, http.StatusInternalServerError, get(t, app, "/api/prices", nil))
}

func TestEntities(t *testing.T) {
	paths := testPaths(t)
	app := newTestServer(paths, nil)

	var out struct {
		Source   string   `json:"source"`
		Entities []string `json:"entities"`
	}
	assert.Equal(t, http.StatusOK, get(t, app, "/api/entities", &out))
	assert.Equal(t, SourceFallback, out.Source)
	assert.Equal(t, []string{"AAPL", "MSFT", "SPY"}, out.Entities)

	writeExcerpt(t, paths)
	assert.Equal(t, http.StatusOK, get(t, app, "/api/entities", &out))
	assert.Equal(t, SourceExcerpt, out.Source)
	assert.Equal(t, []string{"AAPL", "MSFT"}, out.Entities)
}

func TestMetricsEndpoint(t *testing.T) {
	paths := testPaths(t)
	writeExcerpt(t, paths)
	app := newTestServer(paths, nil)
	get(t, app, "/api/prices", nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dashdata_api_requests_total{endpoint="prices",source="excerpt"}`)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(Options{Paths: testPaths(t)})
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
