package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// clearEnv blanks every variable LoadConfig reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DASHDATA_CONFIG", "DATA_PROVIDER", "ENTITIES", "ENTITIES_FILE", "START_DATE", "END_DATE",
		"DATA_DIR", "DOCS_DIR", "DOCS_SRC_DIR", "TASK_FILE", "LOG_LEVEL", "LOG_FORMAT", "WORKERS",
		"STATE_BACKEND", "REDIS_URL", "POLYGON_API_KEYS", "POLYGON_API_KEY", "POLYGON_BASE_URL",
		"POLYGON_COOLDOWN_SEC", "POLYGON_RETRIES", "WRDS_USERNAME", "WRDS_PASSWORD", "WRDS_HOST",
		"WRDS_PORT", "WRDS_SSLMODE", "SAMPLE_PRICES_PATH", "SAMPLE_SUBSTITUTE", "SYNTHETIC_CALENDAR",
		"EXCERPT_MAX_ENTITIES", "EXCERPT_COLUMNS", "EXCERPT_WINDOW_START", "EXCERPT_WINDOW_END",
		"SERVE_ADDR", "RUN_HOUR", "RUN_MINUTE",
	} {
		t.Setenv(k, "")
	}
	os.Unsetenv("DASHDATA_CONFIG")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "none", cfg.DataProvider)
	assert.Equal(t, []string{"AAPL", "MSFT", "SPY"}, cfg.Entities)
	assert.Equal(t, "_data", cfg.DataDir)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, filepath.Join("_data", "price_excerpt.csv"), cfg.ExcerptCSVPath())
	assert.Equal(t, filepath.Join("_data", ".dashdata-state.json"), cfg.StatePath())

	r, err := cfg.DateRange(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01..2024-03-09", r.String())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_USER", "jdoe")
	path := filepath.Join(t.TempDir(), "dashdata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_provider: wrds
entities: [ibm, ge]
start_date: "2021-01-01"
end_date: "2021-03-31"
workers: 4
wrds:
  username: ${SECRET_USER}
sample:
  substitute: true
excerpt:
  max_entities: 1
  columns: [volume]
`), 0o644))
	t.Setenv("DASHDATA_CONFIG", path)
	t.Setenv("WORKERS", "2")
	t.Setenv("POLYGON_API_KEYS", "k1, k2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wrds", cfg.DataProvider)
	assert.Equal(t, 2, cfg.Workers, "env overrides file")
	assert.Equal(t, "jdoe", cfg.WRDS.Username)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Polygon.APIKeys)

	ents, err := cfg.ResolveEntities()
	require.NoError(t, err)
	assert.Equal(t, []string{"IBM", "GE"}, ents)

	pc := cfg.ProviderConfig()
	assert.Equal(t, "wrds", pc.Live)
	assert.True(t, pc.Sample.Substitute)
	assert.Equal(t, 12*time.Second, pc.Polygon.Cooldown)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DASHDATA_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"provider":     func(c *Config) { c.DataProvider = "bloomberg" },
		"workers":      func(c *Config) { c.Workers = 0 },
		"backend":      func(c *Config) { c.StateBackend = "s3" },
		"redis url":    func(c *Config) { c.StateBackend = "redis" },
		"dates":        func(c *Config) { c.StartDate = "2020-02-30" },
		"inverted":     func(c *Config) { c.StartDate, c.EndDate = "2021-01-02", "2021-01-01" },
		"calendar":     func(c *Config) { c.Synthetic.Calendar = "lunar" },
		"max entities": func(c *Config) { c.Excerpt.MaxEntities = -1 },
		"columns":      func(c *Config) { c.Excerpt.Columns = []string{"open"} },
		"half window":  func(c *Config) { c.Excerpt.WindowStart = "2020-01-01" },
		"run hour":     func(c *Config) { c.RunHour = 24 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExcerptWindow(t *testing.T) {
	cfg := DefaultConfig()
	w, err := cfg.ExcerptWindow()
	require.NoError(t, err)
	assert.Nil(t, w)

	cfg.Excerpt.WindowStart, cfg.Excerpt.WindowEnd = "2020-01-02", "2020-01-03"
	w, err = cfg.ExcerptWindow()
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(model.Day(2020, 1, 2)))
}

func TestResolveEntitiesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickers.txt")
	require.NoError(t, os.WriteFile(path, []byte("spy\n"), 0o644))
	cfg := DefaultConfig()
	cfg.EntitiesFile = path
	ents, err := cfg.ResolveEntities()
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY"}, ents)

	cfg = DefaultConfig()
	cfg.Entities = nil
	_, err = cfg.ResolveEntities()
	assert.Error(t, err)
}
