package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/provider"
	"github.com/maxz073/finm-dashboard/internal/provider/polygon"
	"github.com/maxz073/finm-dashboard/internal/provider/sample"
	"github.com/maxz073/finm-dashboard/internal/provider/synthetic"
	"github.com/maxz073/finm-dashboard/internal/provider/wrds"
	"github.com/maxz073/finm-dashboard/internal/saver"
)

// DefaultConfigFile is read when DASHDATA_CONFIG is not set and the file exists.
const DefaultConfigFile = "dashdata.yaml"

// Config holds application configuration: defaults, then the YAML file, then env.
type Config struct {
	DataProvider string   `yaml:"data_provider"` // polygon | wrds | none
	Entities     []string `yaml:"entities"`
	EntitiesFile string   `yaml:"entities_file"`
	StartDate    string   `yaml:"start_date"`
	EndDate      string   `yaml:"end_date"` // empty = yesterday

	DataDir    string `yaml:"data_dir"`
	DocsDir    string `yaml:"docs_dir"`
	DocsSrcDir string `yaml:"docs_src_dir"`
	TaskFile   string `yaml:"task_file"`

	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json

	Workers      int    `yaml:"workers"`
	StateBackend string `yaml:"state_backend"` // file | redis
	RedisURL     string `yaml:"redis_url"`

	Polygon   PolygonConfig   `yaml:"polygon"`
	WRDS      WRDSConfig      `yaml:"wrds"`
	Sample    SampleConfig    `yaml:"sample"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Excerpt   ExcerptConfig   `yaml:"excerpt"`

	ServeAddr string `yaml:"serve_addr"`
	RunHour   int    `yaml:"run_hour"`
	RunMinute int    `yaml:"run_minute"`
}

type PolygonConfig struct {
	APIKeys     []string `yaml:"api_keys"`
	BaseURL     string   `yaml:"base_url"`
	CooldownSec int      `yaml:"cooldown_sec"`
	Retries     int      `yaml:"retries"`
}

type WRDSConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSLMode  string `yaml:"sslmode"`
}

type SampleConfig struct {
	Path       string `yaml:"path"`
	Substitute bool   `yaml:"substitute"`
}

type SyntheticConfig struct {
	Calendar string `yaml:"calendar"`
}

type ExcerptConfig struct {
	MaxEntities int      `yaml:"max_entities"`
	Columns     []string `yaml:"columns"`
	WindowStart string   `yaml:"window_start"`
	WindowEnd   string   `yaml:"window_end"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		DataProvider: provider.LiveNone,
		Entities:     append([]string(nil), provider.DefaultEntities...),
		StartDate:    "2020-01-01",
		DataDir:      "_data",
		DocsDir:      "docs",
		DocsSrcDir:   "docs_src",
		TaskFile:     "dodo.hcl",
		LogLevel:     "info",
		LogFormat:    "text",
		Workers:      1,
		StateBackend: "file",
		Polygon: PolygonConfig{
			CooldownSec: polygon.KeyCooldownSec,
			Retries:     3,
		},
		Synthetic: SyntheticConfig{Calendar: string(model.CalendarDaily)},
		Excerpt:   ExcerptConfig{MaxEntities: 3},
		ServeAddr: ":8080",
		RunMinute: 30,
	}
}

// LoadConfig loads .env, then the YAML file, then environment overrides.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	path, explicit := os.LookupEnv("DASHDATA_CONFIG")
	if !explicit {
		path = DefaultConfigFile
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadFile reads a YAML config file and expands ${VAR} references.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataProvider = getEnv("DATA_PROVIDER", c.DataProvider)
	if v := os.Getenv("ENTITIES"); v != "" {
		c.Entities = splitList(v)
	}
	c.EntitiesFile = getEnv("ENTITIES_FILE", c.EntitiesFile)
	c.StartDate = getEnv("START_DATE", c.StartDate)
	c.EndDate = getEnv("END_DATE", c.EndDate)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.DocsDir = getEnv("DOCS_DIR", c.DocsDir)
	c.DocsSrcDir = getEnv("DOCS_SRC_DIR", c.DocsSrcDir)
	c.TaskFile = getEnv("TASK_FILE", c.TaskFile)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.StateBackend = getEnv("STATE_BACKEND", c.StateBackend)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	if keys := parsePolygonAPIKeys(); len(keys) > 0 {
		c.Polygon.APIKeys = keys
	}
	c.Polygon.BaseURL = getEnv("POLYGON_BASE_URL", c.Polygon.BaseURL)
	c.Polygon.CooldownSec = getEnvInt("POLYGON_COOLDOWN_SEC", c.Polygon.CooldownSec)
	c.Polygon.Retries = getEnvInt("POLYGON_RETRIES", c.Polygon.Retries)

	c.WRDS.Username = getEnv("WRDS_USERNAME", c.WRDS.Username)
	c.WRDS.Password = getEnv("WRDS_PASSWORD", c.WRDS.Password)
	c.WRDS.Host = getEnv("WRDS_HOST", c.WRDS.Host)
	c.WRDS.Port = getEnvInt("WRDS_PORT", c.WRDS.Port)
	c.WRDS.SSLMode = getEnv("WRDS_SSLMODE", c.WRDS.SSLMode)

	c.Sample.Path = getEnv("SAMPLE_PRICES_PATH", c.Sample.Path)
	c.Sample.Substitute = getEnvBool("SAMPLE_SUBSTITUTE", c.Sample.Substitute)
	c.Synthetic.Calendar = getEnv("SYNTHETIC_CALENDAR", c.Synthetic.Calendar)

	c.Excerpt.MaxEntities = getEnvInt("EXCERPT_MAX_ENTITIES", c.Excerpt.MaxEntities)
	if v := os.Getenv("EXCERPT_COLUMNS"); v != "" {
		c.Excerpt.Columns = splitList(v)
	}
	c.Excerpt.WindowStart = getEnv("EXCERPT_WINDOW_START", c.Excerpt.WindowStart)
	c.Excerpt.WindowEnd = getEnv("EXCERPT_WINDOW_END", c.Excerpt.WindowEnd)

	c.ServeAddr = getEnv("SERVE_ADDR", c.ServeAddr)
	c.RunHour = getEnvInt("RUN_HOUR", c.RunHour)
	c.RunMinute = getEnvInt("RUN_MINUTE", c.RunMinute)
}

// Validate checks values that would otherwise fail deep inside a run.
// Missing credentials are not an error; the adapter falls back instead.
func (c *Config) Validate() error {
	if err := c.ProviderConfig().Validate(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.StateBackend {
	case "file":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("state_backend redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown state backend %q (use: file, redis)", c.StateBackend)
	}
	if _, err := c.DateRange(time.Now()); err != nil {
		return err
	}
	if _, err := model.ParseCalendar(c.Synthetic.Calendar); err != nil {
		return err
	}
	if c.Excerpt.MaxEntities < 0 {
		return fmt.Errorf("excerpt.max_entities must be >= 0, got %d", c.Excerpt.MaxEntities)
	}
	if err := saver.ValidateColumns(c.Excerpt.Columns); err != nil {
		return fmt.Errorf("excerpt.columns: %w", err)
	}
	if _, err := c.ExcerptWindow(); err != nil {
		return err
	}
	if c.RunHour < 0 || c.RunHour > 23 || c.RunMinute < 0 || c.RunMinute > 59 {
		return fmt.Errorf("run time %02d:%02d is not a valid time of day", c.RunHour, c.RunMinute)
	}
	return nil
}

// DateRange is the pull range; an empty end date means yesterday (UTC).
func (c *Config) DateRange(now time.Time) (model.DateRange, error) {
	end := c.EndDate
	if end == "" {
		end = model.TruncateDay(now.UTC()).AddDate(0, 0, -1).Format(model.DateLayout)
	}
	r, err := model.ParseDateRange(c.StartDate, end)
	if err != nil {
		return r, err
	}
	return r, r.Validate()
}

// ExcerptWindow returns the configured window, or nil when unset.
func (c *Config) ExcerptWindow() (*model.DateRange, error) {
	if c.Excerpt.WindowStart == "" && c.Excerpt.WindowEnd == "" {
		return nil, nil
	}
	if c.Excerpt.WindowStart == "" || c.Excerpt.WindowEnd == "" {
		return nil, errors.New("excerpt window needs both start and end")
	}
	r, err := model.ParseDateRange(c.Excerpt.WindowStart, c.Excerpt.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("excerpt window: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("excerpt window: %w", err)
	}
	return &r, nil
}

// ProviderConfig maps settings onto the adapter's explicit configuration.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Live: strings.ToLower(c.DataProvider),
		Polygon: polygon.Config{
			APIKeys:    c.Polygon.APIKeys,
			BaseURL:    c.Polygon.BaseURL,
			Cooldown:   time.Duration(c.Polygon.CooldownSec) * time.Second,
			Retries:    c.Polygon.Retries,
			RetryDelay: polygon.DefaultRetryDelay,
		},
		WRDS: wrds.Config{
			Username: c.WRDS.Username,
			Password: c.WRDS.Password,
			Host:     c.WRDS.Host,
			Port:     c.WRDS.Port,
			SSLMode:  c.WRDS.SSLMode,
		},
		Sample:    sample.Config{Path: c.Sample.Path, Substitute: c.Sample.Substitute},
		Synthetic: synthetic.Config{Calendar: c.Synthetic.Calendar},
	}
}

// ResolveEntities returns the entity list, reading EntitiesFile when set.
func (c *Config) ResolveEntities() ([]string, error) {
	if c.EntitiesFile != "" {
		return provider.LoadEntitiesFile(c.EntitiesFile)
	}
	ents := provider.NormalizeEntities(c.Entities)
	if len(ents) == 0 {
		return nil, errors.New("no entities configured")
	}
	return ents, nil
}

// RawPath is where the pull task writes the fetched dataset.
func (c *Config) RawPath() string {
	return filepath.Join(c.DataDir, "prices_raw.parquet")
}

// ExcerptCSVPath, ExcerptParquetPath and MetadataPath locate the excerpt files.
func (c *Config) ExcerptCSVPath() string {
	return filepath.Join(c.DataDir, "price_excerpt.csv")
}

func (c *Config) ExcerptParquetPath() string {
	return filepath.Join(c.DataDir, "price_excerpt.parquet")
}

func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "price_excerpt_metadata.json")
}

// StatePath returns path to the task state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, ".dashdata-state.json")
}

// TaskVars are exposed to the task file as var.*.
func (c *Config) TaskVars() map[string]string {
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}
	return map[string]string{
		"data_dir":     c.DataDir,
		"docs_dir":     c.DocsDir,
		"docs_src_dir": c.DocsSrcDir,
		"root":         root,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePolygonAPIKeys() []string {
	s := os.Getenv("POLYGON_API_KEYS")
	if s == "" {
		s = os.Getenv("POLYGON_API_KEY")
	}
	if s == "" {
		return nil
	}
	return splitList(s)
}
