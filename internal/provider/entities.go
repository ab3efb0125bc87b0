package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultEntities is the fixed set the dashboards fall back to.
var DefaultEntities = []string{"AAPL", "MSFT", "SPY"}

// LoadEntitiesFile reads a list of tickers from a file.
// Supported formats:
//   - .txt  : one ticker per line, '#' lines are treated as comments
//   - .json : JSON array of strings
func LoadEntitiesFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var entities []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(content, &entities); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	case ".txt", "":
		entities = parseEntitiesText(string(content))
	default:
		return nil, fmt.Errorf("unsupported entities file extension %q (use .txt or .json)", filepath.Ext(path))
	}

	entities = NormalizeEntities(entities)
	slog.Info("loaded entities from file", "count", len(entities), "path", path)
	return entities, nil
}

// parseEntitiesText treats each non-empty, non-comment line as a ticker.
func parseEntitiesText(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out
}
