package saver

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// Optional columns an excerpt may carry, after entity_id, date and price.
const (
	ColumnVolume = "volume"
	ColumnReturn = "return"
)

// OptionalColumns lists the optional columns in file order.
var OptionalColumns = []string{ColumnVolume, ColumnReturn}

// ExcerptSaver writes and reads one serialization of an excerpt.
// The excerpt builder depends only on this interface.
type ExcerptSaver interface {
	Save(rows []model.PriceObservation, columns []string, path string) error
	Load(path string) ([]model.PriceObservation, error)
	Extension() string
}

// NewExcerptSaver creates implementation by format (csv, parquet).
// Returns nil if format not supported.
func NewExcerptSaver(format string) ExcerptSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}

// ValidateColumns rejects unknown or repeated optional columns.
func ValidateColumns(columns []string) error {
	for i, c := range columns {
		if !slices.Contains(OptionalColumns, c) {
			return fmt.Errorf("unknown column %q (optional columns: %s)", c, strings.Join(OptionalColumns, ", "))
		}
		if slices.Contains(columns[:i], c) {
			return fmt.Errorf("column %q listed twice", c)
		}
	}
	return nil
}

// SortColumns returns columns in file order.
func SortColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range OptionalColumns {
		if slices.Contains(columns, c) {
			out = append(out, c)
		}
	}
	return out
}

func hasColumn(columns []string, name string) bool {
	return slices.Contains(columns, name)
}

// writeAtomic creates path through a temp file in the same directory so
// readers never observe a partially written file.
func writeAtomic(path string, write func(tmp string) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
