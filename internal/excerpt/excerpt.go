// Package excerpt narrows a dataset to what the dashboards read and
// persists it as CSV and Parquet with a metadata record.
package excerpt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/maxz073/finm-dashboard/internal/metrics"
	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/saver"
)

// ErrEmptyResult means the filters dropped every observation.
var ErrEmptyResult = errors.New("excerpt is empty")

// BaseColumns are always present, in this order.
var BaseColumns = []string{"entity_id", "date", "price"}

// Spec selects what goes into an excerpt.
type Spec struct {
	MaxEntities int              // 0 keeps all
	Window      *model.DateRange // nil keeps all dates
	Columns     []string         // optional columns: "volume", "return"
}

// Excerpt is the narrowed dataset.
type Excerpt struct {
	Rows        []model.PriceObservation
	Columns     []string // optional columns carried
	EntityIDs   []string
	Provenance  model.Provenance
	Substituted bool
}

// Paths are the three files Write produces.
type Paths struct {
	CSV      string
	Parquet  string
	Metadata string
}

// Build applies spec to ds. The rows depend only on ds and spec; now only
// stamps the metadata.
func Build(ds *model.Dataset, spec Spec, now time.Time) (*Excerpt, *model.PipelineMetadata, error) {
	if ds == nil {
		return nil, nil, fmt.Errorf("nil dataset")
	}
	if spec.MaxEntities < 0 {
		return nil, nil, fmt.Errorf("max entities must be >= 0, got %d", spec.MaxEntities)
	}
	if spec.Window != nil {
		if err := spec.Window.Validate(); err != nil {
			return nil, nil, fmt.Errorf("window: %w", err)
		}
	}
	if err := saver.ValidateColumns(spec.Columns); err != nil {
		return nil, nil, err
	}

	keep := ds.Entities()
	if spec.MaxEntities > 0 && len(keep) > spec.MaxEntities {
		keep = keep[:spec.MaxEntities]
	}
	columns := saver.SortColumns(spec.Columns)

	all := ds.Observations
	withReturn := slices.Contains(columns, saver.ColumnReturn)
	if withReturn {
		// Returns span the whole series, so the first row inside a window
		// still compares against the day before it.
		all = slices.Clone(ds.Observations)
		model.SimpleReturns(all)
	}

	var rows []model.PriceObservation
	for _, o := range all {
		if !slices.Contains(keep, o.EntityID) {
			continue
		}
		if spec.Window != nil && !spec.Window.Contains(o.Date) {
			continue
		}
		if !slices.Contains(columns, saver.ColumnVolume) {
			o.Volume = nil
		}
		if !withReturn {
			o.Return = nil
		}
		rows = append(rows, o)
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyResult
	}

	ex := &Excerpt{
		Rows:        rows,
		Columns:     columns,
		Provenance:  ds.Provenance,
		Substituted: ds.Substituted,
	}
	ex.EntityIDs = (&model.Dataset{Observations: rows}).Entities()

	meta, err := ex.metadata(now)
	if err != nil {
		return nil, nil, err
	}
	return ex, meta, nil
}

func (ex *Excerpt) metadata(now time.Time) (*model.PipelineMetadata, error) {
	body, err := saver.CSVBytes(ex.Rows, ex.Columns)
	if err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	sum := sha256.Sum256(body)

	minDate, maxDate := ex.Rows[0].Date, ex.Rows[0].Date
	for _, o := range ex.Rows[1:] {
		if o.Date.Before(minDate) {
			minDate = o.Date
		}
		if o.Date.After(maxDate) {
			maxDate = o.Date
		}
	}

	return &model.PipelineMetadata{
		RunID:       uuid.NewString(),
		GeneratedAt: now.UTC(),
		Provenance:  ex.Provenance,
		Rows:        len(ex.Rows),
		Entities:    len(ex.EntityIDs),
		EntityIDs:   slices.Clone(ex.EntityIDs),
		MinDate:     minDate.Format(model.DateLayout),
		MaxDate:     maxDate.Format(model.DateLayout),
		Substituted: ex.Substituted,
		Columns:     append(slices.Clone(BaseColumns), ex.Columns...),
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// formats are the serializations Write produces, in the order Load tries them.
var formats = []string{"parquet", "csv"}

func (p Paths) of(format string) string {
	if format == "csv" {
		return p.CSV
	}
	return p.Parquet
}

// stagingSuffix marks files Write has produced but not yet published.
const stagingSuffix = ".staging"

// Write persists both serializations and the metadata. All three are staged
// first and only renamed into place once every one was written, so a failure
// leaves the previous excerpt untouched. The Parquet file is read back to
// confirm its row count; a mismatch is logged, not returned.
func Write(ex *Excerpt, meta *model.PipelineMetadata, paths Paths) error {
	if ex == nil || len(ex.Rows) == 0 {
		return ErrEmptyResult
	}
	var staged, final []string
	discard := func() {
		for _, s := range staged {
			os.Remove(s)
		}
	}
	for _, format := range formats {
		s := saver.NewExcerptSaver(format)
		dst := paths.of(format)
		if err := s.Save(ex.Rows, ex.Columns, dst+stagingSuffix); err != nil {
			discard()
			return fmt.Errorf("write %s: %w", s.Extension(), err)
		}
		staged, final = append(staged, dst+stagingSuffix), append(final, dst)
	}
	if err := saver.WriteJSON(paths.Metadata+stagingSuffix, meta); err != nil {
		discard()
		return fmt.Errorf("write metadata: %w", err)
	}
	staged, final = append(staged, paths.Metadata+stagingSuffix), append(final, paths.Metadata)

	n, err := saver.ParquetRowCount(paths.Parquet + stagingSuffix)
	switch {
	case err != nil:
		slog.Warn("parquet read-back failed", "path", paths.Parquet, "error", err)
	case n != int64(len(ex.Rows)):
		slog.Warn("parquet row count mismatch", "path", paths.Parquet, "want", len(ex.Rows), "got", n)
	}

	for i := range staged {
		if err := os.Rename(staged[i], final[i]); err != nil {
			staged = staged[i:]
			discard()
			return fmt.Errorf("publish %s: %w", final[i], err)
		}
	}
	metrics.ExcerptRows.Set(float64(len(ex.Rows)))
	slog.Info("excerpt written", "rows", len(ex.Rows), "entities", len(ex.EntityIDs),
		"provenance", ex.Provenance, "csv", paths.CSV, "parquet", paths.Parquet)
	return nil
}

// ReadMetadata loads a metadata record written by Write.
func ReadMetadata(path string) (*model.PipelineMetadata, error) {
	var meta model.PipelineMetadata
	if err := saver.ReadJSON(path, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Load reads the excerpt rows, preferring Parquet and falling back to CSV.
// It reports which file served them.
func Load(paths Paths) ([]model.PriceObservation, string, error) {
	var errs []error
	for _, format := range formats {
		path := paths.of(format)
		rows, err := saver.NewExcerptSaver(format).Load(path)
		if err == nil {
			return rows, path, nil
		}
		errs = append(errs, err)
	}
	return nil, "", fmt.Errorf("read excerpt: %w", errors.Join(errs...))
}
