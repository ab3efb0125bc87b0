package saver

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// SidecarPath returns the provenance sidecar for a raw dataset file.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, ".parquet") + ".provenance.json"
}

// WriteDataset persists a raw dataset as Parquet (all columns) plus its
// provenance sidecar, so the excerpt step can run in a separate task.
func WriteDataset(ds *model.Dataset, path string, fetchedAt time.Time) error {
	if err := (ParquetSaver{}).Save(ds.Observations, []string{ColumnVolume}, path); err != nil {
		return fmt.Errorf("write dataset parquet: %w", err)
	}
	meta := model.RawMetadata{
		Provenance:       ds.Provenance,
		EntityProvenance: ds.EntityProvenance,
		Requested:        ds.Requested,
		Substituted:      ds.Substituted,
		Start:            ds.Range.Start.Format(model.DateLayout),
		End:              ds.Range.End.Format(model.DateLayout),
		FetchedAt:        fetchedAt.UTC(),
	}
	if err := WriteJSON(SidecarPath(path), meta); err != nil {
		return fmt.Errorf("write dataset sidecar: %w", err)
	}
	return nil
}

// ReadDataset loads a dataset written by WriteDataset.
func ReadDataset(path string) (*model.Dataset, error) {
	rows, err := (ParquetSaver{}).Load(path)
	if err != nil {
		return nil, err
	}
	var meta model.RawMetadata
	if err := ReadJSON(SidecarPath(path), &meta); err != nil {
		return nil, fmt.Errorf("read dataset sidecar: %w", err)
	}
	prov, err := model.ParseProvenance(string(meta.Provenance))
	if err != nil {
		return nil, err
	}
	r, err := model.ParseDateRange(meta.Start, meta.End)
	if err != nil {
		return nil, err
	}
	ds := &model.Dataset{
		Observations:     rows,
		Provenance:       prov,
		EntityProvenance: meta.EntityProvenance,
		Requested:        meta.Requested,
		Substituted:      meta.Substituted,
		Range:            r,
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}
