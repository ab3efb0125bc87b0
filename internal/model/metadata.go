package model

import "time"

// PipelineMetadata describes one persisted excerpt. Written once per run,
// read-only for consumers.
type PipelineMetadata struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Provenance  Provenance `json:"provenance"`
	Rows        int        `json:"rows"`
	Entities    int        `json:"entity_count"`
	EntityIDs   []string   `json:"entities"`
	MinDate     string     `json:"min_date"`
	MaxDate     string     `json:"max_date"`
	Substituted bool       `json:"substituted,omitempty"`
	Columns     []string   `json:"columns"`
	Checksum    string     `json:"checksum"` // sha256 of the canonical CSV body
}

// RawMetadata is the sidecar of a raw dataset file; it carries what Parquet
// rows alone cannot.
type RawMetadata struct {
	Provenance       Provenance            `json:"provenance"`
	EntityProvenance map[string]Provenance `json:"entity_provenance"`
	Requested        []string              `json:"requested"`
	Substituted      bool                  `json:"substituted,omitempty"`
	Start            string                `json:"start"`
	End              string                `json:"end"`
	FetchedAt        time.Time             `json:"fetched_at"`
}
