package collector

import "fmt"

// SourceKind is the structural pattern by which a record indicates an expected file.
type SourceKind string

const (
	KindStructured  SourceKind = "structured"
	KindLegacyURL   SourceKind = "legacy_url"
	KindJSONPath    SourceKind = "json_path"
	KindPolymorphic SourceKind = "polymorphic"
)

// FileReference is one expected object-store key derived from the relational store.
type FileReference struct {
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	FieldName   string     `json:"field_name"`
	SourceKind  SourceKind `json:"source_kind"`
	ExpectedKey string     `json:"expected_key"`
}

// IssueKind separates data-quality warnings from malformed records.
type IssueKind string

const (
	// IssueDataQuality marks a row that claims a file without a usable location
	// (flag set without filename, placeholder sentinel). No reference is emitted.
	IssueDataQuality IssueKind = "data_quality"
	// IssueMalformed marks a row that could not be interpreted.
	IssueMalformed IssueKind = "malformed"
)

// Issue is a per-record problem found while extracting references.
type Issue struct {
	Kind       IssueKind
	EntityType string
	EntityID   string
	FieldName  string
	Message    string
}

// CollectionError is a per-record failure. It is logged and counted, never
// returned from Collect.
type CollectionError struct {
	EntityType string
	EntityID   string
	FieldName  string
	Reason     string
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s/%s field %s: %s", e.EntityType, e.EntityID, e.FieldName, e.Reason)
}

// Stats summarizes one collection pass.
type Stats struct {
	Records             int                `json:"records"`
	References          int                `json:"references"`
	CollectionErrors    int                `json:"collection_errors"`
	DataQualityWarnings int                `json:"data_quality_warnings"`
	ByKind              map[SourceKind]int `json:"by_kind"`
}
