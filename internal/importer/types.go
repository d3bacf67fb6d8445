// Package importer provides the business logic for bulk spreadsheet imports.
// This package has no UI dependencies and can be used by any frontend.
package importer

import (
	"context"
	"time"
)

// CellKind discriminates the variant held by a Cell.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellString
	CellNumber
)

// Cell is a single spreadsheet cell value: a string, a number, or empty.
// Numeric cells keep the original text in Str so raw values can be
// displayed or stored verbatim.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// String returns the textual form of the cell ("" for empty cells).
func (c Cell) String() string {
	return c.Str
}

// RawRow is one decoded file row, aligned with DecodedFile.Headers.
type RawRow []Cell

// DecodedFile is the output of the Decoder: a header row of non-empty,
// trimmed, mojibake-repaired column names plus the data rows. Rows are
// aligned positionally with Headers; fully empty rows are dropped.
type DecodedFile struct {
	Headers []string
	Rows    []RawRow
}

// Cell returns the cell for the given header index, or an empty cell when
// the row is shorter than the header (ragged CSV rows).
func (f *DecodedFile) Cell(row RawRow, headerIdx int) Cell {
	if headerIdx < 0 || headerIdx >= len(row) {
		return Cell{}
	}
	return row[headerIdx]
}

// FieldKind declares how a canonical field's raw value is normalized.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldNumber
	FieldDate
	FieldTaxID
	FieldPhone
	FieldEmail
	FieldName
	FieldList
)

// Field is one slot in the target schema that file columns map onto.
type Field struct {
	Key      string
	Label    string
	Required bool
	Kind     FieldKind

	// Aliases are extra keywords matched against file headers during
	// auto-mapping. Aliases shorter than 4 characters only match exactly,
	// never by containment.
	Aliases []string

	// Default is used when the column is unmapped or the cell is empty.
	Default string
}

// Catalog describes one importable entity kind: its canonical fields plus
// how identity and duplicate matching work for it.
type Catalog struct {
	Kind  string
	Label string

	Fields []Field

	// Identity is the key of the field whose absence rejects a row
	// (e.g. "nome" for contacts, "titulo" for deals).
	Identity string

	// Dedupe enables the duplicate-detection passes. Catalogs that
	// reference other entities instead of owning identity data (deals)
	// leave this off and rely on the entity resolver.
	Dedupe bool

	// NewCommitter builds the per-row writer used by a commit run.
	NewCommitter func(deps CommitterDeps) EntityCommitter
}

// Field returns the catalog field with the given key.
func (c Catalog) Field(key string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredFields returns the catalog's required fields in order.
func (c Catalog) RequiredFields() []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// FieldMapping maps canonical field keys to file column names. A missing
// or empty entry means the field is unmapped ("ignore").
type FieldMapping map[string]string

// ValueKind discriminates the variant held by a normalized Value.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueString
	ValueNumber
	ValueDate
	ValueList
)

// Value is a typed, normalized field value on a CanonicalRecord.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Date string // ISO YYYY-MM-DD
	List []string
}

// MatchReason identifies which key caused a duplicate match.
type MatchReason string

const (
	ReasonTaxID    MatchReason = "taxId"
	ReasonEmail    MatchReason = "email"
	ReasonFullName MatchReason = "fullName"
	ReasonNoName   MatchReason = "noName"
)

// VerdictKind classifies a record after deduplication.
type VerdictKind int

const (
	VerdictUnique VerdictKind = iota
	VerdictDuplicateInBatch
	VerdictDuplicateInStore
	VerdictRejected
)

// Verdict tags a CanonicalRecord with its duplicate classification.
type Verdict struct {
	Kind   VerdictKind
	Reason MatchReason
}

// MatchKeys is the normalized identity bundle used for duplicate detection
// and entity resolution. Empty string means the key is absent or invalid.
type MatchKeys struct {
	TaxID    string
	Email    string
	FullName string // lowercased, single-spaced "nome sobrenome"
}

// HasIdentifier reports whether a strong identifier (tax ID or email) is
// present. Full-name matching is only consulted when this is false.
func (k MatchKeys) HasIdentifier() bool {
	return k.TaxID != "" || k.Email != ""
}

// CanonicalRecord is the typed, normalized representation of one file row.
// It is created by the Normalizer and read-only afterward, except for the
// foreign keys filled in by the entity resolver during commit.
type CanonicalRecord struct {
	Line int // 1-indexed file line, for error messages
	Kind string

	GivenName  string
	FamilyName string
	Keys       MatchKeys
	Phone      string // normalized digits, "" if unusable

	// RawTaxID preserves the original tax ID text for display even when
	// it failed validation and is absent from Keys.
	RawTaxID string

	Fields map[string]Value

	Verdict Verdict

	// Filled by the entity resolver during commit (deals only).
	ContactID string
	OwnerID   string
}

// FullName returns the record's display name.
func (r *CanonicalRecord) FullName() string {
	if r.FamilyName == "" {
		return r.GivenName
	}
	return r.GivenName + " " + r.FamilyName
}

// Str returns the string value of a normalized field ("" when absent).
func (r *CanonicalRecord) Str(key string) string {
	v, ok := r.Fields[key]
	if !ok || v.Kind == ValueAbsent {
		return ""
	}
	return v.Str
}

// Num returns the numeric value of a normalized field (0 when absent).
func (r *CanonicalRecord) Num(key string) float64 {
	v, ok := r.Fields[key]
	if !ok {
		return 0
	}
	return v.Num
}

// Date returns the ISO date value of a normalized field ("" when absent).
func (r *CanonicalRecord) Date(key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	return v.Date
}

// List returns the list value of a normalized field (nil when absent).
func (r *CanonicalRecord) List(key string) []string {
	v, ok := r.Fields[key]
	if !ok {
		return nil
	}
	return v.List
}

// CreatedRecord identifies one successfully committed record, with enough
// data for the UI to deep-link to it.
type CreatedRecord struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
	Line  int    `json:"line"`
}

// Progress tracks a commit run. It is recomputed after every processed row.
type Progress struct {
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"startedAt"`
}

// ETA estimates the remaining duration from the observed throughput. The
// second return is false while fewer than minSamples rows have been
// processed; callers should show "calculating" instead of a number.
func (p Progress) ETA(minSamples int) (time.Duration, bool) {
	if p.Processed < minSamples || p.Processed == 0 {
		return 0, false
	}
	elapsed := time.Since(p.StartedAt)
	perRow := elapsed / time.Duration(p.Processed)
	return perRow * time.Duration(p.Total-p.Processed), true
}

// EntityCommitter writes one canonical record to the store. CommitRow
// returns the created record, any non-fatal secondary-insert warnings, and
// an error when the primary insert failed.
type EntityCommitter interface {
	CommitRow(ctx context.Context, rec *CanonicalRecord) (CreatedRecord, []string, error)
}

// CommitterDeps carries everything a catalog needs to build its per-row
// writer for one commit run.
type CommitterDeps struct {
	Repo    Repository
	BatchID string
	Resolve *Resolver
}
