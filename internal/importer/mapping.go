package importer

// mapping.go matches file columns onto canonical fields.
//
// Auto-mapping is layered: exact matches on the field key, label, or any
// alias win first; containment matches on the label come second; alias
// containment is only attempted for aliases of 4+ characters so short
// tokens ("cpf" inside "cpfx") don't produce spurious claims. Fields are
// visited in catalog order and a header claimed by an earlier field is
// skipped by later ones. The user may remap any field afterward; manual
// remapping never re-runs matching for other fields.

import (
	"errors"
	"fmt"
	"strings"
)

// minAliasContainmentLen is the minimum alias length for containment
// matching (exact alias matches have no minimum).
const minAliasContainmentLen = 4

// ErrMissingRequired is returned when required fields are unmapped.
// Use MissingRequiredError to get the field labels.
var ErrMissingRequired = errors.New("missing required field mapping")

// MissingRequiredError lists the required fields that have no mapped
// column, by display label.
type MissingRequiredError struct {
	Labels []string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required field mapping: %s", strings.Join(e.Labels, ", "))
}

func (e *MissingRequiredError) Unwrap() error { return ErrMissingRequired }

// AutoMap produces the initial column→field mapping for a file.
// Each header is claimed by at most one field.
func AutoMap(headers []string, cat Catalog) FieldMapping {
	mapping := make(FieldMapping)
	claimed := make(map[string]bool)

	for _, field := range cat.Fields {
		if h, ok := matchHeader(headers, claimed, field); ok {
			mapping[field.Key] = h
			claimed[h] = true
		}
	}

	return mapping
}

// matchHeader finds the first unclaimed header matching the field,
// evaluating all exact candidates before any containment candidate.
func matchHeader(headers []string, claimed map[string]bool, field Field) (string, bool) {
	// Layer 1: exact match on key, label, or alias.
	for _, h := range headers {
		if claimed[h] {
			continue
		}
		norm := strings.ToLower(strings.TrimSpace(h))
		if norm == strings.ToLower(field.Key) || norm == strings.ToLower(field.Label) {
			return h, true
		}
		for _, alias := range field.Aliases {
			if norm == strings.ToLower(alias) {
				return h, true
			}
		}
	}

	// Layer 2: containment match on the label, then on long aliases.
	label := strings.ToLower(field.Label)
	for _, h := range headers {
		if claimed[h] {
			continue
		}
		norm := strings.ToLower(strings.TrimSpace(h))
		if strings.Contains(norm, label) || strings.Contains(label, norm) {
			return h, true
		}
		for _, alias := range field.Aliases {
			a := strings.ToLower(alias)
			if len(a) < minAliasContainmentLen {
				continue
			}
			if strings.Contains(norm, a) || strings.Contains(a, norm) {
				return h, true
			}
		}
	}

	return "", false
}

// ValidateMapping checks a user-edited mapping against the catalog and the
// file headers. Unknown field keys and unknown columns are rejected so a
// stale UI can't silently map into nothing.
func ValidateMapping(mapping FieldMapping, headers []string, cat Catalog) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	for key, col := range mapping {
		if _, ok := cat.Field(key); !ok {
			return fmt.Errorf("unknown field: %q", key)
		}
		if col != "" && !known[col] {
			return fmt.Errorf("unknown column for field %q: %q", key, col)
		}
	}

	return nil
}

// MissingRequired returns an error listing every required field with no
// mapped column, or nil when the mapping is complete enough to proceed.
func MissingRequired(mapping FieldMapping, cat Catalog) error {
	var labels []string
	for _, field := range cat.RequiredFields() {
		if mapping[field.Key] == "" {
			labels = append(labels, field.Label)
		}
	}

	if len(labels) > 0 {
		return &MissingRequiredError{Labels: labels}
	}
	return nil
}

// headerIndex maps header names to their position for row access.
func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[h] = i
	}
	return idx
}
