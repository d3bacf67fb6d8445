package importer

// dedupe.go implements the two duplicate-detection passes that run between
// normalization and preview: first within the batch itself, then against
// the records already in the store. Matching is prioritized: a tax ID
// match outranks an email match, and the full-name fallback is only
// consulted for rows that carry neither strong identifier.

import (
	"context"
	"fmt"
)

// keySet is one normalized key space (tax IDs, emails, or full names).
type keySet map[string]struct{}

func (s keySet) has(k string) bool {
	_, ok := s[k]
	return ok
}

func (s keySet) add(k string) {
	if k != "" {
		s[k] = struct{}{}
	}
}

// DedupeResult summarizes both passes for the preview screen. The verdicts
// themselves are written onto the records.
type DedupeResult struct {
	Unique           int
	DuplicateInBatch int
	DuplicateInStore int
}

// DedupeInBatch marks later occurrences of a repeated key as in-batch
// duplicates. The first occurrence stays unique and claims all of its keys,
// so a third repeat still points at the one surviving record.
func DedupeInBatch(records []*CanonicalRecord) int {
	seen := struct {
		taxID, email, fullName keySet
	}{keySet{}, keySet{}, keySet{}}

	dupes := 0
	for _, rec := range records {
		if rec.Verdict.Kind == VerdictRejected {
			continue
		}

		reason, ok := matchAgainst(rec.Keys, seen.taxID, seen.email, seen.fullName)
		if ok {
			rec.Verdict = Verdict{Kind: VerdictDuplicateInBatch, Reason: reason}
			dupes++
			continue
		}

		// Kept records claim every key they carry, including the full
		// name of records that also have a strong identifier.
		seen.taxID.add(rec.Keys.TaxID)
		seen.email.add(rec.Keys.Email)
		seen.fullName.add(rec.Keys.FullName)
	}
	return dupes
}

// DedupeAgainstStore marks records whose keys already exist in the store.
// Only rows still unique after the in-batch pass are checked. Existing keys
// are loaded in pages; a short page ends the pagination.
func DedupeAgainstStore(ctx context.Context, records []*CanonicalRecord, repo Repository, pageSize int) (int, error) {
	taxIDs, err := loadKeys(ctx, repo, KeyTaxID, pageSize)
	if err != nil {
		return 0, fmt.Errorf("loading tax ID keys: %w", err)
	}
	emails, err := loadKeys(ctx, repo, KeyEmail, pageSize)
	if err != nil {
		return 0, fmt.Errorf("loading email keys: %w", err)
	}
	names, err := loadKeys(ctx, repo, KeyNamePair, pageSize)
	if err != nil {
		return 0, fmt.Errorf("loading name keys: %w", err)
	}

	dupes := 0
	for _, rec := range records {
		if rec.Verdict.Kind != VerdictUnique {
			continue
		}
		if reason, ok := matchAgainst(rec.Keys, taxIDs, emails, names); ok {
			rec.Verdict = Verdict{Kind: VerdictDuplicateInStore, Reason: reason}
			dupes++
		}
	}
	return dupes, nil
}

// matchAgainst checks the record's keys in priority order. Full name is a
// weak key: it only matches when the record has no tax ID and no email, so
// two distinct people who share a name but carry identifiers never collide.
func matchAgainst(keys MatchKeys, taxIDs, emails, names keySet) (MatchReason, bool) {
	if keys.TaxID != "" && taxIDs.has(keys.TaxID) {
		return ReasonTaxID, true
	}
	if keys.Email != "" && emails.has(keys.Email) {
		return ReasonEmail, true
	}
	if !keys.HasIdentifier() && keys.FullName != "" && names.has(keys.FullName) {
		return ReasonFullName, true
	}
	return "", false
}

// loadKeys pages through one key space, normalizing as it goes so store
// values compare equal to record keys regardless of formatting.
func loadKeys(ctx context.Context, repo Repository, kind KeyKind, pageSize int) (keySet, error) {
	set := keySet{}
	for offset := 0; ; offset += pageSize {
		page, err := repo.ExistingKeys(ctx, kind, offset, pageSize)
		if err != nil {
			return nil, err
		}
		for _, raw := range page {
			switch kind {
			case KeyTaxID:
				if id, ok := NormalizeTaxID(raw); ok {
					set.add(id)
				}
			case KeyEmail:
				if e, ok := NormalizeEmail(raw); ok {
					set.add(e)
				}
			case KeyNamePair:
				set.add(NormalizeFullName(raw))
			}
		}
		if len(page) < pageSize {
			return set, nil
		}
	}
}

// Dedupe runs both passes and returns the preview counts. Records must
// already be normalized; rejected rows are untouched.
func Dedupe(ctx context.Context, records []*CanonicalRecord, repo Repository, pageSize int) (DedupeResult, error) {
	var res DedupeResult
	res.DuplicateInBatch = DedupeInBatch(records)

	inStore, err := DedupeAgainstStore(ctx, records, repo, pageSize)
	if err != nil {
		return res, err
	}
	res.DuplicateInStore = inStore

	for _, rec := range records {
		if rec.Verdict.Kind == VerdictUnique {
			res.Unique++
		}
	}
	return res, nil
}
