package importer

import "time"

// Report is the final summary of an import session, built once the commit
// run stops for any reason. It is plain data: every field is safe to
// serialize and nothing in it can fail to compute.
type Report struct {
	BatchID string      `json:"batchId"`
	Kind    string      `json:"kind"`
	State   CommitState `json:"state"`

	TotalRows        int `json:"totalRows"`
	Imported         int `json:"imported"`
	Failed           int `json:"failed"`
	DuplicateInBatch int `json:"duplicateInBatch"`
	DuplicateInStore int `json:"duplicateInStore"`
	Rejected         int `json:"rejected"`

	Recent []CreatedRecord `json:"recent"`
	Errors []RowError      `json:"errors"`

	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNanos"`

	FatalError string `json:"fatalError,omitempty"`
}

// BuildReport assembles the report from the preview counts and the final
// commit snapshot. Partial runs (aborted, fatally failed) report whatever
// was written before the stop.
func BuildReport(batchID, kind string, totalRows int, dedupe DedupeResult, rejected int, snap CommitSnapshot) Report {
	duration := time.Duration(0)
	if !snap.Progress.StartedAt.IsZero() {
		duration = time.Since(snap.Progress.StartedAt)
	}
	return Report{
		BatchID:          batchID,
		Kind:             kind,
		State:            snap.State,
		TotalRows:        totalRows,
		Imported:         snap.Succeeded,
		Failed:           snap.Failed,
		DuplicateInBatch: dedupe.DuplicateInBatch,
		DuplicateInStore: dedupe.DuplicateInStore,
		Rejected:         rejected,
		Recent:           snap.Recent,
		Errors:           snap.Errors,
		StartedAt:        snap.Progress.StartedAt,
		Duration:         duration,
		FatalError:       snap.FatalError,
	}
}
