package importer

// commit.go drives the write phase of an import: rows survive preview as
// unique, then a CommitRun walks them in paced chunks, writing each
// through the catalog's EntityCommitter. The run is cancellable between
// rows, stores only bounded windows of results, and distinguishes a
// per-row failure (skip the row, keep going) from a repository outage
// (halt the run, keep the partial results).

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CommitState is the lifecycle of a commit run.
type CommitState string

const (
	StateIdle          CommitState = "idle"
	StateRunning       CommitState = "running"
	StateCompleted     CommitState = "completed"
	StateAborted       CommitState = "aborted"
	StateFatallyFailed CommitState = "fatallyFailed"
)

// CommitterConfig tunes the pacing and windows of a commit run. Zero
// values fall back to the defaults below.
type CommitterConfig struct {
	// ChunkSize rows are written back to back, then the run pauses for
	// ChunkDelay before the next chunk.
	ChunkSize  int
	ChunkDelay time.Duration

	// Every RowDelayEvery rows within a chunk, the run additionally
	// pauses for RowDelay. Keeps sustained write rates polite to the
	// store without stretching small files.
	RowDelay      time.Duration
	RowDelayEvery int

	// RecentWindow and ErrorWindow bound how many recent successes and
	// row errors are retained for progress reporting.
	RecentWindow int
	ErrorWindow  int

	// ETAMinSamples is the processed-row count below which no ETA is
	// reported.
	ETAMinSamples int

	// OnProgress, when set, is called after every processed row with a
	// fresh snapshot. Must not block.
	OnProgress func(CommitSnapshot)
}

func (c CommitterConfig) withDefaults() CommitterConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = 500 * time.Millisecond
	}
	if c.RowDelay <= 0 {
		c.RowDelay = 200 * time.Millisecond
	}
	if c.RowDelayEvery <= 0 {
		c.RowDelayEvery = 5
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 10
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 50
	}
	if c.ETAMinSamples <= 0 {
		c.ETAMinSamples = 3
	}
	return c
}

// RowError is one failed or partially failed row.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CommitSnapshot is a point-in-time view of a commit run, safe to hand to
// JSON encoders while the run keeps going.
type CommitSnapshot struct {
	State     CommitState     `json:"state"`
	Progress  Progress        `json:"progress"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Recent    []CreatedRecord `json:"recent"`
	Errors    []RowError      `json:"errors"`

	// ETASeconds is nil while the run has too few samples to estimate.
	ETASeconds *float64 `json:"etaSeconds"`

	// FatalError is set when State is fatallyFailed.
	FatalError string `json:"fatalError,omitempty"`
}

// CommitRun executes the write phase for one import session.
type CommitRun struct {
	records []*CanonicalRecord
	writer  EntityCommitter
	cfg     CommitterConfig

	mu        sync.Mutex
	state     CommitState
	progress  Progress
	succeeded int
	failed    int
	recent    *Ring[CreatedRecord]
	errs      *Ring[RowError]
	fatalErr  error
}

// NewCommitRun prepares a run over the unique records of a batch. Records
// with non-unique verdicts are filtered out here so Progress.Total counts
// only rows that will actually be written.
func NewCommitRun(records []*CanonicalRecord, writer EntityCommitter, cfg CommitterConfig) *CommitRun {
	cfg = cfg.withDefaults()

	unique := make([]*CanonicalRecord, 0, len(records))
	for _, rec := range records {
		if rec.Verdict.Kind == VerdictUnique {
			unique = append(unique, rec)
		}
	}

	return &CommitRun{
		records: unique,
		writer:  writer,
		cfg:     cfg,
		state:   StateIdle,
		recent:  NewRing[CreatedRecord](cfg.RecentWindow),
		errs:    NewRing[RowError](cfg.ErrorWindow),
	}
}

// Run executes the commit to completion, cancellation, or fatal failure.
// It blocks; callers wanting background execution run it in a goroutine
// and watch Snapshot. Run may be called once.
func (r *CommitRun) Run(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return
	}
	r.state = StateRunning
	r.progress = Progress{Total: len(r.records), StartedAt: time.Now()}
	r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			r.finish(StateFatallyFailed, fmt.Errorf("commit panicked: %v", p))
		}
	}()

	chunkPause := rate.NewLimiter(rate.Every(r.cfg.ChunkDelay), 1)
	rowPause := rate.NewLimiter(rate.Every(r.cfg.RowDelay), 1)
	// Burn the initial token so the first Wait on each limiter actually
	// pauses.
	chunkPause.Allow()
	rowPause.Allow()

	for i, rec := range r.records {
		if err := ctx.Err(); err != nil {
			r.finish(StateAborted, nil)
			return
		}
		if i > 0 && i%r.cfg.ChunkSize == 0 {
			if err := chunkPause.Wait(ctx); err != nil {
				r.finish(StateAborted, nil)
				return
			}
		} else if i > 0 && i%r.cfg.RowDelayEvery == 0 {
			if err := rowPause.Wait(ctx); err != nil {
				r.finish(StateAborted, nil)
				return
			}
		}

		created, warnings, err := r.writer.CommitRow(ctx, rec)

		switch {
		case err != nil && errors.Is(err, ErrRepositoryUnavailable):
			r.recordRow(rec, created, warnings, err)
			r.finish(StateFatallyFailed, err)
			return
		case err != nil && ctx.Err() != nil:
			// A row failing because the context died mid-write is a
			// cancellation, not a row error.
			r.finish(StateAborted, nil)
			return
		default:
			r.recordRow(rec, created, warnings, err)
		}
	}

	r.finish(StateCompleted, nil)
}

func (r *CommitRun) recordRow(rec *CanonicalRecord, created CreatedRecord, warnings []string, err error) {
	r.mu.Lock()
	r.progress.Processed++
	if err != nil {
		r.failed++
		r.errs.Push(RowError{Line: rec.Line, Message: err.Error()})
	} else {
		r.succeeded++
		r.recent.Push(created)
		for _, w := range warnings {
			r.errs.Push(RowError{Line: rec.Line, Message: w})
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(snap)
	}
}

func (r *CommitRun) finish(state CommitState, fatal error) {
	r.mu.Lock()
	if r.state == StateRunning {
		r.state = state
		r.fatalErr = fatal
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(snap)
	}
}

// Snapshot returns the run's current state, counts, and bounded windows.
func (r *CommitRun) Snapshot() CommitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *CommitRun) snapshotLocked() CommitSnapshot {
	snap := CommitSnapshot{
		State:     r.state,
		Progress:  r.progress,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Recent:    r.recent.Values(),
		Errors:    r.errs.Values(),
	}
	if r.state == StateRunning && r.progress.Processed < r.progress.Total {
		if eta, ok := r.progress.ETA(r.cfg.ETAMinSamples); ok {
			secs := eta.Seconds()
			snap.ETASeconds = &secs
		}
	}
	if r.fatalErr != nil {
		snap.FatalError = r.fatalErr.Error()
	}
	return snap
}
