package importer

// session.go holds the per-import session state. A session walks a fixed
// stage sequence; operations that arrive out of order fail with
// ErrWrongStage instead of corrupting the session.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is where an import session currently sits in the flow.
type Stage string

const (
	StageUpload    Stage = "upload"
	StageMapping   Stage = "mapping"
	StagePreview   Stage = "preview"
	StageImporting Stage = "importing"
	StageResults   Stage = "results"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWrongStage is returned (wrapped, with the stage names) when an
	// operation does not apply to the session's current stage.
	ErrWrongStage = errors.New("operation not valid in current stage")
)

func wrongStage(op string, have Stage) error {
	return fmt.Errorf("%w: %s while %s", ErrWrongStage, op, have)
}

// ImportSession is one user's journey through an import. All fields are
// guarded by mu except the listener set, which has its own lock so the
// commit goroutine can fan out snapshots without touching mu.
type ImportSession struct {
	ID      string
	Catalog Catalog
	BatchID string

	mu       sync.Mutex
	stage    Stage
	fileName string
	file     *DecodedFile
	mapping  FieldMapping

	records  []*CanonicalRecord
	dedupe   DedupeResult
	rejected int

	run    *CommitRun
	cancel context.CancelFunc
	report *Report

	// Done is closed when the commit run stops for any reason. Reset
	// replaces it with a fresh channel once a run has finished.
	Done chan struct{}

	listenerMu      sync.Mutex
	listeners       []chan CommitSnapshot
	listenersClosed bool

	createdAt time.Time
}

// NewBatchID mints the batch identifier stamped on every record a session
// creates: imp-<timestamp>-<short uuid>.
func NewBatchID(now time.Time) string {
	short := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("imp-%d-%s", now.Unix(), short)
}

func newSession(cat Catalog) *ImportSession {
	now := time.Now()
	return &ImportSession{
		ID:        uuid.New().String(),
		Catalog:   cat,
		BatchID:   NewBatchID(now),
		stage:     StageUpload,
		Done:      make(chan struct{}),
		createdAt: now,
	}
}

// Stage returns the session's current stage.
func (s *ImportSession) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// notifyListeners fans a snapshot out to all subscribers. Slow listeners
// miss updates rather than blocking the run.
func (s *ImportSession) notifyListeners(snap CommitSnapshot) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
}

// closeListeners closes all listener channels. Late subscribers see the
// closed flag and get a pre-closed channel instead of registering.
func (s *ImportSession) closeListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.listenersClosed = true
}
