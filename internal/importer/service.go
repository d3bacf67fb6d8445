package importer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// CommitTimeout is the maximum duration for a commit run.
var CommitTimeout = 30 * time.Minute

// ServiceConfig tunes the session service.
type ServiceConfig struct {
	Committer CommitterConfig

	// KeyPageSize is the page size for existing-key loads during the
	// against-store dedupe pass.
	KeyPageSize int

	// MaxConcurrentCommits and MaxCommitWait feed the semaphore limiter.
	MaxConcurrentCommits int
	MaxCommitWait        time.Duration

	// SessionTTL is how long a finished session stays queryable before
	// delayed cleanup removes it.
	SessionTTL time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.KeyPageSize <= 0 {
		c.KeyPageSize = 1000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	return c
}

// Service provides the core business logic for import sessions. It owns
// every active session and serializes access through its own lock; the
// sessions serialize their stage transitions through theirs.
type Service struct {
	repo Repository
	cfg  ServiceConfig

	limiter *ImportLimiter

	mu       sync.RWMutex
	sessions map[string]*ImportSession
}

// NewService creates a session service over the given repository.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		repo:     repo,
		cfg:      cfg,
		limiter:  NewImportLimiter(cfg.MaxConcurrentCommits, cfg.MaxCommitWait),
		sessions: make(map[string]*ImportSession),
	}
}

// ListCatalogs returns the registered import catalogs for discovery
// endpoints.
func (s *Service) ListCatalogs() []Catalog {
	return Catalogs()
}

// CreateSession starts a session for one import kind.
func (s *Service) CreateSession(kind string) (*ImportSession, error) {
	cat, ok := GetCatalog(kind)
	if !ok {
		return nil, fmt.Errorf("unknown import kind: %s", kind)
	}

	sess := newSession(cat)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, nil
}

func (s *Service) session(id string) (*ImportSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// FileInfo describes an attached file plus the proposed column mapping.
type FileInfo struct {
	FileName string       `json:"fileName"`
	Headers  []string     `json:"headers"`
	Rows     int          `json:"rows"`
	Mapping  FieldMapping `json:"mapping"`
}

// AttachFile decodes the uploaded file and proposes an automatic mapping.
// Moves the session from upload to mapping.
func (s *Service) AttachFile(id, fileName string, r io.Reader, format SourceFormat) (FileInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return FileInfo{}, err
	}

	file, err := Decode(r, format)
	if err != nil {
		return FileInfo{}, fmt.Errorf("decoding %s: %w", fileName, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.stage != StageUpload {
		return FileInfo{}, wrongStage("attach file", sess.stage)
	}

	sess.fileName = fileName
	sess.file = file
	sess.mapping = AutoMap(file.Headers, sess.Catalog)
	sess.stage = StageMapping

	return FileInfo{
		FileName: fileName,
		Headers:  file.Headers,
		Rows:     len(file.Rows),
		Mapping:  sess.mapping,
	}, nil
}

// Mapping returns the session's current mapping and the file headers.
func (s *Service) Mapping(id string) (FieldMapping, []string, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.file == nil {
		return nil, nil, wrongStage("get mapping", sess.stage)
	}

	m := make(FieldMapping, len(sess.mapping))
	for k, v := range sess.mapping {
		m[k] = v
	}
	return m, sess.file.Headers, nil
}

// SetMapping replaces the session's mapping. Allowed while mapping or
// previewing; a remap from preview discards the preview and returns the
// session to the mapping stage.
func (s *Service) SetMapping(id string, mapping FieldMapping) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.stage != StageMapping && sess.stage != StagePreview {
		return wrongStage("set mapping", sess.stage)
	}
	if err := ValidateMapping(mapping, sess.file.Headers, sess.Catalog); err != nil {
		return err
	}

	sess.mapping = mapping
	sess.records = nil
	sess.dedupe = DedupeResult{}
	sess.rejected = 0
	sess.stage = StageMapping
	return nil
}

// PreviewResult is what the confirmation screen shows before a commit.
type PreviewResult struct {
	TotalRows        int `json:"totalRows"`
	Importable       int `json:"importable"`
	DuplicateInBatch int `json:"duplicateInBatch"`
	DuplicateInStore int `json:"duplicateInStore"`
	Rejected         int `json:"rejected"`
}

// Preview normalizes and deduplicates the mapped rows. Requires all
// required fields to be mapped. Moves the session to the preview stage.
func (s *Service) Preview(ctx context.Context, id string) (PreviewResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return PreviewResult{}, err
	}

	sess.mu.Lock()
	if sess.stage != StageMapping {
		stage := sess.stage
		sess.mu.Unlock()
		return PreviewResult{}, wrongStage("preview", stage)
	}
	file := sess.file
	mapping := sess.mapping
	cat := sess.Catalog
	sess.mu.Unlock()

	if err := MissingRequired(mapping, cat); err != nil {
		return PreviewResult{}, err
	}

	norm := Normalize(file, mapping, cat, nil)

	var dedupe DedupeResult
	if cat.Dedupe {
		dedupe, err = Dedupe(ctx, norm.Records, s.repo, s.cfg.KeyPageSize)
		if err != nil {
			return PreviewResult{}, fmt.Errorf("deduplicating: %w", err)
		}
	} else {
		dedupe.Unique = len(norm.Records)
	}

	sess.mu.Lock()
	if sess.stage != StageMapping {
		stage := sess.stage
		sess.mu.Unlock()
		return PreviewResult{}, wrongStage("preview", stage)
	}
	sess.records = norm.Records
	sess.dedupe = dedupe
	sess.rejected = norm.Rejected
	sess.stage = StagePreview
	sess.mu.Unlock()

	return PreviewResult{
		TotalRows:        len(file.Rows),
		Importable:       dedupe.Unique,
		DuplicateInBatch: dedupe.DuplicateInBatch,
		DuplicateInStore: dedupe.DuplicateInStore,
		Rejected:         norm.Rejected,
	}, nil
}

// Commit starts the write phase in the background and returns immediately.
// Progress flows to subscribers; Result blocks until the run stops.
func (s *Service) Commit(ctx context.Context, id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.stage != StagePreview {
		stage := sess.stage
		sess.mu.Unlock()
		s.limiter.Release()
		return wrongStage("commit", stage)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), CommitTimeout)
	sess.cancel = cancel

	cfg := s.cfg.Committer
	cfg.OnProgress = sess.notifyListeners

	writer := sess.Catalog.NewCommitter(CommitterDeps{
		Repo:    s.repo,
		BatchID: sess.BatchID,
		Resolve: NewResolver(s.repo),
	})
	run := NewCommitRun(sess.records, writer, cfg)
	sess.run = run
	sess.stage = StageImporting
	totalRows := 0
	if sess.file != nil {
		totalRows = len(sess.file.Rows)
	}
	dedupe := sess.dedupe
	rejected := sess.rejected
	sess.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()

		run.Run(runCtx)

		snap := run.Snapshot()
		report := BuildReport(sess.BatchID, sess.Catalog.Kind, totalRows, dedupe, rejected, snap)

		sess.mu.Lock()
		sess.report = &report
		sess.stage = StageResults
		sess.mu.Unlock()

		close(sess.Done)
		sess.closeListeners()
		s.cleanup(sess.ID, s.cfg.SessionTTL)
	}()

	return nil
}

// SubscribeProgress returns a channel receiving commit snapshots. The
// channel is closed when the run stops. Subscribing before the commit
// starts is allowed; subscribing after it finished delivers the final
// snapshot and an already closed channel.
func (s *Service) SubscribeProgress(id string) (<-chan CommitSnapshot, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	run := sess.run
	sess.mu.Unlock()

	sess.listenerMu.Lock()
	if sess.listenersClosed {
		sess.listenerMu.Unlock()
		ch := make(chan CommitSnapshot, 1)
		if run != nil {
			ch <- run.Snapshot()
		}
		close(ch)
		return ch, nil
	}
	ch := make(chan CommitSnapshot, 10)
	sess.listeners = append(sess.listeners, ch)
	sess.listenerMu.Unlock()

	if run != nil {
		select {
		case ch <- run.Snapshot():
		default:
		}
	}

	return ch, nil
}

// Progress returns the current commit snapshot without blocking.
func (s *Service) Progress(id string) (CommitSnapshot, error) {
	sess, err := s.session(id)
	if err != nil {
		return CommitSnapshot{}, err
	}

	sess.mu.Lock()
	run := sess.run
	sess.mu.Unlock()

	if run == nil {
		return CommitSnapshot{State: StateIdle}, nil
	}
	return run.Snapshot(), nil
}

// Cancel aborts an in-progress commit. The run stops at the next row
// boundary; already written rows stay written.
func (s *Service) Cancel(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	cancel := sess.cancel
	stage := sess.stage
	sess.mu.Unlock()

	if stage != StageImporting || cancel == nil {
		return wrongStage("cancel", stage)
	}
	cancel()
	return nil
}

// Result returns the final report, blocking until the commit run stops.
// Asking for a result before any commit has started fails with
// ErrWrongStage rather than waiting on a run that may never happen.
func (s *Service) Result(ctx context.Context, id string) (*Report, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.run == nil && sess.report == nil {
		stage := sess.stage
		sess.mu.Unlock()
		return nil, wrongStage("get result", stage)
	}
	done := sess.Done
	sess.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.report, nil
}

// Reset returns a session to the upload stage with a fresh batch ID,
// discarding its file, mapping, and preview. Not allowed mid-commit.
func (s *Service) Reset(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.stage == StageImporting {
		return wrongStage("reset", sess.stage)
	}
	if sess.stage == StageResults {
		// A finished session's Done channel is closed; later commits
		// need a fresh one, and new subscribers must register again.
		sess.Done = make(chan struct{})
		sess.listenerMu.Lock()
		sess.listenersClosed = false
		sess.listenerMu.Unlock()
	}

	sess.fileName = ""
	sess.file = nil
	sess.mapping = nil
	sess.records = nil
	sess.dedupe = DedupeResult{}
	sess.rejected = 0
	sess.run = nil
	sess.cancel = nil
	sess.report = nil
	sess.BatchID = NewBatchID(time.Now())
	sess.stage = StageUpload
	return nil
}

// WaitForDrain blocks until all active commits complete, for graceful
// shutdown.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// cleanup removes the session from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}
