package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// repoCommitter is a minimal contact writer for service-level tests; the
// production writers live with their catalogs.
type repoCommitter struct {
	deps CommitterDeps
}

func (c *repoCommitter) CommitRow(ctx context.Context, rec *CanonicalRecord) (CreatedRecord, []string, error) {
	id, err := c.deps.Repo.InsertContact(ctx, ContactFields{
		GivenName:  rec.GivenName,
		FamilyName: rec.FamilyName,
		Email:      rec.Keys.Email,
		Phone:      rec.Phone,
		TaxID:      rec.Keys.TaxID,
		BatchID:    c.deps.BatchID,
	})
	if err != nil {
		return CreatedRecord{}, nil, err
	}
	return CreatedRecord{ID: id, Kind: rec.Kind, Label: rec.FullName(), Line: rec.Line}, nil, nil
}

type dealRepoCommitter struct {
	deps CommitterDeps
}

func (c *dealRepoCommitter) CommitRow(ctx context.Context, rec *CanonicalRecord) (CreatedRecord, []string, error) {
	contactID, err := c.deps.Resolve.ResolveContact(ctx, rec, c.deps.BatchID)
	if err != nil {
		return CreatedRecord{}, nil, err
	}
	id, err := c.deps.Repo.InsertDeal(ctx, DealFields{
		Title:     rec.Str("titulo"),
		Value:     rec.Num("valor"),
		Currency:  rec.Str("moeda"),
		ContactID: contactID,
		BatchID:   c.deps.BatchID,
	})
	if err != nil {
		return CreatedRecord{}, nil, err
	}
	return CreatedRecord{ID: id, Kind: rec.Kind, Label: rec.Str("titulo"), Line: rec.Line}, nil, nil
}

var registerOnce sync.Once

func newTestService(repo Repository) *Service {
	registerOnce.Do(func() {
		contact := testContactCatalog()
		contact.NewCommitter = func(deps CommitterDeps) EntityCommitter {
			return &repoCommitter{deps: deps}
		}
		Register(contact)

		deal := testDealCatalog()
		deal.NewCommitter = func(deps CommitterDeps) EntityCommitter {
			return &dealRepoCommitter{deps: deps}
		}
		Register(deal)
	})

	return NewService(repo, ServiceConfig{Committer: fastConfig()})
}

// ============================================================================
// Session Lifecycle Tests
// ============================================================================

func TestService_CreateSession(t *testing.T) {
	svc := newTestService(newFakeRepo())

	sess, err := svc.CreateSession("contact")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("session ID is empty")
	}
	if sess.Stage() != StageUpload {
		t.Errorf("Stage() = %q, want %q", sess.Stage(), StageUpload)
	}
	if !strings.HasPrefix(sess.BatchID, "imp-") {
		t.Errorf("BatchID = %q, want imp- prefix", sess.BatchID)
	}
	if parts := strings.SplitN(sess.BatchID, "-", 3); len(parts) != 3 {
		t.Errorf("BatchID = %q, want imp-<timestamp>-<suffix>", sess.BatchID)
	}
}

func TestService_CreateSessionUnknownKind(t *testing.T) {
	svc := newTestService(newFakeRepo())
	if _, err := svc.CreateSession("inventado"); err == nil {
		t.Error("CreateSession(unknown) error = nil, want error")
	}
}

func TestService_UnknownSessionID(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.Progress("no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Progress(unknown) = %v, want ErrSessionNotFound", err)
	}
}

func TestService_StageOrderEnforced(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, err := svc.CreateSession("contact")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if _, err := svc.Preview(context.Background(), sess.ID); !errors.Is(err, ErrWrongStage) {
		t.Errorf("Preview before file = %v, want ErrWrongStage", err)
	}
	if err := svc.Commit(context.Background(), sess.ID); !errors.Is(err, ErrWrongStage) {
		t.Errorf("Commit before preview = %v, want ErrWrongStage", err)
	}
	if err := svc.Cancel(sess.ID); !errors.Is(err, ErrWrongStage) {
		t.Errorf("Cancel before commit = %v, want ErrWrongStage", err)
	}

	csv := "Nome\nMaria\n"
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); !errors.Is(err, ErrWrongStage) {
		t.Errorf("second AttachFile = %v, want ErrWrongStage", err)
	}
}

func TestService_ResultBeforeCommitFailsFast(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	type outcome struct {
		report *Report
		err    error
	}
	got := make(chan outcome, 1)
	go func() {
		report, err := svc.Result(context.Background(), sess.ID)
		got <- outcome{report, err}
	}()

	select {
	case out := <-got:
		if !errors.Is(out.err, ErrWrongStage) {
			t.Errorf("Result before commit = %v, want ErrWrongStage", out.err)
		}
		if out.report != nil {
			t.Errorf("Result before commit report = %+v, want nil", out.report)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Result blocked on a session with no commit run")
	}
}

func TestService_AttachFileProposesMapping(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	csv := "Nome,E-mail,Telefone Celular\nMaria,maria@example.com,11987654321\n"
	info, err := svc.AttachFile(sess.ID, "contatos.csv", strings.NewReader(csv), FormatCSV)
	if err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}

	if info.Rows != 1 {
		t.Errorf("Rows = %d, want 1", info.Rows)
	}
	if got := info.Mapping["nome"]; got != "Nome" {
		t.Errorf("mapping[nome] = %q, want Nome", got)
	}
	if got := info.Mapping["email"]; got != "E-mail" {
		t.Errorf("mapping[email] = %q, want E-mail", got)
	}
	if sess.Stage() != StageMapping {
		t.Errorf("Stage() = %q, want %q", sess.Stage(), StageMapping)
	}
}

func TestService_SetMappingValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")
	svc.AttachFile(sess.ID, "c.csv", strings.NewReader("Nome\nMaria\n"), FormatCSV)

	if err := svc.SetMapping(sess.ID, FieldMapping{"nome": "Coluna Inexistente"}); err == nil {
		t.Error("SetMapping(unknown column) error = nil, want error")
	}
	if err := svc.SetMapping(sess.ID, FieldMapping{"bogus": "Nome"}); err == nil {
		t.Error("SetMapping(unknown field) error = nil, want error")
	}
	if err := svc.SetMapping(sess.ID, FieldMapping{"nome": "Nome"}); err != nil {
		t.Errorf("SetMapping(valid) error = %v", err)
	}
}

func TestService_PreviewRequiresRequiredFields(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")
	svc.AttachFile(sess.ID, "c.csv", strings.NewReader("Coluna,Email\nx,maria@example.com\n"), FormatCSV)

	// Nothing matched the name field, so the proposed mapping is incomplete.
	_, err := svc.Preview(context.Background(), sess.ID)
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("Preview() = %v, want ErrMissingRequired", err)
	}

	// The session must stay in mapping so the user can fix it.
	if sess.Stage() != StageMapping {
		t.Errorf("Stage() = %q, want %q", sess.Stage(), StageMapping)
	}
}

func TestService_RemapFromPreview(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")
	svc.AttachFile(sess.ID, "c.csv", strings.NewReader("Nome,Email\nMaria,maria@example.com\n"), FormatCSV)

	if _, err := svc.Preview(context.Background(), sess.ID); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if sess.Stage() != StagePreview {
		t.Fatalf("Stage() = %q, want %q", sess.Stage(), StagePreview)
	}

	if err := svc.SetMapping(sess.ID, FieldMapping{"nome": "Nome"}); err != nil {
		t.Fatalf("SetMapping() from preview error = %v", err)
	}
	if sess.Stage() != StageMapping {
		t.Errorf("Stage() after remap = %q, want %q", sess.Stage(), StageMapping)
	}

	if _, err := svc.Preview(context.Background(), sess.ID); err != nil {
		t.Errorf("second Preview() error = %v", err)
	}
}

// ============================================================================
// End-To-End Import Tests
// ============================================================================

func TestService_ContactImportEndToEnd(t *testing.T) {
	repo := newFakeRepo()
	repo.emails = []string{"antiga@example.com"}

	svc := newTestService(repo)
	sess, err := svc.CreateSession("contact")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	csv := "Nome,Email\n" +
		"Maria Silva,maria@example.com\n" +
		"Pessoa Antiga,antiga@example.com\n" +
		",semnome@example.com\n"
	if _, err := svc.AttachFile(sess.ID, "contatos.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}

	preview, err := svc.Preview(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := PreviewResult{TotalRows: 3, Importable: 1, DuplicateInBatch: 0, DuplicateInStore: 1, Rejected: 1}
	if preview != want {
		t.Fatalf("Preview() = %+v, want %+v", preview, want)
	}

	if err := svc.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	report, err := svc.Result(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	if report.State != StateCompleted {
		t.Errorf("report state = %q, want %q", report.State, StateCompleted)
	}
	if report.Imported != 1 || report.Failed != 0 {
		t.Errorf("report counts = (%d, %d), want (1, 0)", report.Imported, report.Failed)
	}
	if report.DuplicateInStore != 1 || report.Rejected != 1 {
		t.Errorf("report dupes/rejected = (%d, %d), want (1, 1)", report.DuplicateInStore, report.Rejected)
	}
	if report.BatchID != sess.BatchID {
		t.Errorf("report batch = %q, want %q", report.BatchID, sess.BatchID)
	}

	if len(repo.insertedContacts) != 1 {
		t.Fatalf("inserted %d contacts, want 1", len(repo.insertedContacts))
	}
	inserted := repo.insertedContacts[0]
	if inserted.GivenName != "Maria" || inserted.Email != "maria@example.com" {
		t.Errorf("inserted contact = %+v, want Maria/maria@example.com", inserted)
	}
	if inserted.BatchID != sess.BatchID {
		t.Errorf("inserted batch = %q, want %q", inserted.BatchID, sess.BatchID)
	}

	if sess.Stage() != StageResults {
		t.Errorf("Stage() after commit = %q, want %q", sess.Stage(), StageResults)
	}
}

func TestService_DealImportSkipsDedupe(t *testing.T) {
	repo := newFakeRepo()
	repo.contacts = []fakeContact{{ID: "contact-1", Name: "Maria Silva", Email: "maria@example.com"}}

	svc := newTestService(repo)
	sess, _ := svc.CreateSession("deal")

	csv := "Título,Faturamento,Email do Contato\n" +
		"Pacote Lisboa,\"R$ 64.918,00\",maria@example.com\n" +
		"Pacote Lisboa,\"R$ 64.918,00\",maria@example.com\n"
	if _, err := svc.AttachFile(sess.ID, "vendas.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}

	preview, err := svc.Preview(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	// Identical deals are legitimate repeat sales, never duplicates.
	if preview.Importable != 2 || preview.DuplicateInBatch != 0 {
		t.Fatalf("Preview() = %+v, want 2 importable and no duplicates", preview)
	}

	if err := svc.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	report, err := svc.Result(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	if report.Imported != 2 {
		t.Errorf("Imported = %d, want 2", report.Imported)
	}
	if len(repo.insertedDeals) != 2 {
		t.Fatalf("inserted %d deals, want 2", len(repo.insertedDeals))
	}
	if got := repo.insertedDeals[0]; got.Value != 64918.00 || got.ContactID != "contact-1" {
		t.Errorf("inserted deal = %+v, want value 64918 linked to contact-1", got)
	}
	if len(repo.insertedContacts) != 0 {
		t.Errorf("inserted %d contacts, want 0 (buyer already existed)", len(repo.insertedContacts))
	}
}

// ============================================================================
// Progress And Cancellation Tests
// ============================================================================

func TestService_ProgressIdleBeforeCommit(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	snap, err := svc.Progress(sess.ID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if snap.State != StateIdle {
		t.Errorf("State = %q, want %q", snap.State, StateIdle)
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	csv := "Nome\nMaria\nPedro\nAna\n"
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}
	if _, err := svc.Preview(context.Background(), sess.ID); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	ch, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	if err := svc.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	var last CommitSnapshot
	received := 0
	for snap := range ch {
		last = snap
		received++
	}

	if received == 0 {
		t.Fatal("no progress snapshots received")
	}
	if last.State != StateCompleted {
		t.Errorf("final snapshot state = %q, want %q", last.State, StateCompleted)
	}
	if last.Succeeded != 3 {
		t.Errorf("final snapshot succeeded = %d, want 3", last.Succeeded)
	}
}

func TestService_SubscribeAfterRunFinished(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	csv := "Nome\nMaria\nPedro\n"
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}
	if _, err := svc.Preview(context.Background(), sess.ID); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if err := svc.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := svc.Result(context.Background(), sess.ID); err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	// A subscriber arriving after the run stopped still gets the final
	// snapshot, and the channel closes without waiting on anything.
	ch, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	snap, open := <-ch
	if !open {
		t.Fatal("channel closed before delivering the final snapshot")
	}
	if snap.State != StateCompleted || snap.Succeeded != 2 {
		t.Errorf("final snapshot = {%s %d}, want {%s 2}", snap.State, snap.Succeeded, StateCompleted)
	}
	if _, open := <-ch; open {
		t.Error("channel still open after the final snapshot")
	}
}

func TestService_Reset(t *testing.T) {
	svc := newTestService(newFakeRepo())
	sess, _ := svc.CreateSession("contact")

	csv := "Nome\nMaria\n"
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}
	if _, err := svc.Preview(context.Background(), sess.ID); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if err := svc.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := svc.Result(context.Background(), sess.ID); err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	oldBatch := sess.BatchID
	if err := svc.Reset(sess.ID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if sess.Stage() != StageUpload {
		t.Errorf("Stage() after reset = %q, want %q", sess.Stage(), StageUpload)
	}
	if sess.BatchID == oldBatch {
		t.Error("Reset() kept the old batch ID")
	}

	// The session is reusable end to end after a reset.
	if _, err := svc.AttachFile(sess.ID, "c.csv", strings.NewReader(csv), FormatCSV); err != nil {
		t.Errorf("AttachFile() after reset error = %v", err)
	}
}

// ============================================================================
// Report Tests
// ============================================================================

func TestBuildReport(t *testing.T) {
	snap := CommitSnapshot{
		State:     StateCompleted,
		Progress:  Progress{Processed: 3, Total: 3, StartedAt: time.Now().Add(-time.Second)},
		Succeeded: 2,
		Failed:    1,
		Errors:    []RowError{{Line: 4, Message: "insert failed"}},
	}
	dedupe := DedupeResult{Unique: 3, DuplicateInBatch: 1, DuplicateInStore: 2}

	report := BuildReport("imp-1-abc", "contact", 7, dedupe, 1, snap)

	if report.BatchID != "imp-1-abc" || report.Kind != "contact" {
		t.Errorf("identity = (%q, %q), want (imp-1-abc, contact)", report.BatchID, report.Kind)
	}
	if report.TotalRows != 7 || report.Imported != 2 || report.Failed != 1 {
		t.Errorf("counts = (%d, %d, %d), want (7, 2, 1)", report.TotalRows, report.Imported, report.Failed)
	}
	if report.DuplicateInBatch != 1 || report.DuplicateInStore != 2 || report.Rejected != 1 {
		t.Errorf("dedupe counts = (%d, %d, %d), want (1, 2, 1)", report.DuplicateInBatch, report.DuplicateInStore, report.Rejected)
	}
	if report.Duration <= 0 {
		t.Errorf("Duration = %v, want positive", report.Duration)
	}
	if len(report.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1", len(report.Errors))
	}
}

func TestBuildReport_NeverStarted(t *testing.T) {
	report := BuildReport("imp-1-abc", "contact", 0, DedupeResult{}, 0, CommitSnapshot{State: StateIdle})
	if report.Duration != 0 {
		t.Errorf("Duration = %v, want 0 for a run that never started", report.Duration)
	}
}
