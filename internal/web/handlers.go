package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wcrm/importd/internal/importer"
	"github.com/wcrm/importd/internal/logging"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// catalogView is the JSON shape of a catalog for the discovery endpoint.
type catalogView struct {
	Kind   string      `json:"kind"`
	Label  string      `json:"label"`
	Fields []fieldView `json:"fields"`
}

type fieldView struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// handleListCatalogs returns the registered import kinds and their fields.
func (s *Server) handleListCatalogs(w http.ResponseWriter, r *http.Request) {
	cats := s.service.ListCatalogs()
	views := make([]catalogView, 0, len(cats))
	for _, cat := range cats {
		v := catalogView{Kind: cat.Kind, Label: cat.Label}
		for _, f := range cat.Fields {
			v.Fields = append(v.Fields, fieldView{Key: f.Key, Label: f.Label, Required: f.Required})
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type createSessionRequest struct {
	Kind string `json:"kind"`
}

type sessionView struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	BatchID string         `json:"batchId"`
	Stage   importer.Stage `json:"stage"`
}

// handleCreateSession starts a new import session for one kind.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decoding request: %w", err))
		return
	}

	sess, err := s.service.CreateSession(req.Kind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("session created",
		"session", sess.ID, "kind", req.Kind, "batch", sess.BatchID)

	writeJSON(w, http.StatusCreated, sessionView{
		ID:      sess.ID,
		Kind:    sess.Catalog.Kind,
		BatchID: sess.BatchID,
		Stage:   sess.Stage(),
	})
}

// handleAttachFile receives the spreadsheet, decodes it, and returns the
// headers with a proposed mapping. Format comes from the "format" form
// value when present; otherwise the file extension decides.
func (s *Server) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
		s.respondError(w, r, fmt.Errorf("parsing upload: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	formatName := r.FormValue("format")
	if formatName == "" {
		formatName = formatFromName(header.Filename)
	}
	format, err := importer.ParseFormat(formatName)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	info, err := s.service.AttachFile(sessionID, header.Filename, file, format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("file attached",
		"session", sessionID, "file", header.Filename, "rows", info.Rows)

	writeJSON(w, http.StatusOK, info)
}

// formatFromName guesses the source format from a file extension.
func formatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return "xlsx"
	default:
		return "csv"
	}
}

type mappingView struct {
	Mapping importer.FieldMapping `json:"mapping"`
	Headers []string              `json:"headers"`
}

// handleGetMapping returns the current mapping and the file headers.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	mapping, headers, err := s.service.Mapping(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingView{Mapping: mapping, Headers: headers})
}

type setMappingRequest struct {
	Mapping importer.FieldMapping `json:"mapping"`
}

// handleSetMapping replaces the session's field mapping.
func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req setMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decoding request: %w", err))
		return
	}

	if err := s.service.SetMapping(sessionID, req.Mapping); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview runs normalization and duplicate detection and returns
// the counts for the confirmation screen.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	preview, err := s.service.Preview(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("preview built",
		"session", sessionID,
		"importable", preview.Importable,
		"duplicates_batch", preview.DuplicateInBatch,
		"duplicates_store", preview.DuplicateInStore,
		"rejected", preview.Rejected)

	writeJSON(w, http.StatusOK, preview)
}

// handleCommit starts the background write phase.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.service.Commit(r.Context(), sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("commit started", "session", sessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(importer.StateRunning)})
}

// handleProgress returns the current commit snapshot without blocking.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := s.service.Progress(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleProgressStream streams commit snapshots as server-sent events
// until the run stops or the client goes away.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	updates, err := s.service.SubscribeProgress(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-updates:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprint(w, "data: ")
			if err := enc.Encode(snap); err != nil {
				return
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

// handleResult returns the final report, blocking until the run stops.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := s.service.Result(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCancel aborts an in-progress commit at the next row boundary.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.service.Cancel(sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("commit cancelled", "session", sessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(importer.StateAborted)})
}

// handleReset returns the session to the upload stage with a fresh batch.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.service.Reset(sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
