package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"promptarena/internal/archive"
	"promptarena/internal/entity"
	"promptarena/internal/playground"
)

type server struct {
	app     *playground.App
	archive *archive.Store
}

func (s *server) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/revisions", s.handleRevisions)
	mux.HandleFunc("/api/displayed", s.handleDisplayed)
	mux.HandleFunc("/api/rows", s.handleRows)
	mux.HandleFunc("/api/rows/variable", s.handleRowVariable)
	mux.HandleFunc("/api/rows/run", s.handleRunRow)
	mux.HandleFunc("/api/chat/start", s.handleChatStart)
	mux.HandleFunc("/api/chat/message", s.handleChatMessage)
	mux.HandleFunc("/api/chat/run-all", s.handleChatRunAll)
	mux.HandleFunc("/api/chat/run-cell", s.handleChatRunCell)
	mux.HandleFunc("/api/chat/rows", s.handleChatRows)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/watch", s.handleWatchSSE)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.app.Snapshot())
}

func (s *server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var rev entity.Revision
	if err := json.NewDecoder(r.Body).Decode(&rev); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(rev.ID) == "" {
		http.Error(w, "revision id is required", http.StatusBadRequest)
		return
	}
	s.app.Store.UpsertRevision(rev)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleDisplayed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	s.app.SetDisplayedRevisions(in.IDs)
	writeJSON(w, map[string]any{"displayed": s.app.Store.Displayed()})
}

func (s *server) handleRows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in struct {
			Values map[string]string `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		rowID := s.app.AddTestCase(in.Values)
		writeJSON(w, map[string]any{"rowId": rowID})
	case http.MethodDelete:
		rowID := strings.TrimSpace(r.URL.Query().Get("id"))
		if rowID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		s.app.DeleteTestCase(rowID)
		writeJSON(w, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *server) handleRowVariable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		RowID      string `json:"rowId"`
		RevisionID string `json:"revisionId"`
		Key        string `json:"key"`
		Value      string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.RowID) == "" || strings.TrimSpace(in.Key) == "" {
		http.Error(w, "rowId and key are required", http.StatusBadRequest)
		return
	}
	if in.RevisionID == "" {
		in.RevisionID, _ = s.app.Store.Baseline()
	}
	if !s.app.SetVariable(in.RowID, in.RevisionID, in.Key, in.Value) {
		http.Error(w, "row not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleRunRow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		RowID      string `json:"rowId"`
		RevisionID string `json:"revisionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.app.RunRow(r.Context(), in.RowID, in.RevisionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleChatStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logicalID := s.app.StartChat()
	writeJSON(w, map[string]any{"logicalId": logicalID})
}

func (s *server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		LogicalID  string          `json:"logicalId"`
		RevisionID string          `json:"revisionId"`
		Content    json.RawMessage `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	content := entity.ContentFromJSON(in.Content)
	if in.RevisionID == "" {
		in.RevisionID, _ = s.app.Store.Baseline()
	}
	if !s.app.TypeUserMessage(in.LogicalID, in.RevisionID, content) {
		http.Error(w, "turn not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleChatRunAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.app.RunAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleChatRunCell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		LogicalID  string `json:"logicalId"`
		RevisionID string `json:"revisionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.app.RunCell(r.Context(), in.LogicalID, in.RevisionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleChatRows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logicalID := strings.TrimSpace(r.URL.Query().Get("logicalId"))
	if logicalID == "" {
		http.Error(w, "logicalId is required", http.StatusBadRequest)
		return
	}
	s.app.DeleteChatRow(logicalID)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		ID         string `json:"id"`
		RevisionID string `json:"revisionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	s.app.Cancel(in.ID, in.RevisionID)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if hash == "" {
		http.Error(w, "hash is required", http.StatusBadRequest)
		return
	}
	payload, ok := s.app.Results.Get(r.Context(), hash)
	if !ok {
		http.Error(w, "result not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runID := strings.TrimSpace(r.URL.Query().Get("runId"))
	if runID == "" {
		http.Error(w, "runId is required", http.StatusBadRequest)
		return
	}
	records, err := s.archive.ListByRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runId": runID, "records": records})
}

// handleWatchSSE streams a state version event whenever the store or run
// status table changes. Clients refetch /api/state on each event.
func (s *server) handleWatchSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for {
		storeCh := s.app.Store.Watch()
		statusCh := s.app.Status.Watch()
		fmt.Fprintf(w, "data: {\"version\": %d}\n\n", s.app.Store.Version())
		flusher.Flush()
		select {
		case <-ctx.Done():
			return
		case <-storeCh:
		case <-statusCh:
		}
	}
}
