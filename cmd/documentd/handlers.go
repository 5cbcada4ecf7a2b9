package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// writeJSON encodes v as the response body, logging (but not surfacing) an
// encode failure since headers are already committed by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a domain sentinel to the HTTP status spec.md §7's error
// table assigns it. Anything unrecognized is a 500 — the backbone treats an
// un-sentineled error as an implementation bug, not a client mistake.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrInvalidStage), errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateKey), errors.Is(err, repo.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrRunTerminal), errors.Is(err, domain.ErrRunNotResumable):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrBackendDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrQueueFull):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(key))
}

type openSessionRequest struct {
	Owner string `json:"owner"`
	TTL   string `json:"ttl,omitempty"`
}

type openSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (a *app) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "", domain.ErrValidationFailed))
		return
	}
	ttl := a.cfg.UploadSessionTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, domain.NewValidationError("ttl", req.TTL, domain.ErrValidationFailed))
			return
		}
		ttl = parsed
	}
	id, err := a.uploads.OpenSession(r.Context(), req.Owner, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openSessionResponse{SessionID: id.String()})
}

type fileResponse struct {
	ID           string `json:"id"`
	ContentHash  string `json:"content_hash"`
	DeclaredMIME string `json:"declared_mime"`
	DetectedMIME string `json:"detected_mime"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
}

func fileToResponse(f domain.File) fileResponse {
	return fileResponse{
		ID:           f.ID.String(),
		ContentHash:  f.ContentHash,
		DeclaredMIME: f.DeclaredMIME,
		DetectedMIME: f.DetectedMIME,
		Size:         f.Size,
		Status:       string(f.Status),
	}
}

func (a *app) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeError(w, domain.NewValidationError("session_id", r.PathValue("session_id"), domain.ErrValidationFailed))
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, domain.NewValidationError("body", "", domain.ErrValidationFailed))
		return
	}
	part, err := mr.NextPart()
	if err != nil {
		writeError(w, domain.NewValidationError("body", "", domain.ErrValidationFailed))
		return
	}
	defer part.Close()

	declaredMIME := part.Header.Get("Content-Type")
	file, err := a.uploads.Upload(r.Context(), sessionID, part.FileName(), declaredMIME, part)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fileToResponse(file))
}

func (a *app) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeError(w, domain.NewValidationError("session_id", r.PathValue("session_id"), domain.ErrValidationFailed))
		return
	}
	summary, err := a.uploads.Finalize(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type createRunRequest struct {
	SpecName   string `json:"spec_name"`
	DocumentID string `json:"document_id"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

func (a *app) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "", domain.ErrValidationFailed))
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeError(w, domain.NewValidationError("document_id", req.DocumentID, domain.ErrValidationFailed))
		return
	}
	runID, err := a.pipeline.CreateRun(r.Context(), req.SpecName, documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		if err := a.pipeline.Execute(context.Background(), runID); err != nil {
			a.logger.Error("run execution failed", "run_id", runID, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, createRunResponse{RunID: runID.String()})
}

type runResponse struct {
	ID          string            `json:"id"`
	SpecName    string            `json:"spec_name"`
	DocumentID  string            `json:"document_id"`
	State       string            `json:"state"`
	StageStates map[string]string `json:"stage_states"`
	Warnings    []string          `json:"warnings,omitempty"`
}

func runToResponse(run domain.PipelineRun) runResponse {
	states := make(map[string]string, len(run.StageStates))
	for id, st := range run.StageStates {
		states[id] = string(st)
	}
	return runResponse{
		ID:          run.ID.String(),
		SpecName:    run.SpecName,
		DocumentID:  run.DocumentID.String(),
		State:       string(run.State),
		StageStates: states,
		Warnings:    run.Warnings,
	}
}

func (a *app) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, domain.NewValidationError("run_id", r.PathValue("run_id"), domain.ErrValidationFailed))
		return
	}
	run, err := a.runs.Get(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (a *app) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, domain.NewValidationError("run_id", r.PathValue("run_id"), domain.ErrValidationFailed))
		return
	}
	if err := a.pipeline.Cancel(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, domain.NewValidationError("run_id", r.PathValue("run_id"), domain.ErrValidationFailed))
		return
	}
	run, err := a.runs.Get(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run.State.Terminal() && run.State != domain.RunFailed {
		writeError(w, domain.ErrRunTerminal)
		return
	}
	go func() {
		if err := a.pipeline.Resume(context.Background(), runID); err != nil {
			a.logger.Error("run resume execution failed", "run_id", runID, "err", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

type elementResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Page     int    `json:"page"`
}

func (a *app) handleListElements(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	if _, err := uuid.Parse(documentID); err != nil {
		writeError(w, domain.NewValidationError("document_id", documentID, domain.ErrValidationFailed))
		return
	}
	elements, err := a.graph.FindByDocument(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]elementResponse, 0, len(elements))
	for _, e := range elements {
		resp = append(resp, elementResponse{ID: e.ID.String(), Kind: string(e.Kind), Position: e.Position, Page: e.BBox.Page})
	}
	writeJSON(w, http.StatusOK, resp)
}

type relationshipResponse struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

func (a *app) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	if _, err := uuid.Parse(documentID); err != nil {
		writeError(w, domain.NewValidationError("document_id", documentID, domain.ErrValidationFailed))
		return
	}
	var kind *domain.RelationshipKind
	if q := r.URL.Query().Get("kind"); q != "" {
		k := domain.RelationshipKind(q)
		kind = &k
	}
	rels, err := a.graph.ListRelationships(r.Context(), documentID, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]relationshipResponse, 0, len(rels))
	for _, rel := range rels {
		resp = append(resp, relationshipResponse{
			ID:         rel.ID.String(),
			SourceID:   rel.SourceID.String(),
			TargetID:   rel.TargetID.String(),
			Kind:       string(rel.Kind),
			Confidence: rel.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
