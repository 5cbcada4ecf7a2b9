package main

import "net/http"

// routes wires spec.md §6's HTTP/REST surface onto mux. Go 1.22's
// method-and-pattern ServeMux matching keeps this a flat table instead of
// the teacher's hand-rolled path-prefix switch.
func (a *app) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /v1/sessions", a.handleOpenSession)
	mux.HandleFunc("POST /v1/sessions/{session_id}/files", a.handleUploadFile)
	mux.HandleFunc("POST /v1/sessions/{session_id}/finalize", a.handleFinalizeSession)

	mux.HandleFunc("POST /v1/runs", a.handleCreateRun)
	mux.HandleFunc("GET /v1/runs/{run_id}", a.handleGetRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/cancel", a.handleCancelRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/resume", a.handleResumeRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/events", a.handleRunEvents)

	mux.HandleFunc("GET /v1/documents/{document_id}/elements", a.handleListElements)
	mux.HandleFunc("GET /v1/documents/{document_id}/relationships", a.handleListRelationships)
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
