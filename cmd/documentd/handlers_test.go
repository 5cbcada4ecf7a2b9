package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/pipeline"
	"github.com/r3e-labs/docbackbone/engine/registry"
	"github.com/r3e-labs/docbackbone/engine/upload"
	"github.com/r3e-labs/docbackbone/engine/workerpool"
	"github.com/r3e-labs/docbackbone/pkg/config"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// fakeProcessor mirrors engine/pipeline's own test double so run-control
// handlers can be exercised against a live (in-memory) pipeline without a
// real processor implementation.
type fakeProcessor struct{ name string }

func (f *fakeProcessor) Name() string                             { return f.name }
func (f *fakeProcessor) Version() string                          { return "1.0.0" }
func (f *fakeProcessor) AcceptedKinds() []string                  { return []string{"*/*"} }
func (f *fakeProcessor) ProducedSchema() string                   { return "v1" }
func (f *fakeProcessor) Cost() registry.Cost                      { return registry.CostSmall }
func (f *fakeProcessor) ConcurrencyClass() domain.ConcurrencyClass { return domain.ClassCooperative }
func (f *fakeProcessor) Priority() int                             { return 0 }
func (f *fakeProcessor) Specificity() int                          { return 0 }
func (f *fakeProcessor) Process(ctx context.Context, pctx registry.ProcessorContext) (registry.ProcessorResult, error) {
	return registry.ProcessorResult{}, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions := repo.NewMemRepo(func(s domain.UploadSession) uuid.UUID { return s.ID }, func(s domain.UploadSession) map[string]any {
		return map[string]any{"status": string(s.Status)}
	})
	files := repo.NewMemRepo(func(f domain.File) uuid.UUID { return f.ID }, func(f domain.File) map[string]any {
		return map[string]any{"status": string(f.Status)}
	})
	runs := repo.NewMemRepo(func(r domain.PipelineRun) uuid.UUID { return r.ID }, func(r domain.PipelineRun) map[string]any {
		return map[string]any{}
	})
	elements := repo.NewMemRepo(func(e domain.Element) uuid.UUID { return e.ID }, func(e domain.Element) map[string]any {
		return map[string]any{"document_id": e.DocumentID.String()}
	})

	blobs, err := upload.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	b := bus.New(logger)

	uploadMgr := upload.New(upload.Deps{
		Files:             files,
		Sessions:          sessions,
		Blobs:             blobs,
		Bus:               b,
		Logger:            logger,
		MaxSizeBytes:      1 << 20,
		AllowedExtensions: map[string]bool{".txt": true},
	})

	reg := registry.New()
	if err := reg.Register(&fakeProcessor{name: "noop"}); err != nil {
		t.Fatalf("register processor: %v", err)
	}
	execute := pipeline.NewProcessorExecutor(reg, elements, nil, nil, logger)
	pool := workerpool.New(logger, nil, nil, execute, map[domain.ConcurrencyClass]workerpool.ClassConfig{
		domain.ClassCooperative: {Workers: 2, QueueCapacity: 16},
		domain.ClassThread:      {Workers: 2, QueueCapacity: 16},
		domain.ClassProcess:     {Workers: 1, QueueCapacity: 16},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	pipelineMgr := pipeline.New(pipeline.Deps{
		Runs:     runs,
		Registry: reg,
		Pool:     pool,
		Bus:      b,
		Logger:   logger,
	})
	if err := pipelineMgr.RegisterSpec(domain.PipelineSpec{
		Name: "noop-pipeline",
		Stages: []domain.StageSpec{{ID: "only", ProcessorName: "noop"}},
	}); err != nil {
		t.Fatalf("register spec: %v", err)
	}

	return &app{
		cfg:      config.Config{UploadSessionTTL: time.Hour},
		logger:   logger,
		bus:      b,
		uploads:  uploadMgr,
		pipeline: pipelineMgr,
		registry: reg,
		pool:     pool,
		elements: elements,
		runs:     runs,
	}
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	a := &app{}
	a.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleOpenSessionAndUploadAndFinalize(t *testing.T) {
	a := newTestApp(t)
	mux := http.NewServeMux()
	a.routes(mux)

	openBody, _ := json.Marshal(openSessionRequest{Owner: "alice"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(openBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var opened openSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("hello world")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	uploadReq := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+opened.SessionID+"/files", &buf)
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+opened.SessionID+"/finalize", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleUploadFile_UnknownSessionReturnsNotFound(t *testing.T) {
	a := newTestApp(t)
	mux := http.NewServeMux()
	a.routes(mux)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "x.txt")
	_, _ = part.Write([]byte("data"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+uuid.New().String()+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRunLifecycle(t *testing.T) {
	a := newTestApp(t)
	mux := http.NewServeMux()
	a.routes(mux)

	createBody, _ := json.Marshal(createRunRequest{SpecName: "noop-pipeline", DocumentID: uuid.New().String()})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(createBody)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create run: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created createRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+created.RunID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var run runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.SpecName != "noop-pipeline" {
		t.Fatalf("unexpected spec name: %+v", run)
	}
}

func TestHandleCreateRun_UnknownSpecIsBadRequest(t *testing.T) {
	a := newTestApp(t)
	mux := http.NewServeMux()
	a.routes(mux)

	body, _ := json.Marshal(createRunRequest{SpecName: "does-not-exist", DocumentID: uuid.New().String()})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(body)))
	if rec.Code == http.StatusAccepted {
		t.Fatalf("expected a non-2xx status for an unregistered spec, got %d", rec.Code)
	}
}

func TestWriteErrorMapsSentinelsToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrValidationFailed, http.StatusBadRequest},
		{domain.ErrDuplicateKey, http.StatusConflict},
		{domain.ErrBackendDown, http.StatusServiceUnavailable},
		{domain.ErrQueueFull, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("err %v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
