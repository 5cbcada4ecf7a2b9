package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/pipeline"
	"github.com/r3e-labs/docbackbone/engine/registry"
	"github.com/r3e-labs/docbackbone/engine/relate"
	"github.com/r3e-labs/docbackbone/engine/upload"
	"github.com/r3e-labs/docbackbone/engine/workerpool"
	"github.com/r3e-labs/docbackbone/pkg/config"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// cliDeps bundles the engine components a docctl subcommand needs. Every
// subcommand is a single short-lived process, so unlike documentd's daemon
// wiring there is no HTTP server, cache tier, or resource governor here —
// just the repositories and managers each command actually drives.
type cliDeps struct {
	cfg      config.Config
	logger   *slog.Logger
	bus      *bus.Bus
	uploads  *upload.Manager
	pipeline *pipeline.Manager
	graph    *relate.GraphStore
	elements repo.Repository[domain.Element, uuid.UUID]
	runs     repo.Repository[domain.PipelineRun, uuid.UUID]
	pool     *workerpool.Pool

	closers []func() error
}

func (d *cliDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("cleanup failed", "err", err)
		}
	}
}

// openDeps wires a cliDeps from cfg, opening the bolt state DB and Neo4j
// driver the same way documentd's run() does, but without the HTTP listener
// or optional L3/NATS/Qdrant side channels a one-shot CLI invocation has no
// use for.
func openDeps(ctx context.Context, cfg config.Config) (*cliDeps, error) {
	logger := slog.Default()
	d := &cliDeps{cfg: cfg, logger: logger}

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: neo4j driver: %v", domain.ErrBackendDown, err)
	}
	d.closers = append(d.closers, func() error { return neo4jDriver.Close(ctx) })
	if err := neo4jDriver.VerifyConnectivity(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: neo4j connectivity: %v", domain.ErrBackendDown, err)
	}

	boltDB, err := repo.OpenBolt(cfg.StateDBPath)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: open state db: %v", domain.ErrStorageUnavailable, err)
	}
	d.closers = append(d.closers, boltDB.Close)

	blobs, err := upload.NewBlobStore(cfg.StoragePath)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: blob store: %v", domain.ErrStorageUnavailable, err)
	}

	sessionsRepo, err := repo.NewBoltRepo(boltDB, "upload_sessions",
		func(s domain.UploadSession) uuid.UUID { return s.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(s domain.UploadSession) map[string]any {
			return map[string]any{"id": s.ID.String(), "owner": s.Owner, "status": string(s.Status)}
		})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("sessions repo: %w", err)
	}
	filesRepo, err := repo.NewBoltRepo(boltDB, "files",
		func(f domain.File) uuid.UUID { return f.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(f domain.File) map[string]any {
			return map[string]any{"id": f.ID.String(), "session_id": f.SessionID.String(), "status": string(f.Status)}
		})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("files repo: %w", err)
	}
	runsRepo, err := repo.NewBoltRepo(boltDB, "pipeline_runs",
		func(r domain.PipelineRun) uuid.UUID { return r.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(r domain.PipelineRun) map[string]any {
			return map[string]any{"id": r.ID.String(), "document_id": r.DocumentID.String(), "state": string(r.State)}
		})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("runs repo: %w", err)
	}

	graphStore := relate.New(neo4jDriver)
	elementsRepo := repo.NewUUIDKeyed[domain.Element](relate.NewElementRepo(neo4jDriver))

	eventBus := bus.New(logger)

	allowedExt := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowedExt[ext] = true
	}
	uploadMgr := upload.New(upload.Deps{
		Files:             filesRepo,
		Sessions:          sessionsRepo,
		Blobs:             blobs,
		Bus:               eventBus,
		Logger:            logger,
		MaxSizeBytes:      cfg.UploadMaxBytes,
		AllowedExtensions: allowedExt,
	})

	procRegistry := registry.New()
	executor := pipeline.NewProcessorExecutor(procRegistry, elementsRepo, nil, nil, logger)
	pool := workerpool.New(logger, nil, nil, executor, map[domain.ConcurrencyClass]workerpool.ClassConfig{
		domain.ClassCooperative: {Workers: cfg.WorkerCooperative, QueueCapacity: cfg.WorkerCooperative * 4, CancelGrace: 5 * time.Second},
		domain.ClassThread:      {Workers: cfg.WorkerThread, QueueCapacity: cfg.WorkerThread * 4, CancelGrace: 10 * time.Second},
		domain.ClassProcess:     {Workers: cfg.WorkerProcess, QueueCapacity: cfg.WorkerProcess * 4, CancelGrace: 30 * time.Second},
	})
	pool.Start(ctx)
	d.closers = append(d.closers, func() error { pool.Stop(); return nil })

	pipelineMgr := pipeline.New(pipeline.Deps{
		Runs:     runsRepo,
		Registry: procRegistry,
		Pool:     pool,
		Bus:      eventBus,
		Logger:   logger,
	})
	specs, err := pipeline.LoadSpecsDir(cfg.PipelineSpecDir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load pipeline specs: %w", err)
	}
	for _, spec := range specs {
		if err := pipelineMgr.RegisterSpec(spec); err != nil {
			d.Close()
			return nil, fmt.Errorf("register spec %s: %w", spec.Name, err)
		}
	}

	d.bus = eventBus
	d.uploads = uploadMgr
	d.pipeline = pipelineMgr
	d.graph = graphStore
	d.elements = elementsRepo
	d.runs = runsRepo
	d.pool = pool
	return d, nil
}
