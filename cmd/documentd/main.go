// Package main implements documentd, the backbone's HTTP daemon: upload
// intake, pipeline run control, metadata/relationship queries, and a
// streaming progress channel, backed by the engine/* components.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/pipeline"
	"github.com/r3e-labs/docbackbone/engine/progress"
	"github.com/r3e-labs/docbackbone/engine/registry"
	"github.com/r3e-labs/docbackbone/engine/relate"
	"github.com/r3e-labs/docbackbone/engine/semantic"
	"github.com/r3e-labs/docbackbone/engine/upload"
	"github.com/r3e-labs/docbackbone/engine/workerpool"
	"github.com/r3e-labs/docbackbone/pkg/cache"
	"github.com/r3e-labs/docbackbone/pkg/config"
	"github.com/r3e-labs/docbackbone/pkg/governor"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
	"github.com/r3e-labs/docbackbone/pkg/mid"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfig() (config.Config, error) {
	v := config.New()
	if err := config.Load(v, envOr("DOCUMENTD_CONFIG", "")); err != nil {
		return config.Config{}, err
	}
	return config.Unmarshal(v)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app bundles every wired component a handler might need, following the
// teacher's pattern of closing handlers over their collaborators rather
// than threading a god-object through every call.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *metrics.Registry

	uploads  *upload.Manager
	pipeline *pipeline.Manager
	tracker  *progress.Tracker
	registry *registry.Registry
	pool     *workerpool.Pool
	graph    *relate.GraphStore
	relate   *relate.Engine
	cache    *cache.Tiered
	cacheL2  *cache.L2Disk

	elements repo.Repository[domain.Element, uuid.UUID]
	runs     repo.Repository[domain.PipelineRun, uuid.UUID]
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	boltDB, err := repo.OpenBolt(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer boltDB.Close()

	blobs, err := upload.NewBlobStore(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	tiered, l2, err := buildCache(cfg, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l2.Close()

	var natsConn *nats.Conn
	var natsBridge *bus.NATSBridge
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("nats connect failed, continuing without external event bridge", "err", err)
		} else {
			defer natsConn.Close()
		}
	}

	var vectorIndex relate.SemanticIndex
	if cfg.QdrantAddr != "" {
		store, err := semantic.New(cfg.QdrantAddr, "elements")
		if err != nil {
			logger.Warn("qdrant connect failed, semantic detection falls back to all-pairs", "err", err)
		} else {
			defer store.Close()
			vectorIndex = semantic.NewIndex(store)
		}
	}

	eventBus := bus.New(logger).WithMetrics(m)
	if natsConn != nil {
		natsBridge = bus.NewNATSBridge(natsConn, eventBus, logger)
		for _, t := range []bus.EventType{
			bus.EventFileReceived, bus.EventFileValidated, bus.EventFileRejected, bus.EventFileStored,
			bus.EventRunCreated, bus.EventRunStateChanged, bus.EventStageStarted, bus.EventStageCompleted,
			bus.EventStageFailed, bus.EventProgress, bus.EventWarning,
		} {
			t := t
			eventBus.Subscribe(t, natsBridge.PublishOut, bus.SubscribeOptions{Mode: bus.ModeParallel})
		}
		defer natsBridge.Close()
	}

	allowedExt := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowedExt[ext] = true
	}

	sessionsRepo, err := repo.NewBoltRepo(boltDB, "upload_sessions",
		func(s domain.UploadSession) uuid.UUID { return s.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(s domain.UploadSession) map[string]any {
			return map[string]any{"id": s.ID.String(), "owner": s.Owner, "status": string(s.Status)}
		})
	if err != nil {
		return fmt.Errorf("sessions repo: %w", err)
	}
	filesRepo, err := repo.NewBoltRepo(boltDB, "files",
		func(f domain.File) uuid.UUID { return f.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(f domain.File) map[string]any {
			return map[string]any{"id": f.ID.String(), "session_id": f.SessionID.String(), "status": string(f.Status)}
		})
	if err != nil {
		return fmt.Errorf("files repo: %w", err)
	}
	runsRepo, err := repo.NewBoltRepo(boltDB, "pipeline_runs",
		func(r domain.PipelineRun) uuid.UUID { return r.ID },
		func(id uuid.UUID) []byte { return []byte(id.String()) },
		func(r domain.PipelineRun) map[string]any {
			return map[string]any{"id": r.ID.String(), "document_id": r.DocumentID.String(), "state": string(r.State)}
		})
	if err != nil {
		return fmt.Errorf("runs repo: %w", err)
	}

	graphStore := relate.New(neo4jDriver)
	elementsRepo := repo.NewUUIDKeyed[domain.Element](relate.NewElementRepo(neo4jDriver))
	relateEngine := relate.NewEngine(graphStore, vectorIndex, relate.Thresholds{})

	uploadMgr := upload.New(upload.Deps{
		Files:             filesRepo,
		Sessions:          sessionsRepo,
		Blobs:             blobs,
		Bus:               eventBus,
		Metrics:           m,
		Logger:            logger,
		MaxSizeBytes:      cfg.UploadMaxBytes,
		AllowedExtensions: allowedExt,
	})

	procRegistry := registry.New()

	g := governor.New(
		governor.Thresholds{High: cfg.ResourceCPUHigh, Low: cfg.ResourceCPULow},
		governor.Thresholds{High: cfg.ResourceMemHigh, Low: cfg.ResourceMemLow},
		0, 5*time.Second, m,
	)
	go g.Run(ctx)

	tracker := progress.New(progress.Config{MinInterval: cfg.ProgressMinInterval, MinDelta: cfg.ProgressMinDelta}, eventBus, m)

	executor := pipeline.NewProcessorExecutor(procRegistry, elementsRepo, tiered, tracker, logger)
	pool := workerpool.New(logger, m, g, executor, map[domain.ConcurrencyClass]workerpool.ClassConfig{
		domain.ClassCooperative: {Workers: cfg.WorkerCooperative, QueueCapacity: cfg.WorkerCooperative * 4, CancelGrace: 5 * time.Second},
		domain.ClassThread:      {Workers: cfg.WorkerThread, QueueCapacity: cfg.WorkerThread * 4, CancelGrace: 10 * time.Second},
		domain.ClassProcess:     {Workers: cfg.WorkerProcess, QueueCapacity: cfg.WorkerProcess * 4, CancelGrace: 30 * time.Second},
	})
	pool.Start(ctx)
	defer pool.Stop()

	pipelineMgr := pipeline.New(pipeline.Deps{
		Runs:     runsRepo,
		Registry: procRegistry,
		Pool:     pool,
		Bus:      eventBus,
		Metrics:  m,
		Logger:   logger,
	})

	specs, err := pipeline.LoadSpecsDir(cfg.PipelineSpecDir)
	if err != nil {
		return fmt.Errorf("load pipeline specs: %w", err)
	}
	for _, spec := range specs {
		if err := pipelineMgr.RegisterSpec(spec); err != nil {
			return fmt.Errorf("register spec %s: %w", spec.Name, err)
		}
	}
	logger.Info("pipeline specs registered", "count", len(specs))

	eventBus.Subscribe(bus.EventRunStateChanged, func(ctx context.Context, ev bus.Event) error {
		run, ok := ev.Payload.(domain.PipelineRun)
		if !ok || run.State != domain.RunCompleted {
			return nil
		}
		existing, err := elementsRepo.List(ctx, repo.ListOpts{
			Filters: []repo.Filter{{Field: "document_id", Operator: repo.OpEq, Value: run.DocumentID.String()}},
			Limit:   100000,
		})
		if err != nil {
			logger.Error("relationship engine: list elements", "run_id", run.ID, "err", err)
			return nil
		}
		result, err := relateEngine.Analyze(ctx, run.DocumentID, existing.Items)
		if err != nil {
			logger.Error("relationship engine: analyze", "run_id", run.ID, "err", err)
			return nil
		}
		if err := relateEngine.Persist(ctx, result); err != nil {
			logger.Error("relationship engine: persist", "run_id", run.ID, "err", err)
		}
		return nil
	}, bus.SubscribeOptions{Mode: bus.ModeSerializedByCorrelation})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      eventBus,
		metrics:  m,
		uploads:  uploadMgr,
		pipeline: pipelineMgr,
		tracker:  tracker,
		registry: procRegistry,
		pool:     pool,
		graph:    graphStore,
		relate:   relateEngine,
		cache:    tiered,
		cacheL2:  l2,
		elements: elementsRepo,
		runs:     runsRepo,
	}

	stopSweeps := a.startSweeps(sessionsRepo)
	defer stopSweeps()

	mux := http.NewServeMux()
	a.routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("documentd"),
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("documentd starting", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// buildCache composes the L1/L2/L3 tiers per spec.md §4.9's persisted
// layout; L3 is only wired when an S3 bucket is configured. l2 is returned
// separately (in addition to being folded into the Tiered) since its
// SweepExpired needs a concrete handle the Tiered interface doesn't expose.
func buildCache(cfg config.Config, logger *slog.Logger) (*cache.Tiered, *cache.L2Disk, error) {
	l1, err := cache.NewL1Mem(cfg.CacheL1Capacity)
	if err != nil {
		return nil, nil, fmt.Errorf("l1: %w", err)
	}
	l2, err := cache.NewL2Disk(cfg.CacheL2Path)
	if err != nil {
		return nil, nil, fmt.Errorf("l2: %w", err)
	}

	tiers := []cache.Tier{l1, l2}
	if cfg.S3Bucket != "" {
		s3Client, err := newS3Client(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("l3: %w", err)
		}
		tiers = append(tiers, cache.NewL3S3(s3Client, cfg.S3Bucket, cfg.S3Prefix))
	}
	return cache.NewTiered(cfg.CacheTTL, logger, tiers...), l2, nil
}

// startSweeps registers the cron-driven background maintenance jobs:
// expired UploadSession closure and L2 cache TTL eviction, both named as
// supplemented needs beyond the core request/response surface.
func (a *app) startSweeps(sessions repo.Repository[domain.UploadSession, uuid.UUID]) func() {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		sweepExpiredSessions(context.Background(), sessions, a.bus, a.logger)
	})
	if err != nil {
		a.logger.Error("schedule session sweep failed", "err", err)
	}
	if a.cacheL2 != nil {
		_, err := c.AddFunc("@every 10m", func() {
			n, err := a.cacheL2.SweepExpired(context.Background())
			if err != nil {
				a.logger.Error("cache sweep failed", "err", err)
				return
			}
			a.logger.Info("cache sweep complete", "evicted", n)
		})
		if err != nil {
			a.logger.Error("schedule cache sweep failed", "err", err)
		}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}

// sweepExpiredSessions closes every UploadSession past its ExpiresAt,
// marking it SessionExpired and publishing a warning event so operators
// can see abandoned uploads drain off the dashboard.
func sweepExpiredSessions(ctx context.Context, sessions repo.Repository[domain.UploadSession, uuid.UUID], b *bus.Bus, logger *slog.Logger) {
	res, err := sessions.List(ctx, repo.ListOpts{
		Filters: []repo.Filter{{Field: "status", Operator: repo.OpEq, Value: string(domain.SessionOpen)}},
		Limit:   10000,
	})
	if err != nil {
		logger.Error("sweep: list sessions failed", "err", err)
		return
	}

	now := time.Now().UTC()
	for _, s := range res.Items {
		if now.Before(s.ExpiresAt) {
			continue
		}
		s.Status = domain.SessionExpired
		if _, err := sessions.Update(ctx, s); err != nil {
			logger.Error("sweep: expire session failed", "session_id", s.ID, "err", err)
			continue
		}
		if b != nil {
			_ = b.Publish(ctx, bus.NewEvent(bus.EventWarning, s.ID, map[string]any{"reason": "session_expired", "session_id": s.ID}))
		}
	}
}

// newS3Client loads AWS credentials via the standard chain (env, shared
// config, instance profile) for the optional L3 cache mirror.
func newS3Client(cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}
