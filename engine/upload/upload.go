package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// Deps holds the Upload Manager's external dependencies, following the
// teacher's engine/ingest.Deps convention of an explicit struct threaded
// into constructors rather than package-level state.
type Deps struct {
	Files    repo.Repository[domain.File, uuid.UUID]
	Sessions repo.Repository[domain.UploadSession, uuid.UUID]
	Blobs    *BlobStore
	Bus      *bus.Bus
	Metrics  *metrics.Registry
	Logger   *slog.Logger

	MaxSizeBytes     int64
	AllowedExtensions map[string]bool
}

// Manager implements spec.md §4.3's open_session/upload/finalize contract.
type Manager struct {
	deps Deps
	log  *slog.Logger
}

func New(deps Deps) *Manager {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{deps: deps, log: log}
}

// OpenSession creates an UploadSession for owner with the given TTL.
func (m *Manager) OpenSession(ctx context.Context, owner string, ttl time.Duration) (uuid.UUID, error) {
	now := time.Now().UTC()
	session := domain.UploadSession{
		ID:        uuid.New(),
		Owner:     owner,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    domain.SessionOpen,
	}
	created, err := m.deps.Sessions.Create(ctx, session)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload: open session: %w", err)
	}
	return created.ID, nil
}

// Upload streams r into the content-addressed store, validates it, and
// records a File. It emits file.received immediately and then either
// file.validated + file.stored or file.rejected, per spec.md §4.3.
func (m *Manager) Upload(ctx context.Context, sessionID uuid.UUID, filename, declaredMIME string, r io.Reader) (domain.File, error) {
	session, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.File{}, fmt.Errorf("upload: lookup session: %w", err)
	}
	if err := session.EnsureOpen(time.Now().UTC()); err != nil {
		if m.deps.Metrics != nil && err == domain.ErrSessionExpired {
			m.deps.Metrics.SessionsExpired.Inc()
		}
		return domain.File{}, err
	}

	file := domain.File{
		ID:           uuid.New(),
		DeclaredMIME: declaredMIME,
		SessionID:    sessionID,
		Status:       domain.FileReceived,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.publish(ctx, bus.EventFileReceived, sessionID, file)

	tempPath, err := m.deps.Blobs.Stage(r)
	if err != nil {
		return domain.File{}, fmt.Errorf("upload: stage: %w", err)
	}

	report, hash, detectedMIME, err := Validate(ctx, tempPath, filename, declaredMIME, m.deps.MaxSizeBytes, m.deps.AllowedExtensions)
	if err != nil {
		m.deps.Blobs.Discard(tempPath)
		return domain.File{}, fmt.Errorf("upload: validate: %w", err)
	}

	file.ContentHash = hash
	file.DetectedMIME = detectedMIME
	file.Validation = &report
	if info, statErr := os.Stat(tempPath); statErr == nil {
		file.Size = info.Size()
	}

	if !report.Passed() {
		m.deps.Blobs.Discard(tempPath)
		if err := file.Transition(domain.FileRejected); err != nil {
			return domain.File{}, err
		}
		if m.deps.Metrics != nil {
			reason := "unknown"
			if len(report.Reasons) > 0 {
				reason = report.Reasons[0]
			}
			m.deps.Metrics.FilesRejected.WithLabelValues(reason).Inc()
		}
		created, err := m.deps.Files.Create(ctx, file)
		if err != nil {
			return domain.File{}, fmt.Errorf("upload: persist rejected file: %w", err)
		}
		m.publish(ctx, bus.EventFileRejected, sessionID, created)
		return created, domain.ErrValidationFailed
	}

	if _, err := m.deps.Blobs.Commit(tempPath, hash); err != nil {
		return domain.File{}, fmt.Errorf("upload: commit: %w", err)
	}
	file.SourcePath = m.deps.Blobs.PathFor(hash)

	if err := file.Transition(domain.FileValidated); err != nil {
		return domain.File{}, err
	}
	created, err := m.deps.Files.Create(ctx, file)
	if err != nil {
		return domain.File{}, fmt.Errorf("upload: persist file: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.FilesReceived.WithLabelValues(detectedMIME).Inc()
		m.deps.Metrics.UploadBytesTotal.Add(float64(created.Size))
	}

	m.publish(ctx, bus.EventFileValidated, sessionID, created)
	m.publish(ctx, bus.EventFileStored, sessionID, created)

	session.FileIDs = append(session.FileIDs, created.ID)
	if _, err := m.deps.Sessions.Update(ctx, session); err != nil {
		m.log.Warn("upload: failed to record file on session", "session_id", sessionID, "error", err)
	}

	return created, nil
}

// Finalize closes the session to further uploads and returns a summary.
func (m *Manager) Finalize(ctx context.Context, sessionID uuid.UUID) (domain.SessionSummary, error) {
	session, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("upload: lookup session: %w", err)
	}
	now := time.Now().UTC()
	if err := session.Finalize(now); err != nil {
		return domain.SessionSummary{}, err
	}
	if _, err := m.deps.Sessions.Update(ctx, session); err != nil {
		return domain.SessionSummary{}, fmt.Errorf("upload: persist finalize: %w", err)
	}
	return domain.SessionSummary{
		SessionID:   sessionID,
		FileCount:   len(session.FileIDs),
		AcceptedIDs: session.FileIDs,
		ClosedAt:    now,
	}, nil
}

func (m *Manager) publish(ctx context.Context, t bus.EventType, correlationID uuid.UUID, file domain.File) {
	if m.deps.Bus == nil {
		return
	}
	if err := m.deps.Bus.Publish(ctx, bus.NewEvent(t, correlationID, file)); err != nil {
		m.log.Warn("upload: event publish dropped", "event", t, "error", err)
	}
}
