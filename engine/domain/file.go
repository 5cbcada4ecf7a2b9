package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle state of an uploaded File.
type FileStatus string

const (
	FileReceived   FileStatus = "received"
	FileValidated  FileStatus = "validated"
	FileRejected   FileStatus = "rejected"
	FileQueued     FileStatus = "queued"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// fileTransitions enumerates the legal FileStatus graph from spec.md §3:
// received → validated → processing → {completed|failed}; rejected only
// reachable from received; queued sits between validated and processing.
var fileTransitions = map[FileStatus]map[FileStatus]bool{
	FileReceived:   {FileValidated: true, FileRejected: true},
	FileValidated:  {FileQueued: true, FileProcessing: true},
	FileQueued:     {FileProcessing: true},
	FileProcessing: {FileCompleted: true, FileFailed: true},
	FileCompleted:  {},
	FileFailed:     {},
	FileRejected:   {},
}

// Terminal reports whether s accepts no further transitions.
func (s FileStatus) Terminal() bool {
	return s == FileCompleted || s == FileFailed || s == FileRejected
}

// ValidationReport records the outcome of the Upload Manager's validation
// pipeline for a single File.
type ValidationReport struct {
	SizeOK         bool
	ExtensionOK    bool
	MagicByteMatch bool
	CorruptionFree bool
	SecurityFlags  []string
	Reasons        []string
}

// Passed reports whether every check in the report succeeded and no security
// heuristic fired.
func (r ValidationReport) Passed() bool {
	return r.SizeOK && r.ExtensionOK && r.MagicByteMatch && r.CorruptionFree && len(r.SecurityFlags) == 0
}

// File is one uploaded object tracked by the Upload Manager.
type File struct {
	ID           uuid.UUID
	ContentHash  string // sha-256 hex of the full byte stream
	DeclaredMIME string
	DetectedMIME string
	Size         int64
	SourcePath   string // store://<hash[:2]>/<hash>
	SessionID    uuid.UUID
	Status       FileStatus
	Validation   *ValidationReport
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition moves f to next, rejecting any edge not present in
// fileTransitions. Terminal states are immutable: any attempted transition
// out of one fails regardless of target.
func (f *File) Transition(next FileStatus) error {
	if f.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, f.Status)
	}
	allowed, ok := fileTransitions[f.Status]
	if !ok || !allowed[next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, next)
	}
	f.Status = next
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// SessionStatus is the lifecycle state of an UploadSession.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionFinalized SessionStatus = "finalized"
	SessionExpired   SessionStatus = "expired"
)

// UploadSession groups files uploaded by one client within a bounded window.
// Sessions cannot be reopened once finalized or expired.
type UploadSession struct {
	ID        uuid.UUID
	Owner     string
	CreatedAt time.Time
	ExpiresAt time.Time
	FileIDs   []uuid.UUID
	Status    SessionStatus
}

// Expired reports whether the session's TTL has elapsed as of now.
func (s UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EnsureOpen returns ErrSessionExpired / ErrSessionClosed if the session can
// no longer accept uploads, promoting an expired-but-not-yet-swept session to
// SessionExpired as a side effect.
func (s *UploadSession) EnsureOpen(now time.Time) error {
	if s.Status == SessionFinalized {
		return ErrSessionClosed
	}
	if s.Status == SessionExpired || s.Expired(now) {
		s.Status = SessionExpired
		return ErrSessionExpired
	}
	return nil
}

// Finalize closes the session to further uploads, returning the EnsureOpen
// error if the session is already finalized or expired.
func (s *UploadSession) Finalize(now time.Time) error {
	if err := s.EnsureOpen(now); err != nil {
		return err
	}
	s.Status = SessionFinalized
	return nil
}

// SessionSummary is returned by Finalize.
type SessionSummary struct {
	SessionID    uuid.UUID
	FileCount    int
	AcceptedIDs  []uuid.UUID
	ClosedAt     time.Time
}
