// Package upload implements the Upload Manager: session bookkeeping,
// streaming intake, a validation pipeline, and content-addressed storage.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore is the content-addressed byte store described in spec.md's
// persisted layout: `<root>/blobs/<hash[:2]>/<hash>`. Objects are immutable
// once committed, so no locking is required on the read path.
type BlobStore struct {
	root string
}

// NewBlobStore roots a store at dir, creating it if absent.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &BlobStore{root: dir}, nil
}

// PathFor returns the content-addressed path for hash, whether or not the
// object has been committed yet.
func (s *BlobStore) PathFor(hash string) string {
	return filepath.Join(s.root, "blobs", hash[:2], hash)
}

// Stage writes r to a temporary file under the store root and returns its
// path, for the caller to hash while streaming and then Commit once the
// final hash is known.
func (s *BlobStore) Stage(r io.Reader) (tmpPath string, err error) {
	tmp, err := os.CreateTemp(s.root, "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("blobstore: stage temp file: %w", err)
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, r); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blobstore: write temp file: %w", err)
	}
	return tmp.Name(), nil
}

// Commit moves the staged file at tmpPath into its content-addressed
// location for hash. If an object already exists at that hash (dedup),
// the staged file is discarded and the existing object is kept.
func (s *BlobStore) Commit(tmpPath, hash string) (path string, err error) {
	dest := s.PathFor(hash)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpPath)
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: create object dir: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: commit object: %w", err)
	}
	return dest, nil
}

// Discard removes a staged temp file for a rejected upload.
func (s *BlobStore) Discard(tmpPath string) {
	os.Remove(tmpPath)
}

// Open returns a reader over a committed object.
func (s *BlobStore) Open(hash string) (io.ReadCloser, error) {
	return os.Open(s.PathFor(hash))
}
