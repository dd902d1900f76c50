// Package blobstore treats object-storage uploads as an opaque
// BlobStore.Put(key, bytes) -> path collaborator. No example repo in the
// retrieval pack carries an object-storage SDK (S3/GCS/Azure) reachable
// from this domain, so the local implementation here is a filesystem-backed
// stand-in behind the same interface a real uploader would satisfy — see
// DESIGN.md for the full justification.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore persists opaque byte payloads (raw HTML, extracted documents)
// under a caller-chosen key, returning an opaque path/reference.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (path string, err error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// FilesystemStore is a local-disk BlobStore, sharded by the first byte (two
// hex characters) of the key's hash to avoid a single flat directory at scale.
type FilesystemStore struct {
	root string
}

// New creates a FilesystemStore rooted at dir, creating it if absent.
func New(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}
	return &FilesystemStore{root: dir}, nil
}

// Put writes data under a path derived from the SHA-256 of key (not of
// data) and returns it; a second Put with the same key overwrites the first.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	sum := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(sum[:])
	dir := filepath.Join(s.root, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob shard directory: %w", err)
	}
	path := filepath.Join(dir, hash+".html")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

// Get reads back a blob written by Put.
func (s *FilesystemStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}
