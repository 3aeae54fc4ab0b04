// Package storage provides durable byte storage for uploaded file content
// and backup copies, addressed by opaque keys. Blobs are write-once: a key
// is never rewritten after it becomes visible, except through Overwrite on
// the restore path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	errMissingFilesystem = errors.New("filesystem handle is required")
	errMissingRoot       = errors.New("storage root is required")
)

// BlobStore is the content boundary shared by the file catalog and the
// backup engine.
type BlobStore interface {
	// Put streams content into a fresh blob and returns its key and size.
	Put(ctx context.Context, content io.Reader) (string, int64, error)
	// Copy duplicates an existing blob into a fresh key. The copy is atomic:
	// the new key is either fully materialized or absent.
	Copy(ctx context.Context, srcKey string) (string, error)
	// Overwrite replaces the content behind dstKey with the bytes of srcKey.
	Overwrite(ctx context.Context, dstKey, srcKey string) error
	// Open returns a reader over the blob's content.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether the key is fully materialized.
	Exists(ctx context.Context, key string) bool
}

// DiskStoreConfig describes the dependencies of the filesystem-backed store.
type DiskStoreConfig struct {
	Filesystem afero.Fs
	Root       string
}

// DiskStore keeps each blob as a single file named by a UUID under Root.
// Writes land under a temporary name and are renamed into place, so a
// partially written blob is never visible under Exists.
type DiskStore struct {
	fs   afero.Fs
	root string
}

// NewDiskStore validates the configuration and ensures the root directory exists.
func NewDiskStore(cfg DiskStoreConfig) (*DiskStore, error) {
	if cfg.Filesystem == nil {
		return nil, errMissingFilesystem
	}
	if cfg.Root == "" {
		return nil, errMissingRoot
	}
	if err := cfg.Filesystem.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{fs: cfg.Filesystem, root: cfg.Root}, nil
}

func (s *DiskStore) Put(ctx context.Context, content io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	key := uuid.NewString()
	size, err := s.writeBlob(key, content)
	if err != nil {
		return "", 0, err
	}
	return key, size, nil
}

func (s *DiskStore) Copy(ctx context.Context, srcKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := s.fs.Open(s.path(srcKey))
	if err != nil {
		return "", fmt.Errorf("open source blob %s: %w", srcKey, err)
	}
	defer src.Close()

	key := uuid.NewString()
	if _, err := s.writeBlob(key, src); err != nil {
		return "", err
	}
	return key, nil
}

func (s *DiskStore) Overwrite(ctx context.Context, dstKey, srcKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.fs.Open(s.path(srcKey))
	if err != nil {
		return fmt.Errorf("open source blob %s: %w", srcKey, err)
	}
	defer src.Close()

	dst, err := s.fs.OpenFile(s.path(dstKey), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open destination blob %s: %w", dstKey, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("overwrite blob %s: %w", dstKey, err)
	}
	return dst.Close()
}

func (s *DiskStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.fs.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return file, nil
}

func (s *DiskStore) Exists(_ context.Context, key string) bool {
	ok, err := afero.Exists(s.fs, s.path(key))
	return err == nil && ok
}

// writeBlob stages content under a temporary name and renames it into place.
func (s *DiskStore) writeBlob(key string, content io.Reader) (int64, error) {
	stagingPath := s.path(key) + ".partial"
	staging, err := s.fs.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("stage blob %s: %w", key, err)
	}

	size, err := io.Copy(staging, content)
	if err != nil {
		staging.Close()
		_ = s.fs.Remove(stagingPath)
		return 0, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := staging.Close(); err != nil {
		_ = s.fs.Remove(stagingPath)
		return 0, fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := s.fs.Rename(stagingPath, s.path(key)); err != nil {
		_ = s.fs.Remove(stagingPath)
		return 0, fmt.Errorf("publish blob %s: %w", key, err)
	}
	return size, nil
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.root, key)
}
