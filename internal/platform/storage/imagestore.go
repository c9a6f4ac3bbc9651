// Package storage persists uploaded medical images. It defines the
// ImageStore interface, a disk-backed implementation used by the server, and
// an in-memory implementation for tests.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrInvalidFileType = errors.New("file type is not allowed")
	ErrMissingFileName = errors.New("file name is required")

	// ErrWrite wraps any I/O failure while persisting an image. Callers map
	// it to a storage error response.
	ErrWrite = errors.New("image write failed")
)

// MaxImageSize is the maximum allowed upload size in bytes (100 MB).
const MaxImageSize = 100 * 1024 * 1024

// copyChunkSize bounds memory use while streaming uploads to disk.
const copyChunkSize = 1024 * 1024

// AllowedExtensions lists accepted medical image file extensions.
var AllowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".dcm":  true,
}

// ImageStore persists uploaded images under deterministic relative paths.
type ImageStore interface {
	// Save streams content to storage and returns the stored relative path.
	// The original file name contributes only its extension; the path itself
	// is derived from a fresh identifier.
	Save(ctx context.Context, fileName string, content io.Reader) (string, error)
	// Remove deletes a stored image. Used to undo an upload whose database
	// writes did not commit.
	Remove(ctx context.Context, path string) error
}

func storagePath(fileName string) (string, error) {
	if fileName == "" {
		return "", ErrMissingFileName
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !AllowedExtensions[ext] {
		return "", fmt.Errorf("%q: %w", ext, ErrInvalidFileType)
	}
	return filepath.Join("uploads", uuid.New().String()+ext), nil
}

// DiskImageStore writes images under a root data directory.
type DiskImageStore struct {
	root string
}

// NewDiskImageStore creates the uploads directory under root if needed.
func NewDiskImageStore(root string) (*DiskImageStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "uploads"), 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &DiskImageStore{root: root}, nil
}

// Save streams content to a temporary file in bounded chunks, then renames it
// into place, so a failed write never leaves a partial image behind.
func (s *DiskImageStore) Save(_ context.Context, fileName string, content io.Reader) (string, error) {
	rel, err := storagePath(fileName)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, rel)

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()

	buf := make([]byte, copyChunkSize)
	n, err := io.CopyBuffer(tmp, io.LimitReader(content, MaxImageSize+1), buf)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if n > MaxImageSize {
		os.Remove(tmpName)
		return "", ErrFileTooLarge
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return rel, nil
}

func (s *DiskImageStore) Remove(_ context.Context, path string) error {
	return os.Remove(filepath.Join(s.root, path))
}

// InMemoryImageStore is a thread-safe ImageStore for tests.
type InMemoryImageStore struct {
	mu     sync.RWMutex
	images map[string][]byte

	// FailSave forces Save to fail, for exercising storage error paths.
	FailSave bool
}

func NewInMemoryImageStore() *InMemoryImageStore {
	return &InMemoryImageStore{images: make(map[string][]byte)}
}

func (s *InMemoryImageStore) Save(_ context.Context, fileName string, content io.Reader) (string, error) {
	if s.FailSave {
		return "", fmt.Errorf("%w: simulated failure", ErrWrite)
	}
	rel, err := storagePath(fileName)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(content, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if n > MaxImageSize {
		return "", ErrFileTooLarge
	}

	s.mu.Lock()
	s.images[rel] = buf.Bytes()
	s.mu.Unlock()
	return rel, nil
}

func (s *InMemoryImageStore) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.images, path)
	s.mu.Unlock()
	return nil
}

// Get returns stored content, for test assertions.
func (s *InMemoryImageStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.images[path]
	return data, ok
}

// Len returns the number of stored images.
func (s *InMemoryImageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}
