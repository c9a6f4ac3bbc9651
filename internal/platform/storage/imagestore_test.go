package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskImageStore_SaveAndRemove(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskImageStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	path, err := store.Save(context.Background(), "chest_xray.png", strings.NewReader("fake image bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(path, "uploads"+string(filepath.Separator)) {
		t.Errorf("expected path under uploads/, got %s", path)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("expected original extension preserved, got %s", path)
	}

	data, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "fake image bytes" {
		t.Errorf("stored content mismatch: %q", data)
	}

	if err := store.Remove(context.Background(), path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, path)); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}

func TestDiskImageStore_NoPartialFileOnSave(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskImageStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.Save(context.Background(), "scan.exe", strings.NewReader("x")); !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty uploads dir, found %d entries", len(entries))
	}
}

func TestImageStore_Validation(t *testing.T) {
	store := NewInMemoryImageStore()
	ctx := context.Background()

	if _, err := store.Save(ctx, "", strings.NewReader("x")); !errors.Is(err, ErrMissingFileName) {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
	if _, err := store.Save(ctx, "report.pdf", strings.NewReader("x")); !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("expected ErrInvalidFileType, got %v", err)
	}
}

func TestInMemoryImageStore_DistinctPathsPerUpload(t *testing.T) {
	store := NewInMemoryImageStore()
	ctx := context.Background()

	p1, err := store.Save(ctx, "same.png", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	p2, err := store.Save(ctx, "same.png", strings.NewReader("b"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p1 == p2 {
		t.Error("two uploads of the same file name must not collide")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 stored images, got %d", store.Len())
	}
}

func TestInMemoryImageStore_FailSave(t *testing.T) {
	store := NewInMemoryImageStore()
	store.FailSave = true

	if _, err := store.Save(context.Background(), "a.png", strings.NewReader("x")); !errors.Is(err, ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}
