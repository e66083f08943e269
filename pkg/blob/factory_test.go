//go:build !gcp

package blob

import (
	"context"
	"strings"
	"testing"
)

func TestNewDefaultsToFS(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(context.Background(), Options{Root: tmpDir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
	if fs.baseDir != tmpDir {
		t.Errorf("baseDir = %s, want %s", fs.baseDir, tmpDir)
	}
}

func TestNewS3MissingBucket(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: BackendS3})
	if err == nil || !strings.Contains(err.Error(), "requires a bucket") {
		t.Errorf("expected missing-bucket error, got %v", err)
	}
}

func TestNewGCSWithoutBuildTag(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: BackendGCS, GCSBucket: "b"})
	if err == nil || !strings.Contains(err.Error(), "not enabled in this build") {
		t.Errorf("expected build-tag error, got %v", err)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "ftp"})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Errorf("expected unsupported-backend error, got %v", err)
	}
}
