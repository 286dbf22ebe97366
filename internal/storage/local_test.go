package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoreSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	key := "sess-1/preview/take.wav"
	data := []byte("RIFFxxxxWAVE")
	if err := s.Save(ctx, key, data, "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !s.Exists(ctx, key) {
		t.Error("Exists = false after Save")
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("read back %q, want %q", got, data)
	}

	want := filepath.Join(dir, key)
	if p := s.LocalPath(key); p != want {
		t.Errorf("LocalPath = %q, want %q", p, want)
	}
}

func TestLocalStoreMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	if s.Exists(ctx, "nope/preview/x.wav") {
		t.Error("Exists = true for missing artifact")
	}
	if p := s.LocalPath("nope/preview/x.wav"); p != "" {
		t.Errorf("LocalPath = %q, want empty", p)
	}
	if _, err := s.Open(ctx, "nope/preview/x.wav"); err == nil {
		t.Error("Open of missing artifact did not error")
	}
}

func TestLocalStoreOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	key := "sess-1/final/master.wav"
	if err := s.Save(ctx, key, []byte("v1"), "audio/wav"); err != nil {
		t.Fatalf("Save v1: %v", err)
	}
	if err := s.Save(ctx, key, []byte("v2"), "audio/wav"); err != nil {
		t.Fatalf("Save v2: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("content = %q, want v2", got)
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "sess-1", "final"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestLocalStoreURLEmpty(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	url, err := s.URL(context.Background(), "k")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "" {
		t.Errorf("URL = %q, want empty for local store", url)
	}
}
