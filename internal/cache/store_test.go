package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.CacheConfig{
		Enabled:   true,
		Path:      filepath.Join(tmp, "cache.db"),
		Directory: filepath.Join(tmp, "voices"),
		MaxBytes:  maxBytes,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.CacheConfig{Enabled: false}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Enabled() {
		t.Fatal("disabled cache should not be enabled")
	}
	entry, err := s.Lookup(context.Background(), "anything")
	if err != nil || entry != nil {
		t.Fatalf("disabled lookup should be a miss, got %v %v", entry, err)
	}
}

func TestKeyCoversRequestParameters(t *testing.T) {
	base := synth.Request{Text: "hello", Voice: "Joanna"}
	other := base
	other.Voice = "Amy"
	if Key(base) == Key(other) {
		t.Fatal("different voices must produce different keys")
	}
	if Key(base) != Key(base) {
		t.Fatal("key must be deterministic")
	}
}

func TestInsertAndLookup(t *testing.T) {
	s := newStore(t, 1_000_000)
	path := s.FilePath("abc", "pcm")
	writeFile(t, path, 100)

	if err := s.Insert(context.Background(), Entry{Hash: "abc", Path: path, AudioType: "wav", Size: 100}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	entry, err := s.Lookup(context.Background(), "abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry == nil || entry.Path != path {
		t.Fatalf("expected hit for abc, got %+v", entry)
	}
	if miss, _ := s.Lookup(context.Background(), "nope"); miss != nil {
		t.Fatalf("expected miss, got %+v", miss)
	}
}

func TestLookupDropsVanishedFile(t *testing.T) {
	s := newStore(t, 1_000_000)
	path := s.FilePath("gone", "pcm")
	writeFile(t, path, 50)
	if err := s.Insert(context.Background(), Entry{Hash: "gone", Path: path, AudioType: "wav", Size: 50}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	entry, err := s.Lookup(context.Background(), "gone")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected miss after file vanished, got %+v", entry)
	}
	size, err := s.TotalSize(context.Background())
	if err != nil {
		t.Fatalf("total size: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected empty cache, got %d bytes", size)
	}
}

func TestEvictionKeepsMostRecentlyUsed(t *testing.T) {
	s := newStore(t, 250)
	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	pathA := s.FilePath("aaa", "pcm")
	writeFile(t, pathA, 100)
	if err := s.Insert(context.Background(), Entry{Hash: "aaa", Path: pathA, AudioType: "wav", Size: 100}); err != nil {
		t.Fatalf("insert aaa: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC) }
	pathB := s.FilePath("bbb", "pcm")
	writeFile(t, pathB, 100)
	if err := s.Insert(context.Background(), Entry{Hash: "bbb", Path: pathB, AudioType: "wav", Size: 100}); err != nil {
		t.Fatalf("insert bbb: %v", err)
	}

	// Pushes total to 300, over the 250 budget; "aaa" is the LRU victim.
	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC) }
	pathC := s.FilePath("ccc", "pcm")
	writeFile(t, pathC, 100)
	if err := s.Insert(context.Background(), Entry{Hash: "ccc", Path: pathC, AudioType: "wav", Size: 100}); err != nil {
		t.Fatalf("insert ccc: %v", err)
	}

	if entry, _ := s.Lookup(context.Background(), "aaa"); entry != nil {
		t.Fatalf("expected aaa evicted, got %+v", entry)
	}
	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Fatalf("expected aaa file removed, stat err=%v", err)
	}
	if entry, _ := s.Lookup(context.Background(), "ccc"); entry == nil {
		t.Fatal("expected ccc retained")
	}
}
