package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcherOfflineScan(t *testing.T) {
	store := createTestStore(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("already here"), 0644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip me"), 0644)

	pub, err := New(store, Config{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w, err := NewWatcher(dir, pub, store)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, ok := w.PublishedURI("existing.txt"); !ok {
		t.Error("Expected existing file to be published by the offline scan")
	}
	if _, ok := w.PublishedURI(".hidden"); ok {
		t.Error("Hidden files should be skipped")
	}

	objs, _ := store.Objects()
	if len(objs) != 1 {
		t.Errorf("Expected 1 published object, got %d", len(objs))
	}
}

func TestWatcherOfflineScanSkipsUnchanged(t *testing.T) {
	store := createTestStore(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644)

	pub, _ := New(store, Config{}, nil)

	first, _ := NewWatcher(dir, pub, store)
	first.Start(context.Background())
	first.Stop()

	uri, _ := first.PublishedURI("a.txt")
	store.Delete(fileURIPrefix + "a.txt")

	second, _ := NewWatcher(dir, pub, store)
	second.Start(context.Background())
	defer second.Stop()

	if _, ok := second.PublishedURI("a.txt"); ok {
		t.Errorf("Unchanged file %s should not be republished", uri)
	}
}

func TestWatcherPublishesNewFiles(t *testing.T) {
	store := createTestStore(t)
	dir := t.TempDir()

	pub, _ := New(store, Config{}, nil)
	w, err := NewWatcher(dir, pub, store)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh"), 0644)
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := w.PublishedURI("new.txt")
		return ok
	}) {
		t.Fatal("New file was not published")
	}

	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0755)
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("nested"), 0644)
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := w.PublishedURI("sub/nested.txt")
		return ok
	}) {
		t.Error("File in new subdirectory was not published")
	}

	os.Remove(filepath.Join(dir, "new.txt"))
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := w.PublishedURI("new.txt")
		return !ok
	}) {
		t.Error("Removed file should be forgotten")
	}
}

func TestNewWatcherEmptyDir(t *testing.T) {
	store := createTestStore(t)
	pub, _ := New(store, Config{}, nil)
	if _, err := NewWatcher("", pub, store); err == nil {
		t.Error("Expected error for empty directory")
	}
}
