package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/imdevinc/netinf-node/internal/content"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestContentRoundTrip(t *testing.T) {
	store := createTestStore(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("hello world")},
		{"compressible", bytes.Repeat([]byte("netinf "), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.PutContent(tt.name, tt.data); err != nil {
				t.Fatalf("PutContent failed: %v", err)
			}
			got, err := store.GetContent(tt.name)
			if err != nil {
				t.Fatalf("GetContent failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("Content mismatch: got %d bytes, want %d", len(got), len(tt.data))
			}
			if !store.HasContent(tt.name) {
				t.Error("Expected HasContent to be true")
			}
		})
	}
}

func TestContentMissingAndDelete(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.GetContent("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.PutContent("", []byte("x")); err == nil {
		t.Error("Expected error for empty hash")
	}

	store.PutContent("h", []byte("data"))
	if err := store.DeleteContent("h"); err != nil {
		t.Fatalf("DeleteContent failed: %v", err)
	}
	if store.HasContent("h") {
		t.Error("Expected content to be deleted")
	}
}

func TestContentKeys(t *testing.T) {
	store := createTestStore(t)
	store.PutContent("b", []byte("2"))
	store.PutContent("a", []byte("1"))

	keys, err := store.ContentKeys()
	if err != nil {
		t.Fatalf("ContentKeys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected [a b], got %v", keys)
	}
}

func TestObjects(t *testing.T) {
	store := createTestStore(t)

	obj := &content.Object{
		Handle: content.Handle{Algorithm: "sha-256", Value: "abc"},
		Attributes: []content.Attribute{
			content.LocatorAttr("tcp://10.0.0.1:7000", 1),
			{Purpose: content.PurposeChunk, Chunk: &content.ChunkAttr{Index: 0, Ref: "c0", Size: 4}},
		},
	}
	if err := store.PutObject(obj); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	got, err := store.GetObject(obj.Handle.URI())
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got.Handle != obj.Handle {
		t.Errorf("Expected handle %v, got %v", obj.Handle, got.Handle)
	}
	if len(got.Attributes) != 2 || *got.Attributes[0].Priority != 1 || got.Attributes[1].Chunk.Ref != "c0" {
		t.Errorf("Attributes not preserved: %+v", got.Attributes)
	}

	all, err := store.Objects()
	if err != nil {
		t.Fatalf("Objects failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 object, got %d", len(all))
	}

	if err := store.DeleteObject(obj.Handle.URI()); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if _, err := store.GetObject(obj.Handle.URI()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestStateSetGet(t *testing.T) {
	store := createTestStore(t)

	if err := store.Set("key1", "value1"); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	value, err := store.Get("key1")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if value != "value1" {
		t.Errorf("Expected 'value1', got '%s'", value)
	}

	if _, err := store.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if v := store.GetWithDefault("nonexistent", "fallback"); v != "fallback" {
		t.Errorf("Expected fallback, got %s", v)
	}

	store.Delete("key1")
	if _, err := store.Get("key1"); err == nil {
		t.Error("Expected key to be deleted")
	}
}

func TestStatePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	store1.Set("persistent", "value")
	store1.PutContent("h", []byte("kept"))
	store1.Close()

	store2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store2.Close()

	if v, err := store2.Get("persistent"); err != nil || v != "value" {
		t.Errorf("Expected persisted state, got %q (%v)", v, err)
	}
	if data, err := store2.GetContent("h"); err != nil || string(data) != "kept" {
		t.Errorf("Expected persisted content, got %q (%v)", data, err)
	}
}
