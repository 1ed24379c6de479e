package content

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/imdevinc/netinf-node/internal/transfer"
)

func TestParseHandle(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    Handle
		wantErr bool
	}{
		{"NoAuthority", "ni:///sha-256;abc", Handle{"sha-256", "abc"}, false},
		{"WithAuthority", "ni://example.com/sha-256;abc", Handle{"sha-256", "abc"}, false},
		{"WithQuery", "ni:///sha-256;abc?ct=text/plain", Handle{"sha-256", "abc"}, false},
		{"UpperScheme", "NI:///sha-256;abc", Handle{"sha-256", "abc"}, false},
		{"WrongScheme", "http:///sha-256;abc", Handle{}, true},
		{"MissingValue", "ni:///sha-256;", Handle{}, true},
		{"MissingSeparator", "ni:///sha-256abc", Handle{}, true},
		{"MissingPath", "ni://host", Handle{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHandle(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, transfer.ErrInvalidObject) {
					t.Fatalf("expected ErrInvalidObject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestHandleURIRoundTrip(t *testing.T) {
	h := Handle{Algorithm: "sha-256", Value: "f4OxZX_x_FO5LcGBSKHWXfwtSx-j1ncoSt3SABJtkGk"}
	got, err := ParseHandle(h.URI())
	if err != nil {
		t.Fatalf("ParseHandle failed: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestSchemeAndAddress(t *testing.T) {
	tests := []struct {
		locator string
		scheme  string
		address string
	}{
		{"tcp://10.0.0.1:9000", "tcp", "10.0.0.1:9000"},
		{"BT://AA:BB:CC:DD:EE:FF", "bt", "AA:BB:CC:DD:EE:FF"},
		{"http://cache.local:8080", "http", "cache.local:8080"},
		{"deadbeef", "", "deadbeef"},
		{"://x", "", "x"},
	}
	for _, tt := range tests {
		if got := Scheme(tt.locator); got != tt.scheme {
			t.Errorf("Scheme(%q) = %q, want %q", tt.locator, got, tt.scheme)
		}
		if got := Address(tt.locator); got != tt.address {
			t.Errorf("Address(%q) = %q, want %q", tt.locator, got, tt.address)
		}
	}
}

func TestChunksOrderedByIndex(t *testing.T) {
	obj := &Object{
		Handle: Handle{"sha-256", "whole"},
		Attributes: []Attribute{
			LocatorAttr("tcp://a:1", 1),
			{Purpose: PurposeChunk, Chunk: &ChunkAttr{Index: 2, Ref: "h2", Size: 3, Offset: 6}},
			{Purpose: PurposeChunk, Chunk: &ChunkAttr{Index: 0, Ref: "h0", Size: 3, Offset: 0}},
			{Purpose: PurposeChunk, Chunk: &ChunkAttr{
				Index: 1, Ref: "tcp://b:1", Size: 3, Offset: 3,
				Locators: []Attribute{LocatorAttr("tcp://d:1", -1), LocatorAttr("tcp://c:1", 0)},
			}},
		},
	}

	if !obj.Chunkable() {
		t.Fatal("expected object to be chunkable")
	}

	chunks, err := obj.Chunks()
	if err != nil {
		t.Fatalf("Chunks failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if chunks[0].Hash != "h0" || len(chunks[0].Locators) != 0 {
		t.Errorf("unexpected chunk 0: %+v", chunks[0])
	}
	want := []string{"tcp://b:1", "tcp://c:1", "tcp://d:1"}
	if len(chunks[1].Locators) != len(want) {
		t.Fatalf("unexpected chunk 1 locators: %v", chunks[1].Locators)
	}
	for i := range want {
		if chunks[1].Locators[i] != want[i] {
			t.Errorf("chunk 1 locator %d = %q, want %q", i, chunks[1].Locators[i], want[i])
		}
	}
}

func TestChunksRejectsDuplicates(t *testing.T) {
	obj := &Object{
		Attributes: []Attribute{
			{Purpose: PurposeChunk, Chunk: &ChunkAttr{Index: 0, Ref: "a"}},
			{Purpose: PurposeChunk, Chunk: &ChunkAttr{Index: 0, Ref: "b"}},
		},
	}
	if _, err := obj.Chunks(); !errors.Is(err, transfer.ErrInvalidObject) {
		t.Fatalf("expected ErrInvalidObject, got %v", err)
	}
}

func TestObjectJSON(t *testing.T) {
	raw := `{
		"handle": {"alg": "sha-256", "hash": "abc"},
		"attributes": [
			{"purpose": "locator", "value": "tcp://a:1", "priority": 5},
			{"purpose": "locator", "value": "bt://AA:BB:CC:DD:EE:FF"}
		]
	}`
	var obj Object
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if obj.Handle.Value != "abc" {
		t.Errorf("unexpected handle: %+v", obj.Handle)
	}
	if got := obj.Attributes[0].PriorityOrDefault(); got != 5 {
		t.Errorf("expected priority 5, got %d", got)
	}
	if got := obj.Attributes[1].PriorityOrDefault(); got != NoPriority {
		t.Errorf("expected NoPriority, got %d", got)
	}
	if obj.Chunkable() {
		t.Error("object without chunks reported chunkable")
	}
}
