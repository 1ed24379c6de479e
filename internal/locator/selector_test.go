package locator

import (
	"testing"

	"github.com/imdevinc/netinf-node/internal/content"
)

func collect(s *Sequence) []string {
	var out []string
	for s.HasNext() {
		l, _ := s.Next()
		out = append(out, l)
	}
	return out
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSelectPriorityOrder(t *testing.T) {
	obj := &content.Object{
		Attributes: []content.Attribute{
			content.LocatorAttr("a", 5),
			content.LocatorAttr("b", 1),
			content.LocatorAttr("c", -1),
		},
	}

	assertOrder(t, collect(Select(obj)), []string{"b", "a", "c"})
}

func TestSelectStableForEqualPriority(t *testing.T) {
	obj := &content.Object{
		Attributes: []content.Attribute{
			content.LocatorAttr("x", -1),
			content.LocatorAttr("p1", 2),
			content.LocatorAttr("y", -1),
			content.LocatorAttr("p2", 2),
			content.LocatorAttr("explicit", content.NoPriority),
		},
	}

	assertOrder(t, collect(Select(obj)), []string{"p1", "p2", "x", "y", "explicit"})
}

func TestSelectSkipsChunkAndOtherPurposes(t *testing.T) {
	obj := &content.Object{
		Attributes: []content.Attribute{
			{Purpose: "meta", Value: "ignored"},
			{Purpose: content.PurposeLocator, Value: "chunk-loc", Chunk: &content.ChunkAttr{Index: 0}},
			{Purpose: content.PurposeChunk, Chunk: &content.ChunkAttr{Index: 1, Ref: "h"}},
			content.LocatorAttr("whole", 3),
			{Purpose: content.PurposeLocator},
		},
	}

	assertOrder(t, collect(Select(obj)), []string{"whole"})
}

func TestSequenceIsSinglePass(t *testing.T) {
	s := FromStrings([]string{"one", "two"})
	if s.Remaining() != 2 {
		t.Fatalf("expected 2 remaining, got %d", s.Remaining())
	}
	first, ok := s.Next()
	if !ok || first != "one" {
		t.Fatalf("unexpected first: %q %v", first, ok)
	}
	rest := s.Values()
	assertOrder(t, rest, []string{"two"})

	// Mutating the returned copy must not affect the sequence.
	rest[0] = "changed"
	second, _ := s.Next()
	if second != "two" {
		t.Fatalf("sequence affected by Values copy: %q", second)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("expected exhausted sequence")
	}
	if s.HasNext() {
		t.Fatal("HasNext true after exhaustion")
	}
}

func TestSelectDoesNotMutateObject(t *testing.T) {
	obj := &content.Object{
		Attributes: []content.Attribute{
			content.LocatorAttr("late", 9),
			content.LocatorAttr("early", 1),
		},
	}
	_ = collect(Select(obj))
	if obj.Attributes[0].Value != "late" {
		t.Fatal("Select reordered the source attributes")
	}
}
