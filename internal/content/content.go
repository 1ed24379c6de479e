package content

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imdevinc/netinf-node/internal/transfer"
)

const (
	// PurposeLocator tags an attribute carrying a locator string.
	PurposeLocator = "locator"
	// PurposeChunk tags an attribute describing one byte range of the object.
	PurposeChunk = "chunk"

	// NoPriority is the priority assumed for locators that carry none.
	NoPriority = 9999

	niScheme = "ni://"
)

// Handle identifies content independent of its location.
type Handle struct {
	Algorithm string `json:"alg"`
	Value     string `json:"hash"`
}

// URI renders the handle as an authority-less ni URI (ni:///alg;value).
func (h Handle) URI() string {
	return fmt.Sprintf("ni:///%s;%s", h.Algorithm, h.Value)
}

func (h Handle) String() string {
	return h.URI()
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.Algorithm == "" && h.Value == ""
}

// ParseHandle parses ni:///alg;value and ni://authority/alg;value.
func ParseHandle(uri string) (Handle, error) {
	if !strings.HasPrefix(strings.ToLower(uri), niScheme) {
		return Handle{}, fmt.Errorf("%w: not an ni URI: %q", transfer.ErrInvalidObject, uri)
	}
	rest := uri[len(niScheme):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Handle{}, fmt.Errorf("%w: missing path in %q", transfer.ErrInvalidObject, uri)
	}
	rest = rest[slash+1:]
	// Drop any query part (?ct=...).
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	alg, value, ok := strings.Cut(rest, ";")
	if !ok || alg == "" || value == "" {
		return Handle{}, fmt.Errorf("%w: malformed ni path in %q", transfer.ErrInvalidObject, uri)
	}
	return Handle{Algorithm: alg, Value: value}, nil
}

// Scheme returns the lower-cased scheme token of a locator, or "" when the
// locator carries no "scheme://" prefix.
func Scheme(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(locator[:i])
}

// Address strips the scheme prefix from a locator.
func Address(locator string) string {
	i := strings.Index(locator, "://")
	if i < 0 {
		return locator
	}
	return locator[i+3:]
}

// IsLocator reports whether s looks like a scheme-prefixed locator rather
// than a bare hash.
func IsLocator(s string) bool {
	return Scheme(s) != ""
}

// Attribute is one entry of a content object's attribute set.
type Attribute struct {
	Purpose  string     `json:"purpose"`
	Value    string     `json:"value,omitempty"`
	Priority *int       `json:"priority,omitempty"`
	Chunk    *ChunkAttr `json:"chunk,omitempty"`
}

// PriorityOrDefault returns the priority sub-attribute or NoPriority.
func (a Attribute) PriorityOrDefault() int {
	if a.Priority == nil {
		return NoPriority
	}
	return *a.Priority
}

// ChunkAttr is the chunk sub-attribute. Ref is either a locator or the
// chunk's own hash value.
type ChunkAttr struct {
	Index    int         `json:"index"`
	Ref      string      `json:"ref"`
	Size     int64       `json:"size"`
	Offset   int64       `json:"offset"`
	Locators []Attribute `json:"locators,omitempty"`
}

// Object is the read-only view of a resolved content object.
type Object struct {
	Handle     Handle      `json:"handle"`
	Attributes []Attribute `json:"attributes"`
}

// LocatorAttr builds a locator attribute. A negative priority means none.
func LocatorAttr(value string, priority int) Attribute {
	a := Attribute{Purpose: PurposeLocator, Value: value}
	if priority >= 0 {
		p := priority
		a.Priority = &p
	}
	return a
}

// Chunk is a normalized chunk descriptor.
type Chunk struct {
	Index    int
	Hash     string   // own hash value, empty when the descriptor named a locator
	Size     int64
	Offset   int64
	Locators []string // priority ordered
}

// Chunkable reports whether the object advertises at least one chunk.
func (o *Object) Chunkable() bool {
	for _, a := range o.Attributes {
		if a.Chunk != nil {
			return true
		}
	}
	return false
}

// Chunks returns the chunk plan ordered by index.
func (o *Object) Chunks() ([]Chunk, error) {
	var chunks []Chunk
	seen := make(map[int]bool)
	for _, a := range o.Attributes {
		if a.Chunk == nil {
			continue
		}
		ca := a.Chunk
		if ca.Index < 0 || ca.Size < 0 || ca.Offset < 0 {
			return nil, fmt.Errorf("%w: chunk %d has negative fields", transfer.ErrInvalidObject, ca.Index)
		}
		if seen[ca.Index] {
			return nil, fmt.Errorf("%w: duplicate chunk index %d", transfer.ErrInvalidObject, ca.Index)
		}
		seen[ca.Index] = true

		c := Chunk{Index: ca.Index, Size: ca.Size, Offset: ca.Offset}
		subs := make([]Attribute, len(ca.Locators))
		copy(subs, ca.Locators)
		SortByPriority(subs)
		if IsLocator(ca.Ref) {
			c.Locators = append(c.Locators, ca.Ref)
		} else {
			c.Hash = ca.Ref
		}
		for _, s := range subs {
			if s.Value != "" {
				c.Locators = append(c.Locators, s.Value)
			}
		}
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// SortByPriority stable-sorts attributes ascending by priority; attributes
// without a priority keep their relative order at the end.
func SortByPriority(attrs []Attribute) {
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].PriorityOrDefault() < attrs[j].PriorityOrDefault()
	})
}
