// Package locator orders the whole-object locators of a content object.
package locator

import (
	"github.com/imdevinc/netinf-node/internal/content"
)

// Sequence is a single-pass, read-only view over priority-ordered locators.
type Sequence struct {
	items []string
	pos   int
}

// Select collects the locator attributes of obj, drops chunk sub-locators and
// returns them in ascending priority order. Equal priorities keep attribute
// order; missing priorities sort last.
func Select(obj *content.Object) *Sequence {
	var attrs []content.Attribute
	for _, a := range obj.Attributes {
		if a.Purpose != content.PurposeLocator || a.Chunk != nil || a.Value == "" {
			continue
		}
		attrs = append(attrs, a)
	}
	content.SortByPriority(attrs)

	items := make([]string, len(attrs))
	for i, a := range attrs {
		items[i] = a.Value
	}
	return &Sequence{items: items}
}

// FromStrings wraps an already ordered list.
func FromStrings(locators []string) *Sequence {
	items := make([]string, len(locators))
	copy(items, locators)
	return &Sequence{items: items}
}

// HasNext reports whether Next would yield a locator.
func (s *Sequence) HasNext() bool {
	return s.pos < len(s.items)
}

// Next returns the next locator.
func (s *Sequence) Next() (string, bool) {
	if s.pos >= len(s.items) {
		return "", false
	}
	l := s.items[s.pos]
	s.pos++
	return l, true
}

// Remaining returns how many locators are left.
func (s *Sequence) Remaining() int {
	return len(s.items) - s.pos
}

// Values returns a copy of the locators not yet consumed.
func (s *Sequence) Values() []string {
	out := make([]string, len(s.items)-s.pos)
	copy(out, s.items[s.pos:])
	return out
}
