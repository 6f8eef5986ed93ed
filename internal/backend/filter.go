package backend

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/hybridstore/internal/record"
)

// DefaultListLimit bounds List and Search results when the caller sets none.
const DefaultListLimit = 1000

// Unlimited as a Limit returns every matching record.
const Unlimited = -1

// Filter selects records by exact top-level field values.
type Filter struct {
	// Where maps field name to its rendered value (see record.Render).
	Where map[string]string

	// Limit caps the result size. Zero means DefaultListLimit; Unlimited
	// (any negative value) disables the cap.
	Limit int
}

// EffectiveLimit returns the limit to apply.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit < 0:
		return math.MaxInt
	case f.Limit == 0:
		return DefaultListLimit
	}
	return f.Limit
}

// Match reports whether payload satisfies every Where clause.
func (f Filter) Match(payload record.Object) bool {
	for field, want := range f.Where {
		got, ok := payload.Field(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Criteria is a free-text plus field search.
type Criteria struct {
	// Text is matched as a substring of the serialized payload, ignoring
	// case and Unicode normalization form. Empty matches everything.
	Text string

	// Where restricts by exact field values, as in Filter.
	Where map[string]string

	// Limit caps the result size. Zero means DefaultListLimit.
	Limit int
}

// Filter returns the field part of c as a Filter.
func (c Criteria) Filter() Filter {
	return Filter{Where: c.Where, Limit: c.Limit}
}

// MatchText reports whether the serialized payload contains c.Text.
func (c Criteria) MatchText(serialized string) bool {
	return MatchText(serialized, c.Text)
}

// Match applies both the text and field parts of c.
func (c Criteria) Match(payload record.Object, serialized string) bool {
	return c.MatchText(serialized) && c.Filter().Match(payload)
}

// MatchText is the substring rule every record store and the memory search
// role apply.
func MatchText(serialized, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(foldText(serialized), foldText(query))
}

// foldText maps s to NFC with case folded. Stored payloads are never
// normalized, so equivalence is applied only when comparing.
func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
