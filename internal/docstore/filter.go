package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Document is the decoded, JSON-shaped form of a stored document. Numbers are
// float64, arrays are []any and nested objects are map[string]any.
type Document = map[string]any

// Filter selects documents. A nil Filter matches every document.
//
// The concrete filter types are exported so that query-language backends can
// translate them; Match is the reference semantics they must agree with.
type Filter interface {
	Match(doc Document) bool
}

// EqFilter matches documents whose Field equals Value exactly.
type EqFilter struct {
	Field string
	Value any
}

// GtFilter matches documents whose numeric Field is greater than Value.
type GtFilter struct {
	Field string
	Value float64
}

// ContainsFoldFilter matches documents where any of Fields contains Substring,
// ignoring case. Array fields match when any string element contains it.
type ContainsFoldFilter struct {
	Fields    []string
	Substring string
}

// AndFilter matches when every element matches. An empty AndFilter matches all.
type AndFilter []Filter

// OrFilter matches when any element matches. An empty OrFilter matches none.
type OrFilter []Filter

// Eq builds an equality filter. value is normalised to its JSON form so that
// it compares equal to decoded document values (e.g. int 3 == float64 3).
func Eq(field string, value any) EqFilter {
	return EqFilter{Field: field, Value: normalize(value)}
}

// Gt builds a numeric greater-than filter.
func Gt(field string, value float64) GtFilter {
	return GtFilter{Field: field, Value: value}
}

// ContainsFold builds a case-insensitive substring filter over fields.
func ContainsFold(substring string, fields ...string) ContainsFoldFilter {
	return ContainsFoldFilter{Fields: fields, Substring: substring}
}

// And combines filters conjunctively, skipping nil entries.
func And(filters ...Filter) AndFilter {
	out := make(AndFilter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Or combines filters disjunctively.
func Or(filters ...Filter) OrFilter {
	return OrFilter(filters)
}

// ByID matches the document with the given id.
func ByID(id string) EqFilter {
	return Eq(FieldID, id)
}

func (f EqFilter) Match(doc Document) bool {
	v, ok := doc[f.Field]
	if !ok {
		return f.Value == nil
	}
	return CompareValues(v, f.Value) == 0 && sameKind(v, f.Value)
}

func (f GtFilter) Match(doc Document) bool {
	v, ok := doc[f.Field].(float64)
	return ok && v > f.Value
}

func (f ContainsFoldFilter) Match(doc Document) bool {
	needle := strings.ToLower(f.Substring)
	for _, field := range f.Fields {
		switch v := doc[field].(type) {
		case string:
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		case []any:
			for _, elem := range v {
				if s, ok := elem.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
		}
	}
	return false
}

func (f AndFilter) Match(doc Document) bool {
	for _, sub := range f {
		if !sub.Match(doc) {
			return false
		}
	}
	return true
}

func (f OrFilter) Match(doc Document) bool {
	for _, sub := range f {
		if sub != nil && sub.Match(doc) {
			return true
		}
	}
	return false
}

// Matches evaluates filter against doc; a nil filter matches everything.
func Matches(filter Filter, doc Document) bool {
	return filter == nil || filter.Match(doc)
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateField rejects field names that are unsafe to splice into a query.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// Fields returns every field name referenced by filter.
func Fields(filter Filter) []string {
	switch f := filter.(type) {
	case EqFilter:
		return []string{f.Field}
	case GtFilter:
		return []string{f.Field}
	case ContainsFoldFilter:
		return f.Fields
	case AndFilter:
		var out []string
		for _, sub := range f {
			out = append(out, Fields(sub)...)
		}
		return out
	case OrFilter:
		var out []string
		for _, sub := range f {
			out = append(out, Fields(sub)...)
		}
		return out
	}
	return nil
}

// CompareValues orders two decoded JSON values: nil < bool < number < string.
// Values of the same kind compare naturally.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func sameKind(a, b any) bool {
	ra := rank(a)
	return ra == rank(b) && ra < 4
}

func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := codec.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
