package graph

import (
	"fmt"
	"sort"
)

// ValueKind is the closed tag set for PropertyValue.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

// PropertyValue is a closed tagged variant holding exactly one of: string,
// 64-bit signed integer, 64-bit float, boolean, null, an ordered list of
// PropertyValue, or a string-keyed map of PropertyValue. It is a value
// type: stores copy it on write.
//
// Modeled as a closed struct with one field per arm rather than an
// interface hierarchy, per spec.md §9 ("Tagged variant for PropertyValue
// ... do not model via an open class hierarchy").
type PropertyValue struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	list []PropertyValue
	m    map[string]PropertyValue
}

func Null() PropertyValue                 { return PropertyValue{kind: KindNull} }
func String(s string) PropertyValue       { return PropertyValue{kind: KindString, s: s} }
func Int(i int64) PropertyValue           { return PropertyValue{kind: KindInt, i: i} }
func Float(f float64) PropertyValue       { return PropertyValue{kind: KindFloat, f: f} }
func Bool(b bool) PropertyValue           { return PropertyValue{kind: KindBool, b: b} }
func List(vs []PropertyValue) PropertyValue {
	return PropertyValue{kind: KindList, list: vs}
}
func Map(m map[string]PropertyValue) PropertyValue {
	return PropertyValue{kind: KindMap, m: m}
}

func (v PropertyValue) Kind() ValueKind { return v.kind }
func (v PropertyValue) IsNull() bool    { return v.kind == KindNull }

// AsString/AsInt/AsFloat/AsBool/AsList/AsMap return the value's payload
// and whether the tag matched. No implicit coercion across tags: callers
// that need arithmetic/comparison coercion use Compare or the executor's
// expression evaluator.
func (v PropertyValue) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v PropertyValue) AsInt() (int64, bool)      { return v.i, v.kind == KindInt }
func (v PropertyValue) AsFloat() (float64, bool)  { return v.f, v.kind == KindFloat }
func (v PropertyValue) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v PropertyValue) AsList() ([]PropertyValue, bool) {
	return v.list, v.kind == KindList
}
func (v PropertyValue) AsMap() (map[string]PropertyValue, bool) {
	return v.m, v.kind == KindMap
}

// Equal implements structural equality.
func (v PropertyValue) Equal(o PropertyValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, val := range v.m {
			ov, ok := o.m[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Ordering is defined only within a single variant tag: int<int,
// float<float, string lexicographic. Cross-tag ordering, and ordering of
// bool/null/list/map, is undefined: Compare's second return is false in
// those cases ("incomparable"), which predicate evaluation treats as
// false (spec.md §4.1).
func (v PropertyValue) Compare(o PropertyValue) (cmp int, comparable bool) {
	if v.kind != o.kind {
		return 0, false
	}
	switch v.kind {
	case KindInt:
		switch {
		case v.i < o.i:
			return -1, true
		case v.i > o.i:
			return 1, true
		default:
			return 0, true
		}
	case KindFloat:
		switch {
		case v.f < o.f:
			return -1, true
		case v.f > o.f:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		switch {
		case v.s < o.s:
			return -1, true
		case v.s > o.s:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// Native converts a PropertyValue to a plain Go value, recursively. This
// is an API-boundary conversion only (spec.md §9: "conversions happen only
// at API boundaries") — internal code operates on PropertyValue directly.
func (v PropertyValue) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Native()
		}
		return out
	}
	return nil
}

// ValueOf converts a plain Go value into a PropertyValue, recursively.
// Unrecognized types convert to their fmt string via String(fmt.Sprint).
func ValueOf(x any) PropertyValue {
	switch t := x.(type) {
	case nil:
		return Null()
	case PropertyValue:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []any:
		out := make([]PropertyValue, len(t))
		for i, e := range t {
			out[i] = ValueOf(e)
		}
		return List(out)
	case []PropertyValue:
		return List(t)
	case map[string]any:
		out := make(map[string]PropertyValue, len(t))
		for k, e := range t {
			out[k] = ValueOf(e)
		}
		return Map(out)
	default:
		return String(stringify(t))
	}
}

func stringify(x any) string {
	type stringer interface{ String() string }
	if s, ok := x.(stringer); ok {
		return s.String()
	}
	return fmt.Sprint(x)
}

// SortedKeys returns a property map's keys in sorted order, used anywhere
// deterministic iteration over a map matters (WAL serialization, index
// rebuilds, test fixtures).
func SortedKeys(m map[string]PropertyValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
