package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyValueEquality(t *testing.T) {
	assert.True(t, Int(5).Equal(Int(5)))
	assert.False(t, Int(5).Equal(Int(6)))
	assert.False(t, Int(5).Equal(Float(5)))
	assert.True(t, Null().Equal(Null()))

	l1 := List([]PropertyValue{Int(1), String("a")})
	l2 := List([]PropertyValue{Int(1), String("a")})
	assert.True(t, l1.Equal(l2))
}

func TestPropertyValueCompareSameTagOnly(t *testing.T) {
	cmp, ok := Int(3).Compare(Int(5))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = Int(3).Compare(Float(3))
	assert.False(t, ok, "cross-tag comparison must be incomparable")

	cmp, ok = String("a").Compare(String("b"))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestValueOfNativeRoundTrip(t *testing.T) {
	native := map[string]any{
		"name": "Alice",
		"age":  int64(30),
		"tags": []any{"a", "b"},
	}
	v := ValueOf(native)
	m, ok := v.AsMap()
	require.True(t, ok)
	assert.Equal(t, "Alice", m["name"].Native())
	assert.Equal(t, int64(30), m["age"].Native())

	back := v.Native()
	assert.Equal(t, native["name"], back.(map[string]any)["name"])
}

func TestNodeIDOpaqueEquality(t *testing.T) {
	a := NewNodeID()
	b := NewNodeID()
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, a)

	s := a.String()
	parsed, ok := ParseNodeID(s)
	require.True(t, ok)
	assert.Equal(t, a, parsed)
}

func TestExternalIDDeterministic(t *testing.T) {
	a := ExternalNodeID("import-row-1")
	b := ExternalNodeID("import-row-1")
	assert.Equal(t, a, b, "same external id must map to the same NodeID for bulk-load correlation")

	c := ExternalNodeID("import-row-2")
	assert.NotEqual(t, a, c)
}

func TestNodeCloneIsDeep(t *testing.T) {
	n := &Node{
		ID:         NewNodeID(),
		Labels:     []string{"Person"},
		Properties: map[string]PropertyValue{"name": String("Alice")},
	}
	clone := n.Clone()
	clone.Labels[0] = "Mutated"
	clone.Properties["name"] = String("Bob")

	assert.Equal(t, "Person", n.Labels[0])
	assert.Equal(t, "Alice", n.Properties["name"].Native())
}
