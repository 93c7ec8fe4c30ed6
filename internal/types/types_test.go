package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBottomIsLeastElement(t *testing.T) {
	for _, u := range []*Type{Int(), Float(), Bool(), String(), Unit(),
		NewArray(Int()), NewFun(nil, Unit())} {
		require.True(t, Bottom().IsSubtypeOf(u), "bottom <: %s", u)
		require.False(t, u.IsSubtypeOf(Bottom()), "%s </: bottom", u)
	}
}

func TestPrimitiveSubtypingIsEquality(t *testing.T) {
	require.True(t, Int().IsSubtypeOf(Int()))
	require.False(t, Int().IsSubtypeOf(Float()))
	require.False(t, Bool().IsSubtypeOf(Int()))
}

func TestStructsAreInvariant(t *testing.T) {
	ab := NewStruct([]Field{{"a", Int()}, {"b", Float()}})
	a := NewStruct([]Field{{"a", Int()}})
	require.True(t, ab.IsSubtypeOf(NewStruct([]Field{{"a", Int()}, {"b", Float()}})))
	require.False(t, ab.IsSubtypeOf(a))
	require.False(t, a.IsSubtypeOf(ab))
}

func TestUnionWidthSubtyping(t *testing.T) {
	narrow := NewUnion([]Field{{"Ok", Int()}})
	wide := NewUnion([]Field{{"Ok", Int()}, {"Err", String()}})
	require.True(t, narrow.IsSubtypeOf(wide))
	require.False(t, wide.IsSubtypeOf(narrow))

	mismatched := NewUnion([]Field{{"Ok", Float()}})
	require.False(t, mismatched.IsSubtypeOf(wide))
}

func TestFunctionVariance(t *testing.T) {
	narrow := NewUnion([]Field{{"Ok", Int()}})
	wide := NewUnion([]Field{{"Ok", Int()}, {"Err", String()}})

	// covariant result
	retNarrow := NewFun([]*Type{Int()}, narrow)
	retWide := NewFun([]*Type{Int()}, wide)
	require.True(t, retNarrow.IsSubtypeOf(retWide))
	require.False(t, retWide.IsSubtypeOf(retNarrow))

	// contravariant parameters
	takesWide := NewFun([]*Type{wide}, Int())
	takesNarrow := NewFun([]*Type{narrow}, Int())
	require.True(t, takesWide.IsSubtypeOf(takesNarrow))
	require.False(t, takesNarrow.IsSubtypeOf(takesWide))
}

func TestFieldLookup(t *testing.T) {
	s := NewStruct([]Field{{"x", Int()}, {"y", Float()}})
	require.Equal(t, KindFloat, s.FieldType("y").Kind)
	require.Nil(t, s.FieldType("z"))
	require.Equal(t, 0, s.FieldIndex("x"))
	require.Equal(t, -1, s.FieldIndex("z"))
}

func TestString(t *testing.T) {
	f := NewFun([]*Type{Int(), Float()}, Bool())
	require.Equal(t, "(int, float) -> bool", f.String())
	require.Equal(t, "array {int}", NewArray(Int()).String())
	require.Equal(t, "struct {a: int}", NewStruct([]Field{{"a", Int()}}).String())
}
