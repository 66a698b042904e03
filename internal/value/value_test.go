package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetPathRoundTrip(t *testing.T) {
	cases := []struct {
		path string
		val  Value
	}{
		{"users[0].profile.name", String("Alice")},
		{"count", Int(42)},
		{"a.b.c", Bool(true)},
		{"list[2]", Float(3.5)},
		{"", Object(map[string]Value{"k": Int(1)})},
	}
	for _, c := range cases {
		root, err := SetPath(Null(), c.path, c.val)
		require.NoError(t, err)
		got, ok, err := GetPath(root, c.path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, c.val, got)
	}
}

func TestSetPathCoercesInteriorNodes(t *testing.T) {
	root := String("not an object")
	root, err := SetPath(root, "a.b", Int(1))
	require.NoError(t, err)
	got, ok, err := GetPath(root, "a.b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Int(1), got)
}

func TestSetPathPadsArraysWithNull(t *testing.T) {
	root, err := SetPath(Null(), "arr[3]", String("x"))
	require.NoError(t, err)
	arr, ok, err := GetPath(root, "arr")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, arr.Array, 4)
	assert.True(t, arr.Array[0].IsNull())
	assert.True(t, arr.Array[1].IsNull())
	assert.True(t, arr.Array[2].IsNull())
	assert.Equal(t, String("x"), arr.Array[3])
}

func TestPushPathRejectsNonArray(t *testing.T) {
	root, err := SetPath(Null(), "x", Int(1))
	require.NoError(t, err)
	_, err = PushPath(root, "x", Int(2))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPushPathCreatesArray(t *testing.T) {
	root, err := PushPath(Null(), "items", Int(1))
	require.NoError(t, err)
	root, err = PushPath(root, "items", Int(2))
	require.NoError(t, err)
	got, ok, err := GetPath(root, "items")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Value{Int(1), Int(2)}, got.Array)
}

func TestDeletePathIsNonStructural(t *testing.T) {
	root, err := SetPath(Null(), "a.b", Int(1))
	require.NoError(t, err)
	root, err = DeletePath(root, "a.b")
	require.NoError(t, err)
	got, ok, err := GetPath(root, "a.b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.IsNull())
}

func TestParsePathEmptySegmentsSkipped(t *testing.T) {
	segs, err := ParsePath("..a...b[0]")
	require.NoError(t, err)
	require.Len(t, segs, 3)
}

func TestParsePathRejectsMalformedBracket(t *testing.T) {
	_, err := ParsePath("a[1")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParsePathNestingCap(t *testing.T) {
	deep := ""
	for i := 0; i < MaxNestingDepth+5; i++ {
		deep += "a."
	}
	_, err := ParsePath(deep)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParseTextPrefersIntegerOverFloat(t *testing.T) {
	assert.Equal(t, Int(42), ParseText("42"))
	assert.Equal(t, Float(1.5), ParseText("1.5"))
	assert.Equal(t, String("not json"), ParseText("not json"))
	assert.Equal(t, Bool(true), ParseText("true"))
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"name": String("Alice"),
		"age":  Int(30),
		"tags": Array(String("a"), String("b")),
	})
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	var v2 Value
	require.NoError(t, v2.UnmarshalJSON(b))
	assert.Equal(t, v, v2)
}
