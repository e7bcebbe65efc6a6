package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny_NestedJSON(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":[1,true,null],"c":{"d":"y"}}`), &raw))

	v, err := FromAny(raw)
	require.NoError(t, err)
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"a", "b", "c"}, v.Keys())

	b, ok := v.Get("b")
	require.True(t, ok)
	assert.Equal(t, KindList, b.Kind())
	assert.Equal(t, 3, b.Len())
	n, ok := b.Index(0).Num()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)
	assert.True(t, b.Index(2).IsNull())
	assert.True(t, b.Index(7).IsNull(), "out of range index is null")

	c, _ := v.Get("c")
	s, ok := c.GetString("d")
	assert.True(t, ok)
	assert.Equal(t, "y", s)
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ch")
}

func TestValue_ImmutableAccessors(t *testing.T) {
	src := map[string]Value{"k": String("v")}
	m := Map(src)
	src["k"] = String("changed")

	got, _ := m.GetString("k")
	assert.Equal(t, "v", got, "Map must copy its input")

	l := List(String("a"))
	items := l.Items()
	items[0] = String("b")
	first, _ := l.Index(0).Str()
	assert.Equal(t, "a", first, "Items must return a copy")
}

func TestValue_JSONRoundTrip(t *testing.T) {
	in := `{"entity_id":"db-1","n":2.5,"tags":["x"]}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(in), &v))
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestGetString_EmptyIsAbsent(t *testing.T) {
	v := Map(map[string]Value{"event_id": String(""), "n": Number(1)})
	_, ok := v.GetString("event_id")
	assert.False(t, ok)
	_, ok = v.GetString("n")
	assert.False(t, ok)
	_, ok = String("x").GetString("a")
	assert.False(t, ok)
}
