package orderedmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertionOrderIsKept(t *testing.T) {
	m := New[string, int]()

	require.True(t, m.InsertIfNotExist("c", 3))
	require.True(t, m.InsertIfNotExist("a", 1))
	require.True(t, m.InsertIfNotExist("b", 2))
	assert.False(t, m.InsertIfNotExist("a", 10))

	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())
	assert.Equal(t, []int{3, 1, 2}, m.AsSlice())
}

func TestSetReplacesValueInPlace(t *testing.T) {
	m := New[string, int]()
	m.Set("x", 1)
	m.Set("y", 2)
	m.Set("x", 5)

	v, exist := m.Get("x")
	require.True(t, exist)
	assert.Equal(t, 5, v)
	assert.Equal(t, []string{"x", "y"}, m.Keys())
}

func TestDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("x", 1)
	m.Set("y", 2)

	assert.Equal(t, 1, m.Delete("x"))
	assert.Equal(t, 0, m.Delete("x"))
	assert.Equal(t, 1, m.Len())

	_, exist := m.Get("x")
	assert.False(t, exist)
}

func TestForeachAbort(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	var visited []string
	m.Foreach(func(k string, _ int) bool {
		visited = append(visited, k)
		return k != "b"
	})

	assert.Equal(t, []string{"a", "b"}, visited)
}
