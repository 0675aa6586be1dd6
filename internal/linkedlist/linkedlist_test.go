package linkedlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toSlice[V any](l *List[V]) []V {
	var result []V

	for e := l.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value)
	}

	return result
}

func TestPushBackRemove(t *testing.T) {
	l := New[int]()
	assert.Nil(t, l.Front())
	assert.Nil(t, l.Back())

	e1 := l.PushBack(1)
	e2 := l.PushBack(2)
	e3 := l.PushBack(3)
	require.Equal(t, 3, l.Len())
	assert.Equal(t, []int{1, 2, 3}, toSlice(l))

	assert.Equal(t, 2, l.Remove(e2))
	assert.Equal(t, []int{1, 3}, toSlice(l))
	assert.Equal(t, e3, e1.Next())
	assert.Equal(t, e1, e3.Prev())

	assert.Equal(t, 1, l.Remove(e1))
	assert.Equal(t, 3, l.Remove(e3))
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Front())
}

func TestRemoveForeignElement(t *testing.T) {
	l1 := New[string]()
	l2 := New[string]()

	e := l1.PushBack("a")
	l2.PushBack("b")

	assert.Equal(t, "a", l2.Remove(e))
	assert.Equal(t, 1, l1.Len())
	assert.Equal(t, 1, l2.Len())
}
