// Package orderedmap provides a map that preserves the insertion order of its
// keys.
package orderedmap

import (
	"github.com/simplesurance/deployd/internal/linkedlist"
)

type entry[K comparable, V any] struct {
	key K
	val V
}

// Map is a map datastructure that allows accessing it's element in the order
// they were inserted.
type Map[K comparable, V any] struct {
	order   *linkedlist.List[*entry[K, V]]
	m       map[K]*linkedlist.Element[*entry[K, V]]
	zeroval V
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		order: linkedlist.New[*entry[K, V]](),
		m:     map[K]*linkedlist.Element[*entry[K, V]]{},
	}
}

// InsertIfNotExist appends val to the map if key does not exist.
// It returns true if the value was added.
func (m *Map[K, V]) InsertIfNotExist(key K, val V) (added bool) {
	if _, exist := m.m[key]; exist {
		return false
	}

	m.m[key] = m.order.PushBack(&entry[K, V]{key: key, val: val})

	return true
}

// Set replaces the value of key.
// If key does not exist, it is appended.
func (m *Map[K, V]) Set(key K, val V) {
	if e, exist := m.m[key]; exist {
		e.Value.val = val
		return
	}

	m.m[key] = m.order.PushBack(&entry[K, V]{key: key, val: val})
}

// Get returns the value for the given key.
// If the key does not exist, the zero value and false is returned.
func (m *Map[K, V]) Get(key K) (V, bool) {
	e, exist := m.m[key]
	if !exist {
		return m.zeroval, false
	}

	return e.Value.val, true
}

// Delete removes the value with the key from the map and returns it.
// If the key does not exist in the map, the zero value is returned.
func (m *Map[K, V]) Delete(key K) (removedElem V) {
	e, exist := m.m[key]
	if !exist {
		return m.zeroval
	}
	delete(m.m, key)

	return m.order.Remove(e).val
}

// Len returns the number of elements in the map.
func (m *Map[K, V]) Len() int {
	return m.order.Len()
}

// Foreach iterates through the map in order.
// When fn returns false the iteration is aborted.
func (m *Map[K, V]) Foreach(fn func(K, V) bool) {
	for e := m.order.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.key, e.Value.val) {
			return
		}
	}
}

// Keys returns a new slice containing the keys in order.
func (m *Map[K, V]) Keys() []K {
	result := make([]K, 0, m.order.Len())

	for e := m.order.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.key)
	}

	return result
}

// AsSlice returns a new slice containing the values in order.
func (m *Map[K, V]) AsSlice() []V {
	result := make([]V, 0, m.order.Len())

	for e := m.order.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.val)
	}

	return result
}
