// Package linkedlist provides a generic doubly linked list.
package linkedlist

// Element is an element of a List.
type Element[V any] struct {
	next, prev *Element[V]
	list       *List[V]

	Value V
}

// Next returns the next list element or nil.
func (e *Element[V]) Next() *Element[V] {
	if e.list == nil || e.next == &e.list.root {
		return nil
	}

	return e.next
}

// Prev returns the previous list element or nil.
func (e *Element[V]) Prev() *Element[V] {
	if e.list == nil || e.prev == &e.list.root {
		return nil
	}

	return e.prev
}

// List is a doubly linked list.
// The zero value is not usable, instances must be created with New().
type List[V any] struct {
	root Element[V] // sentinel
	len  int
}

func New[V any]() *List[V] {
	l := List[V]{}
	l.root.next = &l.root
	l.root.prev = &l.root

	return &l
}

// Len returns the number of elements in the list.
func (l *List[V]) Len() int {
	return l.len
}

// Front returns the first element of the list or nil if the list is empty.
func (l *List[V]) Front() *Element[V] {
	if l.len == 0 {
		return nil
	}

	return l.root.next
}

// Back returns the last element of the list or nil if the list is empty.
func (l *List[V]) Back() *Element[V] {
	if l.len == 0 {
		return nil
	}

	return l.root.prev
}

// PushBack appends val to the list and returns the new element.
func (l *List[V]) PushBack(val V) *Element[V] {
	e := &Element[V]{Value: val, list: l}

	e.prev = l.root.prev
	e.next = &l.root
	e.prev.next = e
	l.root.prev = e
	l.len++

	return e
}

// Remove removes e from the list and returns its value.
// If e is not an element of l, the list is not modified.
func (l *List[V]) Remove(e *Element[V]) V {
	if e.list != l {
		return e.Value
	}

	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--

	return e.Value
}
