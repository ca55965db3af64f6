// Package lru keeps keyed items in access order. It is not safe for
// concurrent use; owners guard it with their own lock.
package lru

import "container/list"

type node[T any] struct {
	key  string
	item T
}

// List orders items from least recently used (front) to most recently used (back).
type List[T any] struct {
	order *list.List
	index map[string]*list.Element
}

// New returns an empty List.
func New[T any]() *List[T] {
	return &List[T]{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Len returns the number of items.
func (l *List[T]) Len() int {
	return l.order.Len()
}

// Get returns the item stored under key without changing its position.
func (l *List[T]) Get(key string) (T, bool) {
	if el, ok := l.index[key]; ok {
		return el.Value.(*node[T]).item, true
	}
	var zero T
	return zero, false
}

// PushBack inserts item as the most recently used. An existing item under the
// same key is replaced and moved to the back.
func (l *List[T]) PushBack(key string, item T) {
	if el, ok := l.index[key]; ok {
		el.Value.(*node[T]).item = item
		l.order.MoveToBack(el)
		return
	}
	l.index[key] = l.order.PushBack(&node[T]{key: key, item: item})
}

// Touch marks key as the most recently used.
func (l *List[T]) Touch(key string) {
	if el, ok := l.index[key]; ok {
		l.order.MoveToBack(el)
	}
}

// Remove deletes key and returns the item it held.
func (l *List[T]) Remove(key string) (T, bool) {
	el, ok := l.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	l.order.Remove(el)
	delete(l.index, key)
	return el.Value.(*node[T]).item, true
}

// Oldest returns the least recently used item.
func (l *List[T]) Oldest() (string, T, bool) {
	el := l.order.Front()
	if el == nil {
		var zero T
		return "", zero, false
	}
	n := el.Value.(*node[T])
	return n.key, n.item, true
}

// Each visits items from least to most recently used until fn returns false.
func (l *List[T]) Each(fn func(key string, item T) bool) {
	for el := l.order.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node[T])
		if !fn(n.key, n.item) {
			return
		}
	}
}

// Keys returns all keys from least to most recently used.
func (l *List[T]) Keys() []string {
	keys := make([]string, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*node[T]).key)
	}
	return keys
}

// Reset drops every item.
func (l *List[T]) Reset() {
	l.order.Init()
	l.index = make(map[string]*list.Element)
}
