package memtable

import (
	"math/rand"
	"sync"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

type node[V any] struct {
	key     string
	value   V
	forward []*node[V]
}

// Entry is a key/value pair copied out of a skip list
type Entry[V any] struct {
	Key   string
	Value V
}

// SkipList is a sorted string-keyed map safe for concurrent use. Readers
// share an RWMutex; Insert takes it exclusively.
type SkipList[V any] struct {
	mu    sync.RWMutex
	head  *node[V]
	level int
	size  int
}

// NewSkipList creates an empty skip list
func NewSkipList[V any]() *SkipList[V] {
	return &SkipList[V]{
		head: &node[V]{forward: make([]*node[V], MaxLevel)},
	}
}

func randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// Insert adds or replaces the value for key. It reports whether the key
// was new.
func (sl *SkipList[V]) Insert(key string, value V) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	update := make([]*node[V], MaxLevel)
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}

	if next := current.forward[0]; next != nil && next.key == key {
		next.value = value
		return false
	}

	newLevel := randomLevel()
	if newLevel > sl.level {
		for i := sl.level + 1; i <= newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	n := &node[V]{
		key:     key,
		value:   value,
		forward: make([]*node[V], newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	sl.size++
	return true
}

// seek returns the first node with key >= key. Caller holds the lock.
func (sl *SkipList[V]) seek(key string) *node[V] {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
	}
	return current.forward[0]
}

// Search finds a value by key
func (sl *SkipList[V]) Search(key string) (V, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if n := sl.seek(key); n != nil && n.key == key {
		return n.value, true
	}
	var zero V
	return zero, false
}

// Len returns the number of distinct keys
func (sl *SkipList[V]) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.size
}

// First returns the smallest key
func (sl *SkipList[V]) First() (string, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if n := sl.head.forward[0]; n != nil {
		return n.key, true
	}
	return "", false
}

// Last returns the largest key
func (sl *SkipList[V]) Last() (string, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil {
			current = current.forward[i]
		}
	}
	if current == sl.head {
		return "", false
	}
	return current.key, true
}

// Range calls fn for every key in [from, to] in ascending order until fn
// returns false. An empty bound is open. The read lock is held for the
// whole walk, so fn must not insert into the same list.
func (sl *SkipList[V]) Range(from, to string, fn func(key string, value V) bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	for n := sl.seek(from); n != nil; n = n.forward[0] {
		if to != "" && n.key > to {
			return
		}
		if !fn(n.key, n.value) {
			return
		}
	}
}

// Snapshot copies the entries in [from, to] out of the list. Use it when
// the caller needs to run arbitrary code per entry while writers continue.
func (sl *SkipList[V]) Snapshot(from, to string) []Entry[V] {
	var out []Entry[V]
	sl.Range(from, to, func(k string, v V) bool {
		out = append(out, Entry[V]{Key: k, Value: v})
		return true
	})
	return out
}

// Iterator returns an iterator positioned before the first entry. It reads
// the list without locking and is only valid on a list that no longer
// receives inserts.
func (sl *SkipList[V]) Iterator() *Iterator[V] {
	return &Iterator[V]{list: sl, current: sl.head}
}

// Iterator walks a frozen skip list in key order
type Iterator[V any] struct {
	list    *SkipList[V]
	current *node[V]
}

// Next moves to the next element
func (it *Iterator[V]) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.forward[0]
	return it.current != nil
}

// Seek positions the iterator so that the following Next lands on the
// first key >= key.
func (it *Iterator[V]) Seek(key string) {
	it.current = it.list.head
	for i := it.list.level; i >= 0; i-- {
		for it.current.forward[i] != nil && it.current.forward[i].key < key {
			it.current = it.current.forward[i]
		}
	}
}

func (it *Iterator[V]) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.key
}

func (it *Iterator[V]) Value() V {
	if it.current == nil {
		var zero V
		return zero
	}
	return it.current.value
}
