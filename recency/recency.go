// Package recency tracks least-recently-used ordering over a fixed set of
// small integer indices.
//
// An Index of capacity N always holds a permutation of 0..N-1. Caches use it
// to pick eviction victims: the least recently used index is the next slot to
// reuse. All operations are O(1) except IndicesInOrder and All.
//
// Index is not safe for concurrent mutation. Callers serialize Touch and
// Flush, typically behind the owning cache's lock.
package recency

import (
	"fmt"
	"iter"
)

const none = -1

// Index is a fixed-capacity recency ordering.
type Index struct {
	prev []int32
	next []int32
	head int32 // least recently used
	tail int32 // most recently used
}

// New returns an Index over 0..capacity-1 in ascending order, so index 0 is
// initially the least recently used.
//
// New panics if capacity is not positive.
func New(capacity int) *Index {
	if capacity <= 0 {
		panic(fmt.Sprintf("recency: invalid capacity %d", capacity))
	}
	if int64(capacity) > int64(^uint32(0)>>1) {
		panic(fmt.Sprintf("recency: capacity %d too large", capacity))
	}
	idx := &Index{
		prev: make([]int32, capacity),
		next: make([]int32, capacity),
		head: 0,
		tail: int32(capacity - 1), //nolint:gosec // bounded above
	}
	for i := range capacity {
		idx.prev[i] = int32(i - 1) //nolint:gosec // bounded above
		idx.next[i] = int32(i + 1) //nolint:gosec // bounded above
	}
	idx.next[capacity-1] = none
	return idx
}

// Len returns the capacity of the index.
func (x *Index) Len() int {
	return len(x.next)
}

// Touch marks i as the most recently used index.
// The relative order of all other indices is preserved.
func (x *Index) Touch(i int) {
	n := x.check(i)
	if n == x.tail {
		return
	}
	x.unlink(n)
	x.prev[n] = x.tail
	x.next[n] = none
	x.next[x.tail] = n
	x.tail = n
}

// Flush marks i as the least recently used index, making it the next
// eviction candidate.
func (x *Index) Flush(i int) {
	n := x.check(i)
	if n == x.head {
		return
	}
	x.unlink(n)
	x.prev[n] = none
	x.next[n] = x.head
	x.prev[x.head] = n
	x.head = n
}

// TouchLeastRecentlyUsed touches the current least recently used index and
// returns it. This is the usual way to claim a slot for new data.
func (x *Index) TouchLeastRecentlyUsed() int {
	lru := int(x.head)
	x.Touch(lru)
	return lru
}

// LeastRecentlyUsed returns the index at the least recently used end.
func (x *Index) LeastRecentlyUsed() int {
	return int(x.head)
}

// MostRecentlyUsed returns the index at the most recently used end.
func (x *Index) MostRecentlyUsed() int {
	return int(x.tail)
}

// IndicesInOrder calls visit once per index, least recently used first.
// The index must not be modified during the traversal.
func (x *Index) IndicesInOrder(visit func(i int)) {
	for n := x.head; n != none; n = x.next[n] {
		visit(int(n))
	}
}

// All returns an iterator over the indices, least recently used first.
func (x *Index) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for n := x.head; n != none; n = x.next[n] {
			if !yield(int(n)) {
				return
			}
		}
	}
}

// unlink detaches n from the list. The list must contain at least two nodes.
func (x *Index) unlink(n int32) {
	p, nx := x.prev[n], x.next[n]
	if p != none {
		x.next[p] = nx
	} else {
		x.head = nx
	}
	if nx != none {
		x.prev[nx] = p
	} else {
		x.tail = p
	}
}

func (x *Index) check(i int) int32 {
	if i < 0 || i >= len(x.next) {
		panic(fmt.Sprintf("recency: index %d out of range [0, %d)", i, len(x.next)))
	}
	return int32(i) //nolint:gosec // bounded by capacity
}
