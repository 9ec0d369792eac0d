package queue

import (
	"time"

	"github.com/huandu/skiplist"
)

// Key orders entries by due time, then by insertion sequence.
// The zero Key is never assigned to an entry.
type Key struct {
	Due time.Time
	Seq uint64
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Seq == 0 && k.Due.IsZero()
}

func compare(a, b interface{}) int {
	k1, k2 := a.(Key), b.(Key)
	if c := k1.Due.Compare(k2.Due); c != 0 {
		return c
	}
	if k1.Seq > k2.Seq {
		return 1
	} else if k1.Seq < k2.Seq {
		return -1
	}
	return 0
}

func New[V any]() *Queue[V] {
	return &Queue[V]{
		l: skiplist.New(skiplist.GreaterThanFunc(compare)),
	}
}

// Queue is an ordered collection of values keyed by Key.
// Not safe for concurrent use.
type Queue[V any] struct {
	l *skiplist.SkipList
}

// Push inserts v at k, replacing any value already stored at k.
func (q *Queue[V]) Push(k Key, v V) (pushedAtFront bool) {
	e := q.l.Set(k, v)
	return e.Prev() == nil
}

func (q *Queue[V]) Has(k Key) bool {
	return q.l.Get(k) != nil
}

func (q *Queue[V]) Front() (k Key, v V, ok bool) {
	if e := q.l.Front(); e != nil {
		return e.Key().(Key), e.Value.(V), true
	}
	return k, v, false
}

func (q *Queue[V]) PopFront() (k Key, v V, ok bool) {
	if e := q.l.RemoveFront(); e != nil {
		return e.Key().(Key), e.Value.(V), true
	}
	return k, v, false
}

func (q *Queue[V]) Len() int {
	return q.l.Len()
}

// Scan calls fn for each entry after the given key in ascending order
// until either the end of the queue is reached or fn returns false.
// Starts from the front if after is zero.
// Returns false if after isn't in the queue.
func (q *Queue[V]) Scan(
	after Key,
	fn func(Key, V) bool,
) (afterFound bool) {
	var start *skiplist.Element
	if !after.IsZero() {
		if start = q.l.Get(after); start == nil {
			return false
		}
		start = start.Next()
	} else {
		start = q.l.Front()
	}

	for e := start; e != nil; e = e.Next() {
		if !fn(e.Key().(Key), e.Value.(V)) {
			return true
		}
	}
	return true
}
