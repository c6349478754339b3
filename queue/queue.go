// Package queue implements a concurrent FIFO queue shared between producers
// and consumers, serialized by its own internal sync.Mutex; the lock type is
// not chosen by the caller. Operations on two queues (Append, Swap) take both
// mutexes in address order.
package queue

import (
	"context"
	"reflect"
	"sync"
)

// node is one link in the intrusive singly-linked list backing the queue.
type node[T any] struct {
	val  T
	next *node[T]
}

// Queue is a closeable, blocking-pull FIFO queue of T. The zero value is not
// usable; construct with New.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	head    *node[T]
	tail    *node[T]
	size    int
	closed  bool
	waiters int
}

// New returns an empty, open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the tail and wakes one waiting puller. Push on a closed
// queue is a no-op, mirroring a pipe closed at the reader end.
func (obj *Queue[T]) Push(v T) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return
	}
	n := &node[T]{val: v}
	if obj.tail == nil {
		obj.head, obj.tail = n, n
	} else {
		obj.tail.next = n
		obj.tail = n
	}
	obj.size++
	obj.cond.Signal()
}

// Pull removes and returns the head element without blocking. ok is false if
// the queue was empty.
func (obj *Queue[T]) Pull() (v T, ok bool) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.popLocked()
}

// WaitPull blocks until an element is available, the queue is closed, or ctx
// is done. ok is false in the latter two cases.
func (obj *Queue[T]) WaitPull(ctx context.Context) (v T, ok bool) {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if v, ok := obj.popLocked(); ok {
		return v, true
	}
	if obj.closed {
		return v, false
	}

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		obj.mu.Lock()
		close(done)
		obj.cond.Broadcast()
		obj.mu.Unlock()
	})
	defer stop()

	obj.waiters++
	defer func() { obj.waiters-- }()

	for {
		select {
		case <-done:
			return v, false
		default:
		}
		if ctx.Err() != nil {
			return v, false
		}
		if v, ok := obj.popLocked(); ok {
			return v, true
		}
		if obj.closed {
			return v, false
		}
		obj.cond.Wait()
	}
}

// popLocked must be called with mu held.
func (obj *Queue[T]) popLocked() (v T, ok bool) {
	if obj.head == nil {
		return v, false
	}
	n := obj.head
	obj.head = n.next
	if obj.head == nil {
		obj.tail = nil
	}
	obj.size--
	return n.val, true
}

// Close marks the queue closed and wakes every blocked puller. Idempotent.
func (obj *Queue[T]) Close() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return
	}
	obj.closed = true
	obj.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (obj *Queue[T]) Closed() bool {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.closed
}

// Size returns the current element count.
func (obj *Queue[T]) Size() int {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.size
}

// Empty reports whether the queue currently holds no elements.
func (obj *Queue[T]) Empty() bool {
	return obj.Size() == 0
}

// Append splices all elements of other onto the tail of obj, leaving other
// empty, acquiring both queues' locks in a total order to avoid deadlock
// against a concurrent reverse Append.
func (obj *Queue[T]) Append(other *Queue[T]) {
	if obj == other {
		return
	}
	first, second := obj, other
	// order by pointer identity so two goroutines racing a.Append(b) and
	// b.Append(a) always agree on lock order.
	if ptrLess(second, first) {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if other.head == nil {
		return
	}
	if obj.tail == nil {
		obj.head = other.head
	} else {
		obj.tail.next = other.head
	}
	obj.tail = other.tail
	obj.size += other.size

	other.head, other.tail, other.size = nil, nil, 0
	obj.cond.Broadcast()
}

// Swap exchanges the contents of obj and other under both locks, in address
// order.
func (obj *Queue[T]) Swap(other *Queue[T]) {
	if obj == other {
		return
	}
	first, second := obj, other
	if ptrLess(second, first) {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	obj.head, other.head = other.head, obj.head
	obj.tail, other.tail = other.tail, obj.tail
	obj.size, other.size = other.size, obj.size
	obj.cond.Broadcast()
	other.cond.Broadcast()
}

func ptrLess[T any](a, b *Queue[T]) bool {
	return reflect.ValueOf(a).Pointer() < reflect.ValueOf(b).Pointer()
}
