package task

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Scheduler is the common interface the thread pool drives: push work in,
// pull it back out in whatever order the discipline defines.
type Scheduler interface {
	Push(t Task)
	// Schedule blocks up to maxWait for a task to become available. A
	// negative maxWait waits indefinitely. ok is false on timeout or
	// after Stop.
	Schedule(ctx context.Context, maxWait time.Duration) (t Task, ok bool)
	Size() int
	Empty() bool
	Clear()
	Stop()
}

// contenders tracks how many goroutines are currently blocked in Schedule,
// so Push only pays the cond.Signal cost when someone is actually waiting.
type contenders struct {
	mu        sync.Mutex
	cond      *sync.Cond
	count     int
	stopped   bool
}

func newContenders() *contenders {
	c := &contenders{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *contenders) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.cond.Broadcast()
}

// waitForSignal blocks the calling contender until woken, ctx is done, or
// maxWait elapses. It returns false if the caller should give up.
func (c *contenders) waitForSignal(ctx context.Context, maxWait time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}

	c.count++
	defer func() { c.count-- }()

	// The wake-ups take c.mu so they cannot fire between the checks above
	// and cond.Wait below and be lost.
	wake := func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
	stop := context.AfterFunc(ctx, wake)
	defer stop()

	var timer *time.Timer
	if maxWait >= 0 {
		timer = time.AfterFunc(maxWait, wake)
		defer timer.Stop()
	}
	deadline := time.Now().Add(maxWait)

	// One wait is enough: the caller (Schedule) re-checks for work and
	// calls back in if this returns true but the task was already taken
	// by another contender.
	c.cond.Wait()

	if c.stopped || ctx.Err() != nil {
		return false
	}
	if maxWait >= 0 && time.Now().After(deadline) {
		return false
	}
	return true
}

func (c *contenders) signalOne() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.cond.Signal()
	}
}

// --- FIFO ---

// FIFOScheduler dispatches tasks in arrival order.
type FIFOScheduler struct {
	mu   sync.Mutex
	list []Task
	c    *contenders
}

// NewFIFOScheduler returns an empty FIFO scheduler.
func NewFIFOScheduler() *FIFOScheduler {
	return &FIFOScheduler{c: newContenders()}
}

// Push appends t to the tail.
func (s *FIFOScheduler) Push(t Task) {
	s.mu.Lock()
	s.list = append(s.list, t)
	s.mu.Unlock()
	s.c.signalOne()
}

// Schedule pops from the head, waiting per the contenders protocol.
func (s *FIFOScheduler) Schedule(ctx context.Context, maxWait time.Duration) (Task, bool) {
	for {
		if t, ok := s.tryPop(); ok {
			return t, true
		}
		if !s.c.waitForSignal(ctx, maxWait) {
			if t, ok := s.tryPop(); ok {
				return t, true
			}
			return nil, false
		}
	}
}

func (s *FIFOScheduler) tryPop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) == 0 {
		return nil, false
	}
	t := s.list[0]
	s.list = s.list[1:]
	return t, true
}

// Size returns the pending task count.
func (s *FIFOScheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Empty reports whether Size is zero.
func (s *FIFOScheduler) Empty() bool {
	return s.Size() == 0
}

// Clear drops all pending tasks.
func (s *FIFOScheduler) Clear() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
}

// Stop wakes every blocked Schedule call; they return ok=false.
func (s *FIFOScheduler) Stop() {
	s.c.stop()
}

// --- LIFO ---

// LIFOScheduler dispatches the most recently pushed task first.
type LIFOScheduler struct {
	mu   sync.Mutex
	list []Task
	c    *contenders
}

// NewLIFOScheduler returns an empty LIFO scheduler.
func NewLIFOScheduler() *LIFOScheduler {
	return &LIFOScheduler{c: newContenders()}
}

// Push appends t; Schedule pops from the same end.
func (s *LIFOScheduler) Push(t Task) {
	s.mu.Lock()
	s.list = append(s.list, t)
	s.mu.Unlock()
	s.c.signalOne()
}

// Schedule pops the most recently pushed task.
func (s *LIFOScheduler) Schedule(ctx context.Context, maxWait time.Duration) (Task, bool) {
	for {
		if t, ok := s.tryPop(); ok {
			return t, true
		}
		if !s.c.waitForSignal(ctx, maxWait) {
			if t, ok := s.tryPop(); ok {
				return t, true
			}
			return nil, false
		}
	}
}

func (s *LIFOScheduler) tryPop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.list)
	if n == 0 {
		return nil, false
	}
	t := s.list[n-1]
	s.list = s.list[:n-1]
	return t, true
}

// Size returns the pending task count.
func (s *LIFOScheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Empty reports whether Size is zero.
func (s *LIFOScheduler) Empty() bool {
	return s.Size() == 0
}

// Clear drops all pending tasks.
func (s *LIFOScheduler) Clear() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
}

// Stop wakes every blocked Schedule call.
func (s *LIFOScheduler) Stop() {
	s.c.stop()
}

// --- Priority ---

type priorityItem struct {
	task Task
	seq  uint64 // breaks priority ties in arrival order
}

type priorityHeap []priorityItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority() != h[j].task.Priority() {
		return h[i].task.Priority() > h[j].task.Priority() // higher priority first
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(priorityItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PriorityScheduler dispatches the highest-Priority task first, breaking
// ties in arrival order.
type PriorityScheduler struct {
	mu   sync.Mutex
	heap priorityHeap
	seq  uint64
	c    *contenders
}

// NewPriorityScheduler returns an empty priority scheduler.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{c: newContenders()}
}

// Push inserts t into the heap.
func (s *PriorityScheduler) Push(t Task) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.heap, priorityItem{task: t, seq: s.seq})
	s.mu.Unlock()
	s.c.signalOne()
}

// Schedule pops the highest-priority pending task.
func (s *PriorityScheduler) Schedule(ctx context.Context, maxWait time.Duration) (Task, bool) {
	for {
		if t, ok := s.tryPop(); ok {
			return t, true
		}
		if !s.c.waitForSignal(ctx, maxWait) {
			if t, ok := s.tryPop(); ok {
				return t, true
			}
			return nil, false
		}
	}
}

func (s *PriorityScheduler) tryPop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&s.heap).(priorityItem)
	return item.task, true
}

// Size returns the pending task count.
func (s *PriorityScheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Empty reports whether Size is zero.
func (s *PriorityScheduler) Empty() bool {
	return s.Size() == 0
}

// Clear drops all pending tasks.
func (s *PriorityScheduler) Clear() {
	s.mu.Lock()
	s.heap = nil
	s.mu.Unlock()
}

// Stop wakes every blocked Schedule call.
func (s *PriorityScheduler) Stop() {
	s.c.stop()
}

var (
	_ Scheduler = (*FIFOScheduler)(nil)
	_ Scheduler = (*LIFOScheduler)(nil)
	_ Scheduler = (*PriorityScheduler)(nil)
)
