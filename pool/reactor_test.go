package pool

import (
	"sync"
	"testing"
	"time"
)

func TestReactorPostRunsInOrder(t *testing.T) {
	r := NewReactor(16)
	defer r.Stop()

	var order []int
	var mu sync.Mutex
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		r.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor never drained its queue")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want [0 1 2 3 4]", order)
		}
	}
}

func TestReactorPoolRoundRobins(t *testing.T) {
	rp := NewReactorPool(3, 4)
	defer rp.Stop()

	seen := map[*Reactor]bool{}
	for i := 0; i < 3; i++ {
		seen[rp.Next()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("saw %d distinct reactors across 3 calls, want 3", len(seen))
	}
}

func TestTimerServiceAfterFiresOnce(t *testing.T) {
	ts := NewTimerService()
	defer ts.Stop()

	var count int
	var mu sync.Mutex
	done := make(chan struct{})
	ts.After(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("After callback never fired")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestTimerServiceEveryFiresRepeatedlyUntilStop(t *testing.T) {
	ts := NewTimerService()

	var count int32Counter
	ts.Every(5*time.Millisecond, func() {
		count.inc()
	})

	time.Sleep(50 * time.Millisecond)
	ts.Stop()

	n := count.get()
	if n < 3 {
		t.Fatalf("Every fired %d times in 50ms at a 5ms period, want at least 3", n)
	}

	time.Sleep(30 * time.Millisecond)
	if count.get() != n {
		t.Fatal("Every kept firing after Stop")
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
