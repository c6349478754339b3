// Package pool implements the dynamically sized worker thread pool that runs
// ultravm's tasks, plus a round-robin reactor pool and a simple timer
// service built on the same scheduling primitives.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/purpleidea/ultravm/task"
)

// workerState names where a pool worker goroutine currently is, mirrored in
// logs for diagnosing stuck pools.
type workerState int32

const (
	stateStart workerState = iota
	stateRunTask
	stateWaitSched
	stateIdleWait
	stateExpired
)

func (s workerState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateRunTask:
		return "run_task"
	case stateWaitSched:
		return "wait_sched"
	case stateIdleWait:
		return "idle_wait"
	case stateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Config tunes a ThreadPool. Zero values pick defaults.
type Config struct {
	MaxThreads         int
	WaitingTaskTimeout time.Duration // default 1s
	ExpiryTimeout      time.Duration // default 30s
	Scheduler          task.Scheduler
	Logf               func(format string, v ...interface{})
}

// ThreadPool is a worker pool that grows up to MaxThreads goroutines on
// demand and lets idle ones expire after ExpiryTimeout, reviving an expired
// worker slot instead of spawning a fresh goroutine when possible.
type ThreadPool struct {
	scheduler          task.Scheduler
	maxThreads         int
	waitingTaskTimeout time.Duration
	expiryTimeout      time.Duration
	logf               func(format string, v ...interface{})

	mu       sync.Mutex
	active   int // goroutines currently alive
	reserved int // active goroutines reserved (blocked on external work), not counted against maxThreads contention
	waiters  int // goroutines parked in stateWaitSched with nothing to do
	expired  int // goroutines parked in stateExpired, revivable
	revive   chan struct{}
	shutdown bool

	wg sync.WaitGroup
}

// New constructs a ThreadPool from cfg, defaulting MaxThreads to 1,
// WaitingTaskTimeout to 1s and ExpiryTimeout to 30s, and using a
// task.NewFIFOScheduler if cfg.Scheduler is nil.
func New(cfg Config) *ThreadPool {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 1
	}
	if cfg.WaitingTaskTimeout <= 0 {
		cfg.WaitingTaskTimeout = 1 * time.Second
	}
	if cfg.ExpiryTimeout <= 0 {
		cfg.ExpiryTimeout = 30 * time.Second
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = task.NewFIFOScheduler()
	}
	if cfg.Logf == nil {
		cfg.Logf = func(format string, v ...interface{}) { log.Printf("pool: "+format, v...) }
	}
	return &ThreadPool{
		scheduler:          cfg.Scheduler,
		maxThreads:         cfg.MaxThreads,
		waitingTaskTimeout: cfg.WaitingTaskTimeout,
		expiryTimeout:      cfg.ExpiryTimeout,
		logf:               cfg.Logf,
		revive:             make(chan struct{}, 1),
	}
}

// Execute admits t for execution, following a five-step policy: spawn a
// first worker if none exist yet; once active-reserved workers are at
// MaxThreads with none waiting or expired, queue t without spawning so a busy
// worker picks it up when it frees; push and signal if a worker is
// idle-waiting; revive an expired worker if one exists; otherwise spawn a
// new worker goroutine. It returns an error only after Shutdown.
func (obj *ThreadPool) Execute(t task.Task) error {
	obj.mu.Lock()
	if obj.shutdown {
		obj.mu.Unlock()
		return fmt.Errorf("pool: shutdown")
	}

	switch {
	case obj.active == 0:
		obj.spawnLocked()
	case obj.active-obj.reserved >= obj.maxThreads && obj.waiters == 0 && obj.expired == 0:
		// at capacity: queue t for the next worker that frees up.
	case obj.waiters > 0:
		// a worker is already parked in Schedule; just push, it'll wake.
	case obj.expired > 0:
		obj.mu.Unlock()
		obj.scheduler.Push(t)
		select {
		case obj.revive <- struct{}{}:
		default:
		}
		return nil
	default:
		obj.spawnLocked()
	}
	obj.mu.Unlock()

	obj.scheduler.Push(t)
	return nil
}

// ReserveThread marks the calling worker's thread as reserved, excluding it
// from the active-vs-MaxThreads contention check while it blocks on
// something outside the scheduler (e.g. a coroutine task awaiting I/O).
func (obj *ThreadPool) ReserveThread() {
	obj.mu.Lock()
	obj.reserved++
	obj.mu.Unlock()
}

// ReleaseThread undoes ReserveThread.
func (obj *ThreadPool) ReleaseThread() {
	obj.mu.Lock()
	if obj.reserved > 0 {
		obj.reserved--
	}
	obj.mu.Unlock()
}

func (obj *ThreadPool) spawnLocked() {
	obj.active++
	obj.wg.Add(1)
	go obj.worker()
}

// worker runs the START -> RUN_TASK -> WAIT_SCHED -> IDLE_WAIT -> EXPIRED
// state machine until the pool shuts down or it expires without revival.
func (obj *ThreadPool) worker() {
	defer obj.wg.Done()
	state := stateStart
	ctx := context.Background()

	for {
		switch state {
		case stateStart, stateRunTask:
			t, ok := obj.scheduler.Schedule(ctx, obj.waitingTaskTimeout)
			if !ok {
				state = stateWaitSched
				continue
			}
			t.Run()
			state = stateRunTask

		case stateWaitSched:
			obj.mu.Lock()
			if obj.shutdown {
				obj.active--
				obj.mu.Unlock()
				return
			}
			obj.waiters++
			obj.mu.Unlock()

			t, ok := obj.scheduler.Schedule(ctx, obj.waitingTaskTimeout)

			obj.mu.Lock()
			obj.waiters--
			obj.mu.Unlock()

			if ok {
				t.Run()
				state = stateRunTask
				continue
			}
			state = stateIdleWait

		case stateIdleWait:
			obj.mu.Lock()
			tooManyActive := obj.active-obj.reserved > 1 && obj.active > obj.maxThreads
			if obj.shutdown || tooManyActive {
				obj.active--
				obj.mu.Unlock()
				return
			}
			obj.expired++
			obj.mu.Unlock()
			state = stateExpired

		case stateExpired:
			select {
			case <-obj.revive:
				obj.mu.Lock()
				obj.expired--
				obj.mu.Unlock()
				state = stateRunTask
			case <-time.After(obj.expiryTimeout):
				obj.mu.Lock()
				obj.expired--
				obj.active--
				obj.mu.Unlock()
				return
			}
		}
	}
}

// WaitForDone blocks until the scheduler is empty and every worker is idle,
// or timeout elapses (a negative timeout waits indefinitely). It drains in
// multiple rounds since a running task may push more work before finishing.
func (obj *ThreadPool) WaitForDone(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if obj.scheduler.Empty() {
			obj.mu.Lock()
			idle := obj.active == obj.waiters+obj.expired
			obj.mu.Unlock()
			if idle {
				return nil
			}
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return fmt.Errorf("pool: wait_for_done timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

// Shutdown stops accepting new work, wakes every worker blocked in the
// scheduler, and joins all workers; a worker parked as expired exits only
// once its ExpiryTimeout elapses. It collects any teardown errors with multierror since
// worker goroutines fail independently of one another.
func (obj *ThreadPool) Shutdown() error {
	obj.mu.Lock()
	obj.shutdown = true
	obj.mu.Unlock()

	obj.scheduler.Stop()
	obj.scheduler.Clear()

	var result error
	done := make(chan struct{})
	go func() { obj.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(obj.expiryTimeout + obj.waitingTaskTimeout + 5*time.Second):
		result = multierror.Append(result, fmt.Errorf("pool: shutdown wait timed out"))
	}
	return result
}

// Active returns the number of live worker goroutines.
func (obj *ThreadPool) Active() int {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.active
}
