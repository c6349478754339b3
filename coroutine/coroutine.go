// Package coroutine implements a cooperatively scheduled task built on a
// goroutine and a pair of unbuffered channels standing in for a stackful
// context switch: Go has no user-space stack-swap primitive, so a blocked
// goroutine paired with a rendezvous channel is the idiomatic substitute.
package coroutine

import (
	"fmt"
	"sync"
)

// State names where a Task currently is in its lifecycle.
type State int32

const (
	StateNotInit State = iota
	StateReady
	StateRunning
	StatePaused
	StateCanceled
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateNotInit:
		return "not_init"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCanceled:
		return "canceled"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// unwind is the sentinel value a Task's body panics with in response to
// Cancel, so it can be distinguished from an application panic and recovered
// into StateCanceled rather than StateError.
type unwind struct{}

// Yielder is handed to a coroutine's body so it can suspend itself.
type Yielder struct {
	resume  chan struct{}
	yielded chan struct{}
	t       *Task
}

// Yield suspends the coroutine until the next call to Task.Resume. It
// panics with the unwind sentinel if the task has been canceled, so body
// code should not recover generic panics around a Yield call.
func (y *Yielder) Yield() {
	y.yielded <- struct{}{}
	<-y.resume
	if y.t.canceling {
		panic(unwind{})
	}
}

// Task is a single coroutine: a user function run on its own goroutine,
// suspended and resumed via Yielder.Yield / Task.Resume.
type Task struct {
	mu        sync.Mutex
	state     State
	body      func(*Yielder)
	yielder   *Yielder
	canceling bool
	err       error
	started   bool
}

// New constructs a not-yet-started coroutine around body. body receives a
// Yielder it can call Yield on to suspend.
func New(body func(*Yielder)) *Task {
	t := &Task{state: StateNotInit, body: body}
	t.yielder = &Yielder{
		resume:  make(chan struct{}),
		yielded: make(chan struct{}),
		t:       t,
	}
	return t
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that moved the task to StateError, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Resume starts the coroutine (on first call) or continues it past its last
// Yield (on subsequent calls), blocking until the coroutine yields again or
// finishes. It returns false once the task has reached a terminal state.
func (t *Task) Resume() bool {
	t.mu.Lock()
	if t.state == StateFinished || t.state == StateCanceled || t.state == StateError {
		t.mu.Unlock()
		return false
	}
	first := !t.started
	t.started = true
	t.state = StateRunning
	t.mu.Unlock()

	if first {
		go t.run()
	} else {
		t.yielder.resume <- struct{}{}
	}

	<-t.yielder.yielded
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		t.state = StatePaused
	}
	return t.state != StateFinished && t.state != StateCanceled && t.state != StateError
}

func (t *Task) run() {
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			if _, ok := r.(unwind); ok {
				t.state = StateCanceled
			} else {
				t.state = StateError
				t.err = fmt.Errorf("coroutine: panic: %v", r)
			}
			t.mu.Unlock()
		}
		t.yielder.yielded <- struct{}{}
	}()
	t.body(t.yielder)
	t.mu.Lock()
	t.state = StateFinished
	t.mu.Unlock()
}

// Cancel requests that the coroutine unwind at its next Yield point. It
// blocks until the coroutine has actually reached StateCanceled (or
// StateFinished/StateError if it raced to completion first).
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state == StateFinished || t.state == StateCanceled || t.state == StateError {
		t.mu.Unlock()
		return
	}
	if !t.started {
		t.state = StateCanceled
		t.mu.Unlock()
		return
	}
	t.canceling = true
	t.mu.Unlock()

	t.yielder.resume <- struct{}{}
	<-t.yielder.yielded
}
