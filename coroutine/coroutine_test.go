package coroutine

import "testing"

func TestTaskRunsToCompletionWithoutYield(t *testing.T) {
	var ran bool
	tk := New(func(y *Yielder) {
		ran = true
	})

	if tk.State() != StateNotInit {
		t.Fatalf("initial state = %v, want not_init", tk.State())
	}

	if more := tk.Resume(); more {
		t.Fatal("Resume() reported more work for a task with no Yield")
	}
	if !ran {
		t.Fatal("coroutine body never ran")
	}
	if tk.State() != StateFinished {
		t.Fatalf("final state = %v, want finished", tk.State())
	}
}

func TestTaskYieldsAndResumes(t *testing.T) {
	var steps []int
	tk := New(func(y *Yielder) {
		steps = append(steps, 1)
		y.Yield()
		steps = append(steps, 2)
		y.Yield()
		steps = append(steps, 3)
	})

	if more := tk.Resume(); !more {
		t.Fatal("Resume() #1 reported no more work before the final Yield")
	}
	if len(steps) != 1 || steps[0] != 1 {
		t.Fatalf("steps = %v after Resume #1, want [1]", steps)
	}
	if tk.State() != StatePaused {
		t.Fatalf("state after Resume #1 = %v, want paused", tk.State())
	}

	if more := tk.Resume(); !more {
		t.Fatal("Resume() #2 reported no more work before the final Yield")
	}
	if len(steps) != 2 || steps[1] != 2 {
		t.Fatalf("steps = %v after Resume #2, want [1 2]", steps)
	}

	if more := tk.Resume(); more {
		t.Fatal("Resume() #3 reported more work after the body finished")
	}
	if len(steps) != 3 || steps[2] != 3 {
		t.Fatalf("steps = %v after Resume #3, want [1 2 3]", steps)
	}
	if tk.State() != StateFinished {
		t.Fatalf("final state = %v, want finished", tk.State())
	}
}

func TestTaskRecoversPanicIntoStateError(t *testing.T) {
	tk := New(func(y *Yielder) {
		panic("boom")
	})

	tk.Resume()
	if tk.State() != StateError {
		t.Fatalf("state = %v, want error", tk.State())
	}
	if tk.Err() == nil {
		t.Fatal("Err() = nil after a panicking body")
	}
}

func TestTaskCancelBeforeStartGoesDirectlyToCanceled(t *testing.T) {
	tk := New(func(y *Yielder) {})
	tk.Cancel()
	if tk.State() != StateCanceled {
		t.Fatalf("state = %v, want canceled", tk.State())
	}
	if more := tk.Resume(); more {
		t.Fatal("Resume() on a canceled task reported more work")
	}
}

func TestTaskCancelAfterYieldUnwindsToCanceled(t *testing.T) {
	reachedAfterYield := false
	tk := New(func(y *Yielder) {
		y.Yield()
		reachedAfterYield = true // must not run: Cancel unwinds at the Yield
	})

	tk.Resume() // runs to the Yield, parks in paused
	tk.Cancel() // requests unwind

	if tk.State() != StateCanceled {
		t.Fatalf("state = %v, want canceled", tk.State())
	}
	if reachedAfterYield {
		t.Fatal("coroutine body ran past its Yield point after Cancel")
	}
}
