package supervisor

import (
	"context"
	"sync"
)

// Task is a background operation. Done is closed once it has finished.
type Task struct {
	done chan struct{}
	once sync.Once
	err  error

	// set on stop tasks that own a process
	run    uint64
	killFn func() error
}

func newTask() *Task { return &Task{done: make(chan struct{})} }

func newStopTask(run uint64, kill func() error) *Task {
	t := newTask()
	t.run = run
	t.killFn = kill
	return t
}

// kill terminates the process the task owns, if any.
func (t *Task) kill() error {
	if t.killFn == nil {
		return nil
	}
	return t.killFn()
}

// Completed returns a task that has already finished with err.
func Completed(err error) *Task {
	t := newTask()
	t.finish(err)
	return t
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result; it is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
