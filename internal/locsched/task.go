package locsched

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// ExecutionState is the lifecycle state of a location task.
type ExecutionState int32

const (
	StateIdle ExecutionState = iota
	StateRunning
	StateCancelledRunning
	StateFinished
	StateCancelled
)

func (s ExecutionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelledRunning:
		return "cancelled-running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ExecutionState(%d)", int32(s))
	}
}

// CancelResult describes what Cancel did.
type CancelResult int

const (
	CancelledByCaller CancelResult = iota
	CancelledAlready
	// Running is returned for a one-shot task that is executing right now.
	Running
	AlreadyExecuted
	// NextRunsCancelled is returned for a repeating task cancelled while executing.
	NextRunsCancelled
	NextRunsCancelledAlready
)

func (r CancelResult) String() string {
	switch r {
	case CancelledByCaller:
		return "cancelled-by-caller"
	case CancelledAlready:
		return "cancelled-already"
	case Running:
		return "running"
	case AlreadyExecuted:
		return "already-executed"
	case NextRunsCancelled:
		return "next-runs-cancelled"
	case NextRunsCancelledAlready:
		return "next-runs-cancelled-already"
	default:
		return fmt.Sprintf("CancelResult(%d)", int(r))
	}
}

// Func is the body of a location task.
type Func func(ctx context.Context, t *Task)

// Task is a delayed or repeating task bound to a cell.
type Task struct {
	cellX, cellZ int32
	section      int64
	period       int64 // ticks; 0 for one-shot tasks

	fn    Func
	state atomic.Int32
}

// Cell returns the cell the task is bound to.
func (t *Task) Cell() (x, z int32) {
	return t.cellX, t.cellZ
}

// Repeating reports whether the task reschedules itself.
func (t *Task) Repeating() bool {
	return t.period > 0
}

// State returns the execution state.
func (t *Task) State() ExecutionState {
	return ExecutionState(t.state.Load())
}

// Cancel stops future executions. Safe to call from any goroutine, including
// from inside the task.
func (t *Task) Cancel() CancelResult {
	for {
		switch cur := t.State(); cur {
		case StateIdle:
			if t.state.CompareAndSwap(int32(StateIdle), int32(StateCancelled)) {
				return CancelledByCaller
			}
		case StateRunning:
			if !t.Repeating() {
				return Running
			}
			if t.state.CompareAndSwap(int32(StateRunning), int32(StateCancelledRunning)) {
				return NextRunsCancelled
			}
		case StateCancelledRunning:
			return NextRunsCancelledAlready
		case StateFinished:
			return AlreadyExecuted
		case StateCancelled:
			return CancelledAlready
		default:
			panic(fmt.Sprintf("locsched: unknown task state %d", cur))
		}
	}
}

// run executes the task once. Returns whether a repeating task must be
// scheduled again. A panicking task is logged and treated as completed.
func (t *Task) run(ctx context.Context) (reschedule bool) {
	if !t.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Location task failed",
				"cellX", t.cellX,
				"cellZ", t.cellZ,
				"panic", r,
				"stack", string(debug.Stack()))
		}

		switch {
		case !t.Repeating():
			t.state.Store(int32(StateFinished))
		case t.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)):
			reschedule = true
		default:
			t.state.Store(int32(StateCancelled))
		}
	}()

	t.fn(ctx, t)
	return false
}
