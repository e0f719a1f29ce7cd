package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// future is the handle of a submitted task.
//
// done is closed exactly once, when the state becomes Done or Cancelled.
type future struct {
	id       uuid.UUID
	name     string
	periodic bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	runs    uint64
	lastErr error
}

func newFuture(parent context.Context, id uuid.UUID, t Task) *future {
	ctx, cancel := context.WithCancel(parent)
	return &future{
		id:       id,
		name:     t.Name,
		periodic: t.Periodic(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateSubmitted,
	}
}

// begin marks the start of a run. It fails once the handle is cancelled or done.
func (f *future) begin() (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateCancelled || f.state == StateDone {
		return 0, false
	}
	f.state = StateRunning
	f.runs++
	return f.runs, true
}

func (f *future) record(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

// finish completes the handle. A cancelled handle stays cancelled.
func (f *future) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.cancel()
	if f.state == StateCancelled || f.state == StateDone {
		return
	}
	f.state = StateDone
	close(f.done)
}

// Cancel prevents runs that have not started yet. With hard set, the context
// of a running task is cancelled too. It returns false if the handle already
// completed or was cancelled before.
func (f *future) Cancel(hard bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateCancelled || f.state == StateDone {
		return false
	}
	running := f.state == StateRunning
	f.state = StateCancelled
	close(f.done)
	if hard || !running {
		f.cancel()
	}
	return true
}

func (f *future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *future) info() TaskInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	ti := TaskInfo{ID: f.id, Name: f.name, Periodic: f.periodic, State: f.state.String(), Runs: f.runs}
	if f.lastErr != nil {
		ti.LastErr = f.lastErr.Error()
	}
	return ti
}
