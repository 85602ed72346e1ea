package orchestrator

import (
	"context"

	"github.com/AlexZinkM/pet-wallet/internal/model"
)

// Task is a submission running in its own goroutine. It yields exactly
// one terminal result.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	record *TransactionRecord
	err    error
}

// Start runs Submit asynchronously
func (o *Orchestrator) Start(ctx context.Context, calls []model.PreparedCall) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.record, t.err = o.Submit(ctx, calls)
	}()
	return t
}

// Done is closed once the task has a result
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the task. The poll timer is released before Done closes.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes
func (t *Task) Wait() (*TransactionRecord, error) {
	<-t.done
	return t.record, t.err
}
