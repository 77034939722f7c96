// Package scheduler runs the backend operations of one apply session.
//
// A Queue drains its operations strictly in the order they were
// enqueued, one at a time. Every operation gets its own context, which
// is cancelled when the session times out or an earlier operation
// fails; operations not yet started are never issued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"grimm.is/hostnet/internal/clock"
	"grimm.is/hostnet/internal/logging"
)

// TaskFunc performs one queued operation.
// It receives a context that is cancelled if the session is aborted.
type TaskFunc func(ctx context.Context) error

// OpState is the lifecycle state of a queued operation.
type OpState int

const (
	OpPending OpState = iota
	OpRunning
	OpDone
	OpFailed
	OpCancelled
)

func (s OpState) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpRunning:
		return "running"
	case OpDone:
		return "done"
	case OpFailed:
		return "failed"
	case OpCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// OpStatus represents the current status of an operation.
type OpStatus struct {
	Seq      int           `json:"seq"`
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type op struct {
	seq      int
	name     string
	fn       TaskFunc
	state    OpState
	duration time.Duration
	err      error
}

// DefaultCancelGrace is how long a timed-out operation may take to
// return after its context is cancelled.
const DefaultCancelGrace = 2 * time.Second

// Queue is the operation queue of one apply session. It runs once.
type Queue struct {
	name   string
	mu     sync.Mutex
	ops    []*op
	ran    bool
	logger *slog.Logger
	clock  clock.Clock

	// OnComplete is called after every operation with its final status.
	OnComplete func(OpStatus)
	// CancelGrace bounds the wait for a cancelled operation to return.
	// Zero does not wait.
	CancelGrace time.Duration
}

// NewQueue creates an empty queue.
func NewQueue(name string, logger *logging.Logger) *Queue {
	var l *slog.Logger
	if logger == nil {
		l = logging.WithComponent("queue").Logger
	} else {
		l = logger.Logger
	}
	return &Queue{
		name:   name,
		logger: l.With("queue", name),
		clock:  clock.RealClock{},

		CancelGrace: DefaultCancelGrace,
	}
}

// Enqueue appends an operation.
func (q *Queue) Enqueue(name string, fn TaskFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("operation %s has no function", name)
	}
	if q.ran {
		return fmt.Errorf("queue %s already ran", q.name)
	}
	q.ops = append(q.ops, &op{seq: len(q.ops) + 1, name: name, fn: fn})
	return nil
}

// Len returns the number of enqueued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Names returns operation names in run order.
func (q *Queue) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, len(q.ops))
	for i, o := range q.ops {
		names[i] = o.name
	}
	return names
}

// Run drains the queue. A timeout <= 0 leaves the run bounded only by
// ctx. The first failure or the timeout cancels the outstanding
// operations and is returned.
func (q *Queue) Run(ctx context.Context, timeout time.Duration) error {
	q.mu.Lock()
	if q.ran {
		q.mu.Unlock()
		return fmt.Errorf("queue %s already ran", q.name)
	}
	q.ran = true
	ops := q.ops
	q.mu.Unlock()

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	q.logger.Debug("running queue", "ops", len(ops), "timeout", timeout)

	for i, o := range ops {
		if err := ctx.Err(); err != nil {
			q.cancelFrom(ops[i:])
			return fmt.Errorf("queue %s aborted before %s: %w", q.name, o.name, err)
		}
		if err := q.runOne(ctx, o); err != nil {
			q.cancelFrom(ops[i+1:])
			return err
		}
	}
	return nil
}

func (q *Queue) runOne(ctx context.Context, o *op) error {
	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()

	q.setState(o, OpRunning, 0, nil)
	start := q.clock.Now()
	done := make(chan error, 1)
	go func() {
		done <- o.fn(opCtx)
	}()

	select {
	case err := <-done:
		elapsed := q.clock.Since(start)
		if err != nil {
			q.setState(o, OpFailed, elapsed, err)
			q.logger.Warn("operation failed", "op", o.name, "error", err, "duration", elapsed)
			return fmt.Errorf("failed to %s: %w", o.name, err)
		}
		q.setState(o, OpDone, elapsed, nil)
		q.logger.Debug("operation completed", "op", o.name, "duration", elapsed)
		return nil
	case <-ctx.Done():
		opCancel()
		if q.CancelGrace > 0 && !q.awaitReturn(done) {
			q.logger.Warn("operation still running after cancellation", "op", o.name, "grace", q.CancelGrace)
		}
		q.setState(o, OpCancelled, q.clock.Since(start), ctx.Err())
		q.logger.Warn("operation cancelled", "op", o.name, "error", ctx.Err())
		return fmt.Errorf("queue %s timed out during %s: %w", q.name, o.name, ctx.Err())
	}
}

// awaitReturn waits up to CancelGrace for a cancelled operation to
// return, so a following session does not race its netlink calls.
func (q *Queue) awaitReturn(done <-chan error) bool {
	expired := make(chan struct{})
	t := q.clock.AfterFunc(q.CancelGrace, func() { close(expired) })
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-expired:
		return false
	}
}

func (q *Queue) cancelFrom(ops []*op) {
	for _, o := range ops {
		q.setState(o, OpCancelled, 0, nil)
	}
}

func (q *Queue) setState(o *op, state OpState, d time.Duration, err error) {
	q.mu.Lock()
	o.state = state
	o.duration = d
	o.err = err
	st := o.status()
	cb := q.OnComplete
	q.mu.Unlock()

	if cb != nil && state != OpRunning {
		cb(st)
	}
}

func (o *op) status() OpStatus {
	st := OpStatus{Seq: o.seq, Name: o.name, State: o.state.String(), Duration: o.duration}
	if o.err != nil {
		st.Error = o.err.Error()
	}
	return st
}

// Status returns the status of every operation in run order.
func (q *Queue) Status() []OpStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]OpStatus, len(q.ops))
	for i, o := range q.ops {
		out[i] = o.status()
	}
	return out
}
