package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WorkState is the lifecycle state of a submitted Work.
//
// Transitions are monotone except that Waiting -> Running -> Waiting is
// legal on requeue/retry.
type WorkState int32

const (
	WorkWaiting WorkState = iota
	WorkRunning
	WorkSucceeded
	WorkFailed
	WorkStopped
	WorkCancelled
)

func (s WorkState) String() string {
	switch s {
	case WorkWaiting:
		return "Waiting"
	case WorkRunning:
		return "Running"
	case WorkSucceeded:
		return "Succeeded"
	case WorkFailed:
		return "Failed"
	case WorkStopped:
		return "Stopped"
	case WorkCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s WorkState) IsTerminal() bool {
	switch s {
	case WorkSucceeded, WorkFailed, WorkStopped, WorkCancelled:
		return true
	default:
		return false
	}
}

// ThreadPriority is a scheduling hint; the current dispatcher does not map
// it to OS thread priorities, it is carried for callers that inspect it.
type ThreadPriority int

const (
	ThreadLowest ThreadPriority = iota
	ThreadBelowNormal
	ThreadNormal
	ThreadAboveNormal
	ThreadHighest
)

// RetryStrategy selects how a retried Work is rescheduled.
type RetryStrategy int

const (
	// RetryImmediate re-runs the work on the same worker without
	// returning to the dispatcher.
	RetryImmediate RetryStrategy = iota
	// RetryRequeue hands the work back to the dispatcher, which assigns
	// it to a worker chosen afresh, with ExecuteCount already incremented.
	RetryRequeue
)

// RetryOption controls retry-on-failure behavior for a single Work.
type RetryOption struct {
	Max      int
	Strategy RetryStrategy
	// Backoff is applied once between attempts, for both strategies: the
	// worker sleeps for it before re-running or requeueing the work. The
	// teacher's RetryPolicy ramps this exponentially; the dispatcher only
	// needs a flat delay.
	Backoff time.Duration
}

// NoRetry is the zero-value retry policy: fail immediately, no attempts.
var NoRetry = RetryOption{Max: 0}

// TimeoutOption bounds how long a Work (or the pool) may run before the
// dispatcher intervenes.
type TimeoutOption struct {
	Duration  time.Duration
	ForceStop bool
}

// WorkFunc is the opaque, user-supplied computation a Work wraps. The core
// never interprets its contents; it only invokes it and classifies the
// outcome.
type WorkFunc func(ctx context.Context) (any, error)

// WorkCallback is invoked exactly once per terminal execution of a Work.
type WorkCallback func(id string, result any, err error, state WorkState)

// WorkOptions configures a single submission. Zero value is a valid,
// best-effort, unprioritized, non-retried, dependency-free submission.
type WorkOptions struct {
	Priority       int
	ThreadPriority ThreadPriority
	Timeout        TimeoutOption
	Dependents     map[string]struct{}
	CustomWorkID   string
	Group          string
	LongRunning    bool
	Retry          RetryOption
	Callback       WorkCallback
}

// Work is the per-submission record the dispatcher owns. Its runtime
// fields are mutated only by the worker currently executing it (or by the
// dispatcher prior to dispatch); everything else reads it through the
// pool's setted_works registry.
type Work struct {
	ID       string
	Body     WorkFunc
	Callback WorkCallback
	Options  WorkOptions

	state atomic.Int32

	QueueTime time.Time
	StartTime time.Time
	EndTime   time.Time

	executeCount atomic.Int32
	shouldStop   atomic.Bool
	isPausing    atomic.Bool

	result any
	err    error

	waitGate  chan struct{}
	waitOnce  sync.Once
	pauseGate chan struct{}
	pauseMu   sync.Mutex

	// outstanding is the set of prerequisite ids not yet terminal. Only
	// touched by the dispatcher, guarded by outstandingMu.
	outstandingMu sync.Mutex
	outstanding   map[string]struct{}
}

func newWork(id string, body WorkFunc, opts WorkOptions) *Work {
	w := &Work{
		ID:        id,
		Body:      body,
		Callback:  opts.Callback,
		Options:   opts,
		waitGate:  make(chan struct{}),
		pauseGate: make(chan struct{}),
	}
	w.state.Store(int32(WorkWaiting))
	if len(opts.Dependents) > 0 {
		w.outstanding = make(map[string]struct{}, len(opts.Dependents))
		for id := range opts.Dependents {
			w.outstanding[id] = struct{}{}
		}
	}
	return w
}

func (w *Work) State() WorkState { return WorkState(w.state.Load()) }

func (w *Work) ExecuteCount() int { return int(w.executeCount.Load()) }

// Result returns the outcome of the most recent terminal execution. It is
// only meaningful after the work has reached a terminal state.
func (w *Work) Result() (any, error) { return w.result, w.err }

// markDone closes the wait gate exactly once, unblocking every Wait(id)
// caller.
func (w *Work) markDone() {
	w.waitOnce.Do(func() { close(w.waitGate) })
}

// requestStop sets the cooperative stop flag observed by StopIfRequested
// and CheckIfRequestedStop.
func (w *Work) requestStop() { w.shouldStop.Store(true) }

func (w *Work) stopRequested() bool { return w.shouldStop.Load() }

// pause/resume implement the per-work local pause gate described in
// spec §4.3 "Pause/Resume": only the worker currently executing this work,
// if parked inside PauseIfRequested, blocks on it.
func (w *Work) pause() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if !w.isPausing.Load() {
		w.isPausing.Store(true)
		w.pauseGate = make(chan struct{})
	}
}

func (w *Work) resume() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if w.isPausing.Load() {
		w.isPausing.Store(false)
		close(w.pauseGate)
	}
}

func (w *Work) pauseChan() <-chan struct{} {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	return w.pauseGate
}

func (w *Work) pausing() bool { return w.isPausing.Load() }
