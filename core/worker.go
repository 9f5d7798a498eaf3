package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// WorkerState mirrors spec §4.2's {Idle, Running, ToBeDisposed} machine.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerToBeDisposed
)

// Worker is a long-lived executor owning one goroutine (the closest Go
// equivalent of the source's dedicated OS thread), a private
// priority-ordered collection of pending works, and per-work timeout
// handling. Workers hold a non-owning back-reference to the pool that
// created them (spec §9: "avoid circular strong ownership"); the pool is
// the only strong owner, tracking workers in aliveWorkers.
type Worker struct {
	id         string
	pool       *PowerPool
	collection PriorityCollection

	runSignal chan struct{}
	killFlag  atomic.Bool

	gettedLock  atomic.Bool
	longRunning atomic.Bool
	state       atomic.Int32

	currentWorkPtr atomic.Pointer[Work]

	timeoutTimer *time.Timer
	abandonPtr   atomic.Pointer[chan struct{}] // closed to abandon the current body (ForceStop)
}

func newWorker(pool *PowerPool, longRunning bool) *Worker {
	w := &Worker{
		id:        generateWorkID(),
		pool:      pool,
		runSignal: make(chan struct{}, 1),
	}
	w.collection = pool.newCollection()
	w.state.Store(int32(WorkerIdle))
	w.longRunning.Store(longRunning)
	return w
}

// newCollection lets pool-level configuration choose queue vs stack
// ordering; default is the FIFO-within-priority queue variant.
func (p *PowerPool) newCollection() PriorityCollection {
	if p.opts.Collection == CollectionStack {
		return NewPriorityStackCollection()
	}
	return NewPriorityQueueCollection()
}

func (w *Worker) claim() bool { return w.gettedLock.CompareAndSwap(false, true) }
func (w *Worker) release()    { w.gettedLock.Store(false) }

// assign pushes a work onto this worker's private collection and wakes it
// if necessary. Called by the pool immediately after GetWorker returns
// this worker.
func (w *Worker) assign(work *Work) {
	priority := work.Options.Priority
	if WorkerState(w.state.Load()) == WorkerIdle && w.collection.IsEmpty() {
		// An idle worker takes the first work it is handed before anything
		// queued behind it, so a later, higher-priority work cannot
		// overtake it.
		priority = int(^uint(0) >> 1)
	}
	w.collection.Set(work, priority)
	w.pool.waitingWorkCount.Add(1)
	w.pool.waitingIDs.Store(work.ID, struct{}{})
	w.release()
	select {
	case w.runSignal <- struct{}{}:
	default:
	}
}

func (w *Worker) start() {
	go w.loop()
}

func (w *Worker) kill() {
	w.killFlag.Store(true)
	select {
	case w.runSignal <- struct{}{}:
	default:
	}
}

// forceAbandon is ForceStop's hard-kill path: the worker's current body is
// left to finish on its own abandoned goroutine while the worker itself
// is killed and never returns to idle_workers (spec §9: no true thread
// interrupt, a poison pill delivered at the next cooperation point, with
// a dedicated abandon signal reserved for ForceStop).
func (w *Worker) forceAbandon() {
	if p := w.abandonPtr.Load(); p != nil {
		ch := *p
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	w.kill()
}

func (w *Worker) loop() {
	for {
		<-w.runSignal
		if w.killFlag.Load() {
			return
		}
		w.drain()
	}
}

// drain runs works off the collection until it is empty, then returns the
// worker to the idle pool (spec §4.2 steps 3-7). The worker counts as
// "running" for the whole drain cycle, not per individual work, so that
// alive == idle + running holds at every quiescent instant (spec §8).
func (w *Worker) drain() {
	w.pool.onWorkerRunning()
	for {
		work, ok := w.collection.Get()
		if !ok {
			w.state.Store(int32(WorkerIdle))
			w.pool.onWorkerIdle(w)
			return
		}
		w.pool.waitingWorkCount.Add(-1)
		w.pool.waitingIDs.Delete(work.ID)
		w.runOne(work)
		if w.killFlag.Load() {
			w.pool.onWorkerKilled(w)
			return
		}
	}
}

func (w *Worker) runOne(work *Work) {
	if !work.state.CompareAndSwap(int32(WorkWaiting), int32(WorkRunning)) {
		// PowerPool.Cancel already moved it to Cancelled and ran its callback.
		return
	}
	w.state.Store(int32(WorkerRunning))
	w.currentWorkPtr.Store(work)
	defer func() {
		w.currentWorkPtr.Store(nil)
	}()

	w.pool.startCount.Add(1)

	if w.pool.cancelled() {
		w.finish(work, nil, nil, WorkCancelled, false)
		return
	}

	work.StartTime = time.Now()
	w.pool.bus.emit(Event{Kind: EventWorkStart, WorkID: work.ID})

	for {
		result, err, panicked, outcome := w.execute(work)
		if outcome == WorkFailed && w.shouldRetry(work) {
			if work.Options.Retry.Backoff > 0 {
				time.Sleep(work.Options.Retry.Backoff)
			}
			if work.Options.Retry.Strategy == RetryRequeue {
				w.requeue(work)
				return
			}
			continue // RetryImmediate: loop back to step 3 on this worker
		}
		w.finish(work, result, err, outcome, panicked)
		return
	}
}

// execute invokes the work body exactly once, classifying its outcome
// (spec §4.2 step 5) and managing the per-work timeout timer.
func (w *Worker) execute(work *Work) (result any, err error, panicked bool, outcome WorkState) {
	w.startTimeoutTimer(work)
	defer w.stopTimeoutTimer()

	abandon := make(chan struct{})
	w.abandonPtr.Store(&abandon)
	bodyCtx := context.WithValue(context.Background(), cooperatorKey, &workCooperator{pool: w.pool, work: work})

	type execResult struct {
		result   any
		err      error
		panicked bool
	}
	done := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.pool.opts.PanicHandler.HandlePanic(bodyCtx, work.ID, w.id, r, debugStack())
				w.pool.opts.Metrics.RecordWorkPanic(w.pool.opts.Name, r)
				done <- execResult{err: fmt.Errorf("work panicked: %v", r), panicked: true}
				return
			}
		}()
		res, bodyErr := work.Body(bodyCtx)
		done <- execResult{result: res, err: bodyErr}
	}()

	select {
	case r := <-done:
		if r.panicked {
			return r.result, r.err, true, WorkFailed
		}
		if r.err == ErrWorkStopped {
			return r.result, nil, false, WorkStopped
		}
		if r.err != nil {
			return r.result, r.err, false, WorkFailed
		}
		return r.result, nil, false, WorkSucceeded
	case <-abandon:
		// ForceStop: treat like the source's ThreadInterruptedException,
		// a Failed outcome; the abandoned goroutine's result is dropped.
		return nil, fmt.Errorf("work force-stopped"), false, WorkFailed
	}
}

func debugStack() []byte { return debug.Stack() }

func (w *Worker) shouldRetry(work *Work) bool {
	policy := work.Options.Retry
	if policy.Max <= 0 {
		return false
	}
	if work.ExecuteCount() >= policy.Max {
		return false
	}
	work.executeCount.Add(1)
	return true
}

// requeue resubmits the work to the dispatcher with ExecuteCount already
// incremented, per spec §4.2 step 5 "Requeue" strategy.
func (w *Worker) requeue(work *Work) {
	work.state.Store(int32(WorkWaiting))
	w.pool.dispatch(work)
}

func (w *Worker) startTimeoutTimer(work *Work) {
	timeout := work.Options.Timeout
	if timeout.Duration <= 0 {
		timeout = w.pool.opts.DefaultWorkTimeout
	}
	if timeout.Duration <= 0 {
		return
	}
	w.timeoutTimer = time.AfterFunc(timeout.Duration, func() {
		w.pool.bus.emit(Event{Kind: EventWorkTimeout, WorkID: work.ID})
		if timeout.ForceStop {
			w.forceAbandon()
		} else {
			work.requestStop()
		}
	})
}

func (w *Worker) stopTimeoutTimer() {
	if w.timeoutTimer != nil {
		w.timeoutTimer.Stop()
		w.timeoutTimer = nil
	}
}

// finish classifies the terminal state, emits WorkEnd, invokes the
// callback, then releases the wait gate — the order named by step 6 and
// exercised by the concrete "DefaultCallback fires after WorkEnd"
// scenario; see DESIGN.md for how that reading was chosen over the
// ordering-guarantee bullet's looser wording.
func (w *Worker) finish(work *Work, result any, err error, outcome WorkState, panicked bool) {
	work.EndTime = time.Now()
	work.result, work.err = result, err
	work.state.Store(int32(outcome))

	queueTime := work.StartTime.Sub(work.QueueTime)
	execTime := work.EndTime.Sub(work.StartTime)
	if queueTime < 0 {
		queueTime = 0
	}
	if execTime < 0 {
		execTime = 0
	}

	w.pool.bus.emit(Event{
		Kind:        EventWorkEnd,
		WorkID:      work.ID,
		Result:      result,
		Err:         err,
		State:       outcome,
		QueueTime:   queueTime,
		ExecuteTime: execTime,
	})

	cb := work.Callback
	if cb == nil {
		cb = w.pool.opts.DefaultCallback
	}
	if cb != nil {
		w.safeCallback(cb, work, result, err, outcome)
	}

	work.markDone()
	w.pool.onWorkTerminal(work, queueTime, execTime)
}

func (w *Worker) safeCallback(cb WorkCallback, work *Work, result any, err error, outcome WorkState) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.raiseErrorf("callback", "callback for work %s panicked: %v", work.ID, r)
		}
	}()
	cb(work.ID, result, err, outcome)
}
