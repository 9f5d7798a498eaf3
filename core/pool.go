package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PoolState is the dispatcher-wide state machine (spec §2 item 4, §4.3
// "Idle sweep").
type PoolState int32

const (
	PoolNotRunning PoolState = iota
	PoolRunning
	PoolIdleChecked
)

// ErrPoolDisposed is returned by Queue/Wait/etc. after Dispose has run.
var ErrPoolDisposed = errors.New("powerpool: pool has been disposed")

// ErrWorkNotFound is returned by per-id operations on an id the pool has
// never seen or has already forgotten.
var ErrWorkNotFound = errors.New("powerpool: work id not found")

// PowerPool is the dispatcher: it owns every worker, the global
// settable-work registry, the group and dependency indexes, the pool
// state machine, pool-wide timeout, cancellation token, pause gate and
// event fan-out (spec §2 item 4, §4.3).
type PowerPool struct {
	opts PoolOptions
	bus  *eventBus

	// creation/idle-list structural changes are serialized through mu;
	// this mirrors the teacher's single create-worker lock generalized
	// to cover the idle-list pop/push too, since both participate in
	// the same reuse-or-create-or-balance decision.
	mu           sync.Mutex
	aliveWorkers map[string]*Worker
	idleOrder    []string
	idleSet      map[string]struct{}

	settedWorks sync.Map // id -> *Work
	groups      *groupIndex
	deps        *dependencyIndex
	failedSet   sync.Map // id -> struct{}
	waitingIDs  sync.Map // id -> struct{}, mirrors waitingWorkCount

	state              atomic.Int32
	runningWorkerCount atomic.Int32
	longRunningCount   atomic.Int32
	waitingWorkCount   atomic.Int32

	cancelMu  sync.Mutex
	cancelCtx context.Context
	cancelFn  context.CancelFunc

	pauseMu   sync.Mutex
	pauseGate chan struct{}

	waitAllMu   sync.Mutex
	waitAllGate chan struct{}

	poolTimerMu sync.Mutex
	poolTimer   *time.Timer

	suspendedMu    sync.Mutex
	suspendedQueue []*suspendedSubmission

	history *workHistory

	startCount        atomic.Int64
	endCount          atomic.Int64
	totalQueueTimeNs  atomic.Int64
	totalExecTimeNs   atomic.Int64

	disposed atomic.Bool
	started  atomic.Bool
}

type suspendedSubmission struct {
	work *Work
}

// New constructs a PowerPool. An error is returned only for the
// configuration invariant named in spec §6: MinThreads > MaxThreads.
func New(opts PoolOptions) (*PowerPool, error) {
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = defaultMaxThreads()
	}
	if opts.DestroyThread.MinThreads > opts.MaxThreads {
		return nil, &ConfigError{Msg: "the minimum number of threads cannot be greater than the maximum number of threads"}
	}
	if opts.Logger == nil {
		opts.Logger = &NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = &NilMetrics{}
	}
	if opts.PanicHandler == nil {
		opts.PanicHandler = &DefaultPanicHandler{}
	}
	if opts.RejectHandler == nil {
		opts.RejectHandler = &DefaultRejectedWorkHandler{}
	}
	if opts.DependencyReleasesOn == nil {
		opts.DependencyReleasesOn = func(WorkState) bool { return true }
	}
	if opts.Name == "" {
		opts.Name = "powerpool"
	}

	p := &PowerPool{
		opts:         opts,
		bus:          newEventBus(opts.Logger),
		aliveWorkers: make(map[string]*Worker),
		idleSet:      make(map[string]struct{}),
		groups:       newGroupIndex(),
		deps:         newDependencyIndex(),
		history:      newWorkHistory(defaultHistoryCapacity),
	}
	p.state.Store(int32(PoolNotRunning))
	p.resetPauseGate()
	p.resetWaitAllGate(true)
	p.renewCancelToken()

	for i := 0; i < opts.DestroyThread.MinThreads; i++ {
		p.createWorker(false, true)
	}

	return p, nil
}

func (p *PowerPool) Name() string { return p.opts.Name }

// Exists reports whether id is currently tracked in the settable-work
// registry, i.e. it has been submitted and has not yet been removed after
// reaching a terminal state.
func (p *PowerPool) Exists(id string) bool {
	_, ok := p.settedWorks.Load(id)
	return ok
}

// GroupMembers returns a snapshot of ids currently registered under label
// (spec §4.4 "GetGroupMemberList").
func (p *PowerPool) GroupMembers(label string) []string {
	return p.groups.members(label)
}

// Subscribe registers an event handler. Multiple handlers may be
// registered; all fire for every event (spec §6 "multi-subscriber
// fan-out").
func (p *PowerPool) Subscribe(h Handler) { p.bus.Subscribe(h) }

// ---------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------

// Queue submits body for execution and returns its id. This is the
// canonical shape named in spec §6; ergonomic wrappers live outside core.
func (p *PowerPool) Queue(body WorkFunc, opts WorkOptions) (string, error) {
	if p.disposed.Load() {
		p.opts.RejectHandler.HandleRejectedWork(p.opts.Name, opts.CustomWorkID, "pool disposed")
		p.opts.Metrics.RecordWorkRejected(p.opts.Name, "pool disposed")
		return "", ErrPoolDisposed
	}

	id := opts.CustomWorkID
	if id == "" {
		id = generateWorkID()
	}

	w := newWork(id, body, opts)
	w.QueueTime = time.Now()
	p.settedWorks.Store(id, w)
	p.groups.add(opts.Group, id)

	p.suspendedMu.Lock()
	suspended := p.startSuspendedPending()
	if suspended {
		p.suspendedQueue = append(p.suspendedQueue, &suspendedSubmission{work: w})
	}
	p.suspendedMu.Unlock()
	if suspended {
		return id, nil
	}

	p.admit(w)
	return id, nil
}

// startSuspendedPending reports whether new submissions should still be
// held: true only while StartSuspended was configured and Start() has not
// yet run.
func (p *PowerPool) startSuspendedPending() bool {
	return p.opts.StartSuspended && !p.started.Load()
}

// admit is the shared path for a freshly-submitted or dependency-released
// work: hold it if dependencies are outstanding, else dispatch it.
func (p *PowerPool) admit(w *Work) {
	w.outstandingMu.Lock()
	outstanding := len(w.outstanding) > 0
	w.outstandingMu.Unlock()

	if outstanding {
		p.deps.hold(w)
		return
	}

	p.ensureRunning()
	p.dispatch(w)
}

// Start drains the suspended holding queue in insertion order (spec
// §4.5). It is a no-op if StartSuspended was not configured.
func (p *PowerPool) Start() {
	if !p.opts.StartSuspended {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.suspendedMu.Lock()
	pending := p.suspendedQueue
	p.suspendedQueue = nil
	p.suspendedMu.Unlock()

	for _, s := range pending {
		p.admit(s.work)
	}
}

func (p *PowerPool) ensureRunning() {
	if PoolState(p.state.Load()) != PoolNotRunning {
		return
	}
	if !p.state.CompareAndSwap(int32(PoolNotRunning), int32(PoolRunning)) {
		return
	}
	p.failedSet = sync.Map{}
	p.resetWaitAllGate(false)
	p.startPoolTimer()
	p.bus.emit(Event{Kind: EventPoolStart})
}

// dispatch assigns w to a worker chosen by GetWorker and pushes it onto
// that worker's private priority collection.
func (p *PowerPool) dispatch(w *Work) {
	worker := p.getWorker(w.Options.LongRunning)
	worker.assign(w)
}

// ---------------------------------------------------------------------
// Worker acquisition (spec §4.3 "Worker acquisition")
// ---------------------------------------------------------------------

func (p *PowerPool) getWorker(longRunning bool) *Worker {
	// Step 1: reuse an idle worker.
	p.mu.Lock()
	for len(p.idleOrder) > 0 {
		id := p.idleOrder[0]
		p.idleOrder = p.idleOrder[1:]
		delete(p.idleSet, id)
		w, ok := p.aliveWorkers[id]
		if !ok {
			continue
		}
		p.mu.Unlock()
		if w.claim() {
			if longRunning {
				p.longRunningCount.Add(1)
				w.longRunning.Store(true)
			}
			return w
		}
		p.mu.Lock()
	}

	// Step 2: create under cap.
	capacity := p.opts.MaxThreads + int(p.longRunningCount.Load())
	if len(p.aliveWorkers) < capacity {
		p.mu.Unlock()
		w := p.createWorker(longRunning, false)
		w.claim()
		if longRunning {
			p.longRunningCount.Add(1)
		}
		return w
	}

	// Step 3: balance across busy, non-long-running workers. A candidate
	// must be claimed before the previous best is released, so that no
	// worker is ever left unclaimed while still referenced by best.
	var best *Worker
	bestLoad := -1
	for _, w := range p.aliveWorkers {
		if w.longRunning.Load() {
			continue
		}
		load := w.collection.Len()
		if bestLoad == -1 || load < bestLoad {
			if !w.claim() {
				continue
			}
			if best != nil {
				best.release()
			}
			best = w
			bestLoad = load
		}
	}
	p.mu.Unlock()
	if best == nil {
		// Every worker is long-running or momentarily unclaimable;
		// fall back to creating one more than the nominal cap rather
		// than losing the submission.
		w := p.createWorker(longRunning, false)
		w.claim()
		if longRunning {
			p.longRunningCount.Add(1)
		}
		return w
	}
	if longRunning {
		p.longRunningCount.Add(1)
		best.longRunning.Store(true)
	}
	return best
}

// createWorker allocates and starts a new worker. registerIdle should be
// true only for warm-pool creation (New's MinThreads prefill), where the
// worker has no work yet and must be reachable through the idle list;
// callers that create a worker to immediately hand it a work (GetWorker's
// create-under-cap/balance steps) pass false, since claim() — not idle
// list membership — governs those workers' availability.
func (p *PowerPool) createWorker(longRunning bool, registerIdle bool) *Worker {
	w := newWorker(p, longRunning)
	p.mu.Lock()
	p.aliveWorkers[w.id] = w
	if registerIdle {
		p.idleOrder = append(p.idleOrder, w.id)
		p.idleSet[w.id] = struct{}{}
	}
	p.mu.Unlock()
	w.start()
	return w
}

// onWorkerIdle returns a worker to the idle pool. Called by the worker
// itself once its private collection drains.
func (p *PowerPool) onWorkerIdle(w *Worker) {
	p.mu.Lock()
	if _, listed := p.idleSet[w.id]; !listed {
		p.idleOrder = append(p.idleOrder, w.id)
		p.idleSet[w.id] = struct{}{}
	}
	p.mu.Unlock()
	p.runningWorkerCount.Add(-1)
	if w.longRunning.Load() {
		w.longRunning.Store(false)
		p.longRunningCount.Add(-1)
	}
	p.checkIdle()
}

func (p *PowerPool) onWorkerRunning() {
	p.runningWorkerCount.Add(1)
}

// onWorkerKilled is the counterpart to onWorkerIdle for a worker that hit
// its kill flag mid-drain: it leaves the running/long-running counters
// balanced but, unlike onWorkerIdle, does not make the worker reachable
// again through the idle list.
func (p *PowerPool) onWorkerKilled(w *Worker) {
	p.runningWorkerCount.Add(-1)
	if w.longRunning.Load() {
		w.longRunning.Store(false)
		p.longRunningCount.Add(-1)
	}
	p.destroyWorker(w)
	p.checkIdle()
}

func (p *PowerPool) destroyWorker(w *Worker) {
	p.mu.Lock()
	delete(p.aliveWorkers, w.id)
	delete(p.idleSet, w.id)
	for i, id := range p.idleOrder {
		if id == w.id {
			p.idleOrder = append(p.idleOrder[:i], p.idleOrder[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// ---------------------------------------------------------------------
// Dependency release (spec §4.3 "Dependency release")
// ---------------------------------------------------------------------

func (p *PowerPool) releaseDependents(id string, finalState WorkState) {
	if !p.opts.DependencyReleasesOn(finalState) {
		return
	}
	ready := p.deps.release(id, &p.settedWorks)
	for _, dep := range ready {
		p.admit(dep)
	}
}

// ---------------------------------------------------------------------
// Work completion bookkeeping, shared by Worker after every terminal run.
// ---------------------------------------------------------------------

func (p *PowerPool) onWorkTerminal(w *Work, queueTime, execTime time.Duration) {
	p.endCount.Add(1)
	p.totalQueueTimeNs.Add(int64(queueTime))
	p.totalExecTimeNs.Add(int64(execTime))

	state := w.State()
	if state == WorkFailed {
		p.failedSet.Store(w.ID, struct{}{})
	}

	p.settedWorks.Delete(w.ID)
	p.groups.remove(w.Options.Group, w.ID)

	p.history.add(WorkExecutionRecord{
		WorkID:      w.ID,
		State:       state,
		QueueTime:   queueTime,
		ExecuteTime: execTime,
		StartedAt:   w.StartTime,
		FinishedAt:  w.EndTime,
		Panicked:    state == WorkFailed,
	})

	p.opts.Metrics.RecordWorkDuration(p.opts.Name, w.Options.Priority, execTime)

	p.releaseDependents(w.ID, state)
	p.checkIdle()
}

// ---------------------------------------------------------------------
// Idle sweep (spec §4.3 "Idle sweep")
// ---------------------------------------------------------------------

func (p *PowerPool) checkIdle() {
	if PoolState(p.state.Load()) != PoolRunning {
		return
	}
	if p.runningWorkerCount.Load() != 0 {
		return
	}
	if p.waitingWorkCount.Load() != 0 {
		return
	}
	if !p.state.CompareAndSwap(int32(PoolRunning), int32(PoolIdleChecked)) {
		return
	}

	p.bus.emit(Event{Kind: EventPoolIdle})
	p.stopPoolTimer()
	p.renewCancelToken()
	p.resetPauseGate()
	p.state.Store(int32(PoolNotRunning))
	p.resetWaitAllGate(true)
}

// ---------------------------------------------------------------------
// Stop / Pause / Resume / Wait (spec §4.3)
// ---------------------------------------------------------------------

// Stop requests every worker to cooperatively abandon its current and
// queued work as soon as it next reaches a cooperation point. forceStop
// additionally abandons in-flight work bodies without waiting for them
// and clears the registries immediately.
func (p *PowerPool) Stop(forceStop bool) {
	p.cancelMu.Lock()
	cancel := p.cancelFn
	p.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	if !forceStop {
		return
	}

	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.aliveWorkers))
	for _, w := range p.aliveWorkers {
		workers = append(workers, w)
	}
	p.mu.Unlock()
	for _, w := range workers {
		w.forceAbandon()
	}

	p.settedWorks.Range(func(key, _ any) bool {
		p.settedWorks.Delete(key)
		return true
	})
	p.groups = newGroupIndex()
}

// StopWork requests a cooperative stop of a single work by id. Returns
// ErrWorkNotFound if the work is absent or already terminal.
func (p *PowerPool) StopWork(id string) error {
	v, ok := p.settedWorks.Load(id)
	if !ok {
		return ErrWorkNotFound
	}
	w := v.(*Work)
	if w.State().IsTerminal() {
		return ErrWorkNotFound
	}
	w.requestStop()
	p.bus.emit(Event{Kind: EventWorkStop, WorkID: id})
	return nil
}

// Cancel cancels a work that has not yet started. If it has already
// started, this behaves like StopWork (cooperative). A not-yet-started
// cancellation transitions the work directly to Cancelled, removes it
// from every registry, and releases its dependents (spec §5 "Cancellation
// semantics").
func (p *PowerPool) Cancel(id string) error {
	v, ok := p.settedWorks.Load(id)
	if !ok {
		return ErrWorkNotFound
	}
	w := v.(*Work)
	if w.state.CompareAndSwap(int32(WorkWaiting), int32(WorkCancelled)) {
		w.EndTime = time.Now()
		p.settedWorks.Delete(id)
		p.groups.remove(w.Options.Group, id)
		p.deps.forget(w)
		w.markDone()
		if w.Callback != nil {
			w.Callback(id, nil, nil, WorkCancelled)
		}
		p.releaseDependents(id, WorkCancelled)
		return nil
	}
	return p.StopWork(id)
}

// Pause clears the pool-wide pause gate; every work body parked in (or
// subsequently reaching) PauseIfRequested blocks until Resume.
func (p *PowerPool) Pause() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	select {
	case <-p.pauseGate:
		p.pauseGate = make(chan struct{})
	default:
	}
}

// Resume sets the pool-wide pause gate, releasing every parked body.
func (p *PowerPool) Resume() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	select {
	case <-p.pauseGate:
	default:
		close(p.pauseGate)
	}
}

// PauseWork pauses a single work by id; only its executing worker, if
// parked in PauseIfRequested, blocks on it.
func (p *PowerPool) PauseWork(id string) error {
	v, ok := p.settedWorks.Load(id)
	if !ok {
		return ErrWorkNotFound
	}
	v.(*Work).pause()
	return nil
}

// ResumeWork is a no-op if the work is not currently paused (idempotence
// law, spec §8).
func (p *PowerPool) ResumeWork(id string) error {
	v, ok := p.settedWorks.Load(id)
	if !ok {
		return ErrWorkNotFound
	}
	v.(*Work).resume()
	return nil
}

func (p *PowerPool) pauseChan() <-chan struct{} {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	return p.pauseGate
}

func (p *PowerPool) resetPauseGate() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	p.pauseGate = make(chan struct{})
	close(p.pauseGate) // resumed by default
}

func (p *PowerPool) cancelled() bool {
	p.cancelMu.Lock()
	ctx := p.cancelCtx
	p.cancelMu.Unlock()
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (p *PowerPool) renewCancelToken() {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelCtx = ctx
	p.cancelFn = cancel
}

// Wait blocks until the pool becomes idle (NotRunning with nothing
// waiting or running), or ctx is done.
func (p *PowerPool) Wait(ctx context.Context) error {
	p.waitAllMu.Lock()
	gate := p.waitAllGate
	p.waitAllMu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWork blocks until the work identified by id reaches a terminal
// state, or ctx is done.
func (p *PowerPool) WaitWork(ctx context.Context, id string) error {
	v, ok := p.settedWorks.Load(id)
	if !ok {
		return nil // already terminal and removed
	}
	w := v.(*Work)
	select {
	case <-w.waitGate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle is Wait with a clearer name for callers that already hold a
// context; it blocks until the pool is idle or ctx is done.
func (p *PowerPool) WaitIdle(ctx context.Context) error { return p.Wait(ctx) }

// FlushAsync runs cb once every currently-queued and currently-running work
// finishes, without blocking the caller — the non-blocking counterpart to
// Wait, grounded on the teacher's barrier-task mechanism.
func (p *PowerPool) FlushAsync(cb func()) {
	if cb == nil {
		return
	}
	p.waitAllMu.Lock()
	gate := p.waitAllGate
	p.waitAllMu.Unlock()
	go func() {
		<-gate
		cb()
	}()
}

// StopGraceful waits for the pool to go idle up to timeout, then performs a
// cooperative Stop. If the deadline elapses first, it falls back to a
// forced Stop and reports the timeout, mirroring the teacher's
// StopGraceful/ShutdownGraceful fallback-to-forced-clear behavior.
func (p *PowerPool) StopGraceful(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := p.Wait(ctx)
	if err != nil {
		p.Stop(true)
		return fmt.Errorf("powerpool: graceful stop timed out after %s: %w", timeout, err)
	}
	p.Stop(false)
	return nil
}

func (p *PowerPool) resetWaitAllGate(idle bool) {
	p.waitAllMu.Lock()
	defer p.waitAllMu.Unlock()
	if idle {
		p.waitAllGate = make(chan struct{})
		close(p.waitAllGate)
		return
	}
	p.waitAllGate = make(chan struct{})
}

// ---------------------------------------------------------------------
// Pool-wide timeout (spec §5 "Timeouts")
// ---------------------------------------------------------------------

func (p *PowerPool) startPoolTimer() {
	if p.opts.Timeout.Duration <= 0 {
		return
	}
	p.poolTimerMu.Lock()
	defer p.poolTimerMu.Unlock()
	p.poolTimer = time.AfterFunc(p.opts.Timeout.Duration, func() {
		p.bus.emit(Event{Kind: EventPoolTimeout})
		p.Stop(p.opts.Timeout.ForceStop)
	})
}

func (p *PowerPool) stopPoolTimer() {
	p.poolTimerMu.Lock()
	defer p.poolTimerMu.Unlock()
	if p.poolTimer != nil {
		p.poolTimer.Stop()
		p.poolTimer = nil
	}
}

// ---------------------------------------------------------------------
// Read-only state surface (spec §6)
// ---------------------------------------------------------------------

func (p *PowerPool) Stats() PoolStats {
	p.mu.Lock()
	alive := len(p.aliveWorkers)
	idle := len(p.idleOrder)
	p.mu.Unlock()

	var failed []string
	p.failedSet.Range(func(k, _ any) bool {
		failed = append(failed, k.(string))
		return true
	})

	var waiting []string
	p.waitingIDs.Range(func(k, _ any) bool {
		waiting = append(waiting, k.(string))
		return true
	})

	endCount := p.endCount.Load()
	totalQueue := time.Duration(p.totalQueueTimeNs.Load())
	totalExec := time.Duration(p.totalExecTimeNs.Load())

	var avgQueue, avgExec, avgElapsed float64
	if endCount > 0 {
		avgQueue = totalQueue.Seconds() / float64(endCount)
		avgExec = totalExec.Seconds() / float64(endCount)
		avgElapsed = (totalQueue.Seconds() + totalExec.Seconds()) / float64(endCount)
	}

	state := PoolState(p.state.Load())

	return PoolStats{
		IdleWorkerCount:        idle,
		RunningWorkerCount:     int(p.runningWorkerCount.Load()),
		AliveWorkerCount:       alive,
		LongRunningWorkerCount: int(p.longRunningCount.Load()),
		WaitingWorkCount:       int(p.waitingWorkCount.Load()),
		WaitingWorkList:        waiting,
		FailedWorkList:         failed,
		TotalQueueTime:         totalQueue.Seconds(),
		TotalExecuteTime:       totalExec.Seconds(),
		AverageQueueTime:       avgQueue,
		AverageExecuteTime:     avgExec,
		AverageElapsedTime:     avgElapsed,
		TotalElapsedTime:       totalQueue.Seconds() + totalExec.Seconds(),
		PoolRunning:            state == PoolRunning,
		PoolStopping:           p.cancelled(),
	}
}

// RecentWorks returns up to limit of the most recently completed works,
// newest first.
func (p *PowerPool) RecentWorks(limit int) []WorkExecutionRecord {
	return p.history.Recent(limit)
}

// ---------------------------------------------------------------------
// Disposal
// ---------------------------------------------------------------------

// Dispose stops the pool (forcefully) and marks it permanently unusable;
// further Queue calls return ErrPoolDisposed.
func (p *PowerPool) Dispose() error {
	if !p.disposed.CompareAndSwap(false, true) {
		return fmt.Errorf("powerpool: %w", ErrPoolDisposed)
	}
	p.Stop(true)
	p.mu.Lock()
	for _, w := range p.aliveWorkers {
		w.kill()
	}
	p.mu.Unlock()
	return nil
}

func (p *PowerPool) raiseErrorf(source string, format string, args ...any) {
	p.bus.raiseError(source, fmt.Errorf(format, args...))
}
