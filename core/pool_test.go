package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	core "github.com/go-powerpool/powerpool/core"
)

func newTestPool(t *testing.T, configure func(*core.PoolOptions)) *core.PowerPool {
	t.Helper()
	opts := core.DefaultPoolOptions()
	if configure != nil {
		configure(&opts)
	}
	pool, err := core.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { pool.Dispose() })
	return pool
}

// TestPowerPool_DefaultPipeline_EmitsExpectedEventSequenceAndDefaultCallback
// is the spec's concrete scenario 1: one work, pool-level DefaultCallback,
// expected event sequence PoolStart, WorkStart, WorkEnd, PoolIdle, with the
// default callback firing after WorkEnd.
func TestPowerPool_DefaultPipeline_EmitsExpectedEventSequenceAndDefaultCallback(t *testing.T) {
	var mu sync.Mutex
	var kinds []core.EventKind
	callbackResult := make(chan any, 1)

	opts := core.DefaultPoolOptions()
	opts.DefaultCallback = func(id string, result any, err error, state core.WorkState) {
		callbackResult <- result
	}
	pool, err := core.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	idle := make(chan struct{})
	pool.Subscribe(func(evt core.Event) {
		mu.Lock()
		kinds = append(kinds, evt.Kind)
		mu.Unlock()
		if evt.Kind == core.EventPoolIdle {
			close(idle)
		}
	})

	pool.Queue(func(ctx context.Context) (any, error) {
		return "TestOrder Result", nil
	}, core.WorkOptions{})

	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PoolIdle")
	}

	result := <-callbackResult
	if result != "TestOrder Result" {
		t.Fatalf("callback result = %v, want %q", result, "TestOrder Result")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []core.EventKind{core.EventPoolStart, core.EventWorkStart, core.EventWorkEnd, core.EventPoolIdle}
	if len(kinds) != len(want) {
		t.Fatalf("event sequence = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", kinds, want)
		}
	}
}

// TestPowerPool_ExplicitCallbackSuppressesDefaultCallback is the spec's
// concrete scenario 2.
func TestPowerPool_ExplicitCallbackSuppressesDefaultCallback(t *testing.T) {
	var defaultFired, explicitFired bool
	var mu sync.Mutex

	opts := core.DefaultPoolOptions()
	opts.DefaultCallback = func(id string, result any, err error, state core.WorkState) {
		mu.Lock()
		defaultFired = true
		mu.Unlock()
	}
	pool, err := core.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	done := make(chan struct{})
	pool.Queue(func(ctx context.Context) (any, error) {
		return nil, nil
	}, core.WorkOptions{
		Callback: func(id string, result any, err error, state core.WorkState) {
			mu.Lock()
			explicitFired = true
			mu.Unlock()
			close(done)
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for explicit callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if !explicitFired {
		t.Fatal("explicit callback never fired")
	}
	if defaultFired {
		t.Fatal("default callback fired despite a per-work callback being set")
	}
}

// TestPowerPool_DependencyReleaseOrdering is a compressed variant of the
// spec's concrete scenario 3: a dependent is only dispatched once every
// prerequisite has reached a terminal state.
func TestPowerPool_DependencyReleaseOrdering(t *testing.T) {
	pool := newTestPool(t, nil)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	id0, _ := pool.Queue(func(ctx context.Context) (any, error) {
		time.Sleep(30 * time.Millisecond)
		record("w0")
		return nil, nil
	}, core.WorkOptions{CustomWorkID: "w0"})

	id1, _ := pool.Queue(func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		record("w1")
		return nil, nil
	}, core.WorkOptions{CustomWorkID: "w1"})

	pool.Queue(func(ctx context.Context) (any, error) {
		record("w2")
		close(done)
		return nil, nil
	}, core.WorkOptions{
		CustomWorkID: "w2",
		Dependents:   map[string]struct{}{id0: {}, id1: {}},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dependent work")
	}

	mu.Lock()
	defer mu.Unlock()
	if order[len(order)-1] != "w2" {
		t.Fatalf("execution order = %v, w2 must run last", order)
	}
}

// TestPowerPool_PriorityOrderingWithSingleWorker is the spec's concrete
// scenario 4: with MaxThreads=1, six works submitted with priorities
// {0,1,2,0,1,2} callback in order {p0, p2, p2, p1, p1, p0} because the
// first-running p0 cannot be preempted and the rest drain by priority then
// FIFO.
func TestPowerPool_PriorityOrderingWithSingleWorker(t *testing.T) {
	pool := newTestPool(t, func(o *core.PoolOptions) { o.MaxThreads = 1 })

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	block := make(chan struct{})
	priorities := []int{0, 1, 2, 0, 1, 2}
	wg.Add(len(priorities))

	for i, p := range priorities {
		p := p
		first := i == 0
		pool.Queue(func(ctx context.Context) (any, error) {
			if first {
				<-block // hold the worker so every other submission queues up first
			}
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			wg.Done()
			return nil, nil
		}, core.WorkOptions{Priority: p})
	}

	time.Sleep(50 * time.Millisecond) // let the remaining five queue on the worker
	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 2, 2, 1, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// TestPowerPool_MisconfiguredMinGreaterThanMaxFailsAtConstruction is the
// spec's concrete scenario 5, adapted to Go's explicit-constructor idiom:
// New fails synchronously instead of deferring to the first Queue call,
// since there is no lazy-initialized global pool to defer against.
func TestPowerPool_MisconfiguredMinGreaterThanMaxFailsAtConstruction(t *testing.T) {
	opts := core.DefaultPoolOptions()
	opts.MaxThreads = 10
	opts.DestroyThread.MinThreads = 100

	_, err := core.New(opts)
	if err == nil {
		t.Fatal("New should fail when MinThreads > MaxThreads")
	}
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v (%T), want *core.ConfigError", err, err)
	}
}

// TestPowerPool_CustomWorkIDRoundTrips is the spec's concrete scenario 6
// and the round-trip law: the id returned by Queue equals the id surfaced
// in every subsequent event for that work.
func TestPowerPool_CustomWorkIDRoundTrips(t *testing.T) {
	pool := newTestPool(t, nil)

	var endID string
	idle := make(chan struct{})
	pool.Subscribe(func(evt core.Event) {
		if evt.Kind == core.EventWorkEnd {
			endID = evt.WorkID
		}
		if evt.Kind == core.EventPoolIdle {
			close(idle)
		}
	})

	id, err := pool.Queue(func(ctx context.Context) (any, error) {
		return nil, nil
	}, core.WorkOptions{CustomWorkID: "1024"})
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if id != "1024" {
		t.Fatalf("Queue returned id %q, want %q", id, "1024")
	}

	<-idle
	if endID != "1024" {
		t.Fatalf("WorkEnd id = %q, want %q", endID, "1024")
	}
}

// TestPowerPool_AliveEqualsIdlePlusRunningAtQuiescence checks the invariant
// alive_workers.count == idle_workers.count + running_worker_count once the
// pool has gone idle.
func TestPowerPool_AliveEqualsIdlePlusRunningAtQuiescence(t *testing.T) {
	pool := newTestPool(t, func(o *core.PoolOptions) { o.MaxThreads = 4 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		pool.Queue(func(ctx context.Context) (any, error) {
			defer wg.Done()
			return nil, nil
		}, core.WorkOptions{})
	}
	wg.Wait()

	if err := pool.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	stats := pool.Stats()
	if stats.AliveWorkerCount != stats.IdleWorkerCount+stats.RunningWorkerCount {
		t.Fatalf("alive=%d, idle=%d, running=%d: invariant violated",
			stats.AliveWorkerCount, stats.IdleWorkerCount, stats.RunningWorkerCount)
	}
}

// TestPowerPool_StopWorkAfterTerminalIsIdempotent is the idempotence law:
// repeated StopWork after terminal returns the "already done" outcome
// without side effect.
func TestPowerPool_StopWorkAfterTerminalIsIdempotent(t *testing.T) {
	pool := newTestPool(t, nil)

	done := make(chan struct{})
	id, _ := pool.Queue(func(ctx context.Context) (any, error) {
		return nil, nil
	}, core.WorkOptions{Callback: func(string, any, error, core.WorkState) { close(done) }})

	<-done

	if err := pool.StopWork(id); !errors.Is(err, core.ErrWorkNotFound) {
		t.Fatalf("StopWork after terminal = %v, want ErrWorkNotFound", err)
	}
	if err := pool.StopWork(id); !errors.Is(err, core.ErrWorkNotFound) {
		t.Fatalf("repeated StopWork after terminal = %v, want ErrWorkNotFound", err)
	}
}

// TestPowerPool_ResumeWorkOnNonPausedWorkIsNoOp is the idempotence law's
// Resume half.
func TestPowerPool_ResumeWorkOnNonPausedWorkIsNoOp(t *testing.T) {
	pool := newTestPool(t, nil)

	block := make(chan struct{})
	done := make(chan struct{})
	id, _ := pool.Queue(func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	}, core.WorkOptions{Callback: func(string, any, error, core.WorkState) { close(done) }})

	if err := pool.ResumeWork(id); err != nil {
		t.Fatalf("Resume on non-paused work returned error: %v", err)
	}
	close(block)
	<-done
}

// TestPowerPool_DefaultWorkTimeoutNotExceededSucceeds is a boundary
// behavior: a work finishing well inside its timeout never raises
// WorkTimeout.
func TestPowerPool_DefaultWorkTimeoutNotExceededSucceeds(t *testing.T) {
	opts := core.DefaultPoolOptions()
	opts.DefaultWorkTimeout = core.TimeoutOption{Duration: 300 * time.Millisecond}
	pool, err := core.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	var timeoutRaised bool
	pool.Subscribe(func(evt core.Event) {
		if evt.Kind == core.EventWorkTimeout {
			timeoutRaised = true
		}
	})

	done := make(chan core.WorkState, 1)
	pool.Queue(func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}, core.WorkOptions{
		Callback: func(id string, result any, err error, state core.WorkState) { done <- state },
	})

	state := <-done
	if state != core.WorkSucceeded {
		t.Fatalf("state = %v, want Succeeded", state)
	}
	if timeoutRaised {
		t.Fatal("WorkTimeout should not have been raised")
	}
}

// TestPowerPool_ForceStopTimeoutFailsWork is a boundary behavior: a work
// exceeding a ForceStop timeout is abandoned and classified Failed, with
// exactly one WorkTimeout event.
func TestPowerPool_ForceStopTimeoutFailsWork(t *testing.T) {
	pool := newTestPool(t, nil)

	var timeoutCount int
	var mu sync.Mutex
	pool.Subscribe(func(evt core.Event) {
		if evt.Kind == core.EventWorkTimeout {
			mu.Lock()
			timeoutCount++
			mu.Unlock()
		}
	})

	done := make(chan core.WorkState, 1)
	pool.Queue(func(ctx context.Context) (any, error) {
		time.Sleep(2 * time.Second)
		return nil, nil
	}, core.WorkOptions{
		Timeout:  core.TimeoutOption{Duration: 50 * time.Millisecond, ForceStop: true},
		Callback: func(id string, result any, err error, state core.WorkState) { done <- state },
	})

	select {
	case state := <-done:
		if state != core.WorkFailed {
			t.Fatalf("state = %v, want Failed", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for force-stopped work's callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if timeoutCount != 1 {
		t.Fatalf("WorkTimeout raised %d times, want 1", timeoutCount)
	}
}

// TestPowerPool_PoolWideTimeoutRaisesEventAndStops is the spec's third named
// boundary-behavior scenario: saturate the pool so no worker becomes free
// for longer than Timeout.Duration, and expect exactly one PoolTimeout
// event, after which the pool-wide cooperative stop runs.
func TestPowerPool_PoolWideTimeoutRaisesEventAndStops(t *testing.T) {
	opts := core.DefaultPoolOptions()
	opts.MaxThreads = 1
	opts.Timeout = core.TimeoutOption{Duration: 50 * time.Millisecond}
	pool, err := core.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	var timeoutCount int
	var mu sync.Mutex
	stopped := make(chan struct{})
	var once sync.Once
	pool.Subscribe(func(evt core.Event) {
		if evt.Kind == core.EventPoolTimeout {
			mu.Lock()
			timeoutCount++
			mu.Unlock()
			once.Do(func() { close(stopped) })
		}
	})

	block := make(chan struct{})
	pool.Queue(func(ctx context.Context) (any, error) {
		<-block // holds the sole worker well past Timeout.Duration
		return nil, nil
	}, core.WorkOptions{})

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PoolTimeout")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !pool.Stats().PoolStopping {
		if time.Now().After(deadline) {
			t.Fatal("pool never entered the stopping state after PoolTimeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)

	time.Sleep(50 * time.Millisecond) // let any duplicate timer fire settle
	mu.Lock()
	defer mu.Unlock()
	if timeoutCount != 1 {
		t.Fatalf("PoolTimeout raised %d times, want exactly 1", timeoutCount)
	}
}

// TestPowerPool_RetryRequeueResubmitsWithIncrementedExecuteCount verifies
// the Requeue retry strategy resubmits through the dispatcher rather than
// looping in place.
func TestPowerPool_RetryRequeueResubmitsWithIncrementedExecuteCount(t *testing.T) {
	pool := newTestPool(t, nil)

	var attempts int
	var mu sync.Mutex
	done := make(chan core.WorkState, 1)

	pool.Queue(func(ctx context.Context) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return nil, errors.New("fail once")
		}
		return "ok", nil
	}, core.WorkOptions{
		Retry:    core.RetryOption{Max: 3, Strategy: core.RetryRequeue},
		Callback: func(id string, result any, err error, state core.WorkState) { done <- state },
	})

	state := <-done
	if state != core.WorkSucceeded {
		t.Fatalf("state = %v, want Succeeded", state)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

// TestPowerPool_CancelBeforeStartTransitionsDirectlyToCancelled verifies
// spec §5's cancellation semantics for a not-yet-started work: a work still
// held by StartSuspended is cancelled without its body running, and its
// callback reports Cancelled.
func TestPowerPool_CancelBeforeStartTransitionsDirectlyToCancelled(t *testing.T) {
	pool := newTestPool(t, func(o *core.PoolOptions) { o.StartSuspended = true })

	var gotState core.WorkState
	done := make(chan struct{})
	id, _ := pool.Queue(func(ctx context.Context) (any, error) {
		t.Fatal("body should never run for a work cancelled before start")
		return nil, nil
	}, core.WorkOptions{
		Callback: func(workID string, result any, err error, state core.WorkState) {
			gotState = state
			close(done)
		},
	})

	if err := pool.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation callback")
	}
	if gotState != core.WorkCancelled {
		t.Fatalf("state = %v, want Cancelled", gotState)
	}
}
