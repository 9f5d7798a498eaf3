package powerpool

import (
	"context"

	"github.com/go-powerpool/powerpool/core"
)

// PowerPool is the dispatcher core, re-exported so callers depending only
// on this package can still hold, store, and pass it around.
type PowerPool = core.PowerPool

// New constructs a PowerPool. An error is returned only for the
// configuration invariant DestroyThreadOption.MinThreads > PoolOptions.MaxThreads.
func New(opts PoolOptions) (*PowerPool, error) {
	return core.New(opts)
}

// Queue submits body with zero options and returns its id. This is the
// thinnest ergonomic wrapper; it reduces to QueueWithOptions.
func Queue(pool *PowerPool, body WorkFunc) (string, error) {
	return QueueWithOptions(pool, body, WorkOptions{})
}

// QueueWithPriority submits body at the given priority.
func QueueWithPriority(pool *PowerPool, body WorkFunc, priority int) (string, error) {
	return QueueWithOptions(pool, body, WorkOptions{Priority: priority})
}

// QueueWithCallback submits body with a per-work callback, invoked exactly
// once in place of the pool's DefaultCallback.
func QueueWithCallback(pool *PowerPool, body WorkFunc, callback WorkCallback) (string, error) {
	return QueueWithOptions(pool, body, WorkOptions{Callback: callback})
}

// QueueNamed submits body under a caller-chosen id, returned unchanged by
// Queue per the round-trip law.
func QueueNamed(pool *PowerPool, id string, body WorkFunc) (string, error) {
	return QueueWithOptions(pool, body, WorkOptions{CustomWorkID: id})
}

// QueueWithOptions is the canonical submission shape every other wrapper in
// this package reduces to.
func QueueWithOptions(pool *PowerPool, body WorkFunc, opts WorkOptions) (string, error) {
	return pool.Queue(body, opts)
}

// QueueAndWait submits body and blocks until it reaches a terminal state,
// returning its result and the state it terminated in. It layers a result
// capture on top of QueueWithOptions the way the teacher's
// PostTaskAndReplyWithResult layers a typed reply on top of PostTask: the
// caller's own Callback, if any, still runs first.
func QueueAndWait(ctx context.Context, pool *PowerPool, body WorkFunc, opts WorkOptions) (any, error, WorkState) {
	type outcome struct {
		result any
		err    error
		state  WorkState
	}
	done := make(chan outcome, 1)

	userCallback := opts.Callback
	opts.Callback = func(id string, result any, err error, state WorkState) {
		if userCallback != nil {
			userCallback(id, result, err, state)
		}
		done <- outcome{result: result, err: err, state: state}
	}

	if _, err := pool.Queue(body, opts); err != nil {
		return nil, err, WorkCancelled
	}

	select {
	case o := <-done:
		return o.result, o.err, o.state
	case <-ctx.Done():
		return nil, ctx.Err(), WorkWaiting
	}
}
