// Package powerpool provides a general-purpose, in-process work pool.
//
// Units of computation ("works") are submitted to a bounded set of reusable
// worker goroutines. The pool honors priorities, inter-work dependencies,
// per-work and pool-wide timeouts, cooperative pause/resume, graceful and
// forced cancellation, retries, grouping, and idle/shutdown lifecycle
// events.
//
// # Quick Start
//
//	pool, err := powerpool.New(powerpool.DefaultPoolOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Dispose()
//
//	id, err := pool.Queue(func(ctx context.Context) (any, error) {
//		return "done", nil
//	}, powerpool.WorkOptions{})
//
// # Cooperating with stop/pause from inside a work body
//
//	pool.Queue(func(ctx context.Context) (any, error) {
//		coop := powerpool.GetCooperator(ctx)
//		for i := 0; i < 10; i++ {
//			if err := coop.PauseIfRequested(ctx); err != nil {
//				return nil, err
//			}
//			if coop.CheckIfRequestedStop() {
//				return nil, powerpool.ErrWorkStopped
//			}
//		}
//		return nil, nil
//	}, powerpool.WorkOptions{})
//
// Unlike the pool this library grew out of, there is no process-global
// singleton: every PowerPool is an independent instance constructed by New.
package powerpool
