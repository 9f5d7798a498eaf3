package core

import "context"

type cooperatorKeyType struct{}

var cooperatorKey = cooperatorKeyType{}

// ErrWorkStopped is the stop-result sentinel StopIfRequested returns once
// a cooperative stop has been requested for the calling work. It replaces
// the source's WorkStopException per the redesign in spec §9: a worker
// boundary that sees this error classifies the work Stopped, not Failed.
var ErrWorkStopped = &stopError{}

type stopError struct{}

func (*stopError) Error() string { return "work stopped: cooperative stop requested" }

// Cooperator is the handle injected into a work body's context, letting
// it observe and cooperate with pause/stop requests raised by the pool or
// by a caller targeting this specific work id.
type Cooperator interface {
	// PauseIfRequested blocks while the pool-wide pause gate is cleared
	// or this work has been individually paused, or until ctx is done.
	// Once released, it returns ErrWorkStopped if a stop is pending by
	// then; a stop request does not by itself wake a parked caller.
	PauseIfRequested(ctx context.Context) error
	// CheckIfRequestedStop is a non-blocking observation of whether a
	// stop (pool-wide cancellation or a per-work stop) is pending.
	CheckIfRequestedStop() bool
	// StopIfRequested returns ErrWorkStopped if a stop is pending;
	// otherwise nil. Callers are expected to return immediately on a
	// non-nil result.
	StopIfRequested() error
}

// GetCooperator retrieves the Cooperator injected for the currently
// executing work body, or nil if ctx carries none (e.g. in tests that
// invoke a body directly).
func GetCooperator(ctx context.Context) Cooperator {
	c, _ := ctx.Value(cooperatorKey).(Cooperator)
	return c
}

type workCooperator struct {
	pool *PowerPool
	work *Work
}

func (c *workCooperator) CheckIfRequestedStop() bool {
	if c.pool.cancelled() {
		return true
	}
	return c.work.stopRequested()
}

func (c *workCooperator) StopIfRequested() error {
	if c.CheckIfRequestedStop() {
		return ErrWorkStopped
	}
	return nil
}

func (c *workCooperator) PauseIfRequested(ctx context.Context) error {
	for {
		poolGate := c.pool.pauseChan()
		select {
		case <-poolGate:
		case <-ctx.Done():
			return nil
		}
		if c.work.pausing() {
			select {
			case <-c.work.pauseChan():
			case <-ctx.Done():
				return nil
			}
		}
		if c.CheckIfRequestedStop() {
			return ErrWorkStopped
		}
		// Re-check the pool gate: it may have been cleared again while
		// we were parked on the work-local gate.
		select {
		case <-c.pool.pauseChan():
			return nil
		default:
			continue
		}
	}
}
