package powerpool_test

import (
	"context"
	"testing"
	"time"

	powerpool "github.com/go-powerpool/powerpool"
)

// TestGroup_WaitOmitsWorkAlreadyRemovedFromGroup verifies that a work which
// has finished is no longer a member of its group, so Group.Wait reports
// nothing for it.
func TestGroup_WaitOmitsWorkAlreadyRemovedFromGroup(t *testing.T) {
	pool, err := powerpool.New(powerpool.DefaultPoolOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	const label = "batch"
	done := make(chan struct{})
	id, err := powerpool.QueueWithOptions(pool, func(ctx context.Context) (any, error) {
		return nil, nil
	}, powerpool.WorkOptions{Group: label, Callback: func(string, any, error, powerpool.WorkState) { close(done) }})
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the work to finish")
	}

	group := powerpool.NewGroup(pool, label)
	finished := group.Wait(context.Background())
	if len(finished) != 0 {
		t.Fatalf("finished = %v, want empty: a terminal work is removed from the group index entirely", finished)
	}
	_ = id
}

// TestGroup_StopForwardsToEveryMember verifies Group.Stop forwards a
// cooperative stop to every currently-registered member.
func TestGroup_StopForwardsToEveryMember(t *testing.T) {
	opts := powerpool.DefaultPoolOptions()
	opts.MaxThreads = 3 // all three members must be in flight at once
	pool, err := powerpool.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	const label = "batch"
	started := make(chan struct{}, 3)
	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		powerpool.QueueWithOptions(pool, func(ctx context.Context) (any, error) {
			started <- struct{}{}
			coop := powerpool.GetCooperator(ctx)
			<-block
			if coop.CheckIfRequestedStop() {
				return nil, powerpool.ErrWorkStopped
			}
			return nil, nil
		}, powerpool.WorkOptions{Group: label})
	}

	for i := 0; i < 3; i++ {
		<-started
	}

	group := powerpool.NewGroup(pool, label)
	finished := group.Stop()
	close(block)

	if len(finished) != 0 {
		t.Fatalf("finished = %v, want empty: all three members were still in flight", finished)
	}
}

// TestQueueAndWait_ReturnsResultAndTerminalState verifies the ergonomic
// QueueAndWait wrapper reduces to the canonical submission shape and
// surfaces the terminal result without requiring the caller to manage a
// channel themselves.
func TestQueueAndWait_ReturnsResultAndTerminalState(t *testing.T) {
	pool, err := powerpool.New(powerpool.DefaultPoolOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Dispose()

	result, execErr, state := powerpool.QueueAndWait(context.Background(), pool, func(ctx context.Context) (any, error) {
		return "done", nil
	}, powerpool.WorkOptions{})

	if execErr != nil {
		t.Fatalf("unexpected error: %v", execErr)
	}
	if state != powerpool.WorkSucceeded {
		t.Fatalf("state = %v, want Succeeded", state)
	}
	if result != "done" {
		t.Fatalf("result = %v, want %q", result, "done")
	}
}
