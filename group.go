package powerpool

import "context"

// Group is an indexed view over works sharing a label, forwarding bulk
// wait/stop/pause/resume/cancel to the per-id primitives on the underlying
// pool (spec §4.4). Construct one with NewGroup; it holds no state of its
// own beyond the pool and label, so it is cheap to create per call.
type Group struct {
	pool  *PowerPool
	label string
}

// NewGroup returns a facade over every work currently (or subsequently)
// submitted under label.
func NewGroup(pool *PowerPool, label string) *Group {
	return &Group{pool: pool, label: label}
}

// Members returns a snapshot of ids currently registered under this group's
// label.
func (g *Group) Members() []string {
	return g.pool.GroupMembers(g.label)
}

// Stop cooperatively stops every member, returning the sublist of ids that
// were already absent or finished.
func (g *Group) Stop() []string {
	var finished []string
	for _, id := range g.Members() {
		if err := g.pool.StopWork(id); err != nil {
			finished = append(finished, id)
		}
	}
	return finished
}

// Cancel cancels every member, returning the sublist of ids that were
// already absent or finished.
func (g *Group) Cancel() []string {
	var finished []string
	for _, id := range g.Members() {
		if err := g.pool.Cancel(id); err != nil {
			finished = append(finished, id)
		}
	}
	return finished
}

// Pause pauses every member, returning the sublist of ids that were already
// absent or finished.
func (g *Group) Pause() []string {
	var finished []string
	for _, id := range g.Members() {
		if err := g.pool.PauseWork(id); err != nil {
			finished = append(finished, id)
		}
	}
	return finished
}

// Resume resumes every member, returning the sublist of ids that were
// already absent or finished.
func (g *Group) Resume() []string {
	var finished []string
	for _, id := range g.Members() {
		if err := g.pool.ResumeWork(id); err != nil {
			finished = append(finished, id)
		}
	}
	return finished
}

// Wait blocks until every member reaches a terminal state or ctx is done,
// returning the sublist of ids that were already absent or finished when
// Wait was called.
func (g *Group) Wait(ctx context.Context) []string {
	var finished []string
	for _, id := range g.Members() {
		if !g.pool.Exists(id) {
			finished = append(finished, id)
			continue
		}
		g.pool.WaitWork(ctx, id)
	}
	return finished
}
