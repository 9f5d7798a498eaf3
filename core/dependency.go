package core

import "sync"

// dependencyIndex is the reverse map from a prerequisite id to the
// dependents waiting on it (spec §4.5 / §2 item 7). A dependent is
// recorded once, under every outstanding prerequisite it still has; it is
// released (handed back to the pool for dispatch) when the last one
// clears.
type dependencyIndex struct {
	mu       sync.Mutex
	waiters  map[string]map[string]struct{} // prerequisite id -> set of dependent ids
}

func newDependencyIndex() *dependencyIndex {
	return &dependencyIndex{waiters: make(map[string]map[string]struct{})}
}

// hold records that dependent.ID is blocked on every id in
// dependent.outstanding. Call only while dependent.outstanding is
// non-empty.
func (d *dependencyIndex) hold(dependent *Work) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for prereq := range dependent.outstanding {
		set, ok := d.waiters[prereq]
		if !ok {
			set = make(map[string]struct{})
			d.waiters[prereq] = set
		}
		set[dependent.ID] = struct{}{}
	}
}

// release is called when prereqID reaches a terminal state. It returns
// the dependents whose last outstanding prerequisite was prereqID, i.e.
// those now eligible to dispatch.
func (d *dependencyIndex) release(prereqID string, works *sync.Map) []*Work {
	d.mu.Lock()
	dependentIDs := d.waiters[prereqID]
	delete(d.waiters, prereqID)
	d.mu.Unlock()

	if len(dependentIDs) == 0 {
		return nil
	}

	var ready []*Work
	for depID := range dependentIDs {
		v, ok := works.Load(depID)
		if !ok {
			continue
		}
		dep := v.(*Work)
		dep.outstandingMu.Lock()
		delete(dep.outstanding, prereqID)
		remaining := len(dep.outstanding)
		dep.outstandingMu.Unlock()
		if remaining == 0 {
			ready = append(ready, dep)
		}
	}
	return ready
}

// forget removes a work's entries from every prerequisite bucket it might
// still be recorded under; used when a work is cancelled before dispatch.
func (d *dependencyIndex) forget(dependent *Work) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for prereq := range dependent.outstanding {
		if set, ok := d.waiters[prereq]; ok {
			delete(set, dependent.ID)
			if len(set) == 0 {
				delete(d.waiters, prereq)
			}
		}
	}
}
