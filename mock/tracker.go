package mock

import (
	"context"
	"sync"

	"github.com/pilosa/wikicounts"
)

// Tracker records the milestones committed to it. Setting Err makes every
// Commit fail with it.
type Tracker struct {
	mu         sync.Mutex
	Milestones []wikicounts.Milestone
	Closed     bool
	Err        error
}

// Commit implements wikicounts.Tracker.
func (t *Tracker) Commit(ctx context.Context, m wikicounts.Milestone) error {
	if t.Err != nil {
		return t.Err
	}
	t.mu.Lock()
	t.Milestones = append(t.Milestones, m)
	t.mu.Unlock()
	return nil
}

// Close implements wikicounts.Tracker.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.Closed = true
	t.mu.Unlock()
	return nil
}

// Stages returns the stages committed so far, in order.
func (t *Tracker) Stages() []wikicounts.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	stages := make([]wikicounts.Stage, len(t.Milestones))
	for i, m := range t.Milestones {
		stages[i] = m.Stage
	}
	return stages
}
