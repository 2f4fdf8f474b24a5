package wikicounts

import (
	"context"
	"strings"
	"time"
)

// Stage names a point in a run which is reported to trackers.
type Stage string

// Stages reported by a run, in order. Each is committed independently; a run
// which fails after StageLanded leaves a usable raw archive behind.
const (
	StageLanded  Stage = "landed"
	StageWritten Stage = "written"
)

// Milestone is a completed stage of a run.
type Milestone struct {
	Job     string    `json:"job"`
	Archive string    `json:"archive"`
	Window  string    `json:"window"`
	Stage   Stage     `json:"stage"`
	URI     string    `json:"uri"`
	Records int64     `json:"records"`
	At      time.Time `json:"at"`
}

// Tracker is told about each milestone of a run.
type Tracker interface {
	Commit(ctx context.Context, m Milestone) error
	Close() error
}

// NopTracker does nothing.
type NopTracker struct{}

// Commit does nothing.
func (NopTracker) Commit(ctx context.Context, m Milestone) error { return nil }

// Close does nothing.
func (NopTracker) Close() error { return nil }

// Trackers fans milestones out to each of its members.
type Trackers []Tracker

// Commit commits m to every tracker, even if some of them fail.
func (ts Trackers) Commit(ctx context.Context, m Milestone) error {
	var errs errorList
	for _, t := range ts {
		if err := t.Commit(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Close closes every tracker.
func (ts Trackers) Close() error {
	var errs errorList
	for _, t := range ts {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}
