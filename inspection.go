package locksmith

import (
	"errors"
	"time"
)

// Inspection is the observed operational impact of one statement.
//
// A modified object appears twice: its old version in RemovedObjects and its
// new version in AddedObjects.
type Inspection struct {
	Statement      string      `json:"statement" yaml:"statement"`
	Locks          []LockEvent `json:"locks" yaml:"locks"`
	AddedObjects   Objects     `json:"added_objects" yaml:"added_objects"`
	RemovedObjects Objects     `json:"removed_objects" yaml:"removed_objects"`
	Rewrites       []string    `json:"rewrites" yaml:"rewrites"`

	// StatementError is set when the statement itself failed. The rest of the
	// inspection then describes what was observed up to the failure.
	StatementError *StatementError `json:"statement_error,omitempty" yaml:"statement_error,omitempty"`
	// MonitoringTimedOut is set when lock sampling stopped before the
	// statement finished; Locks may be incomplete.
	MonitoringTimedOut bool `json:"monitoring_timed_out,omitempty" yaml:"monitoring_timed_out,omitempty"`

	Duration time.Duration `json:"-" yaml:"-"`
}

// Partial reports whether the inspection carries a non-fatal condition.
func (i *Inspection) Partial() bool {
	return i.StatementError != nil || i.MonitoringTimedOut
}

// Err joins every non-fatal condition recorded in the inspection. It returns
// nil for a complete inspection.
func (i *Inspection) Err() error {
	var errs []error
	if i.StatementError != nil {
		errs = append(errs, i.StatementError)
	}

	if i.MonitoringTimedOut {
		errs = append(errs, ErrMonitoringTimedOut)
	}

	return errors.Join(errs...)
}

// LockOn returns the strongest lock mode recorded for table.
func (i *Inspection) LockOn(table string) (LockMode, bool) {
	var (
		mode  LockMode
		found bool
	)

	for _, l := range i.Locks {
		if l.Table == table && l.Mode > mode {
			mode = l.Mode
			found = true
		}
	}

	return mode, found
}
