package lockmon

import "github.com/orf/locksmith"

// Accumulator is an insertion-ordered set of lock events.
type Accumulator struct {
	seen   map[locksmith.LockEvent]struct{}
	events []locksmith.LockEvent
}

func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[locksmith.LockEvent]struct{})}
}

// Add records e unless an event with the same table and mode is already
// present. It reports whether e was new.
func (a *Accumulator) Add(e locksmith.LockEvent) bool {
	if _, ok := a.seen[e]; ok {
		return false
	}

	a.seen[e] = struct{}{}
	a.events = append(a.events, e)

	return true
}

func (a *Accumulator) Len() int {
	return len(a.events)
}

// Events returns the recorded events in order of first observation.
func (a *Accumulator) Events() []locksmith.LockEvent {
	return append([]locksmith.LockEvent(nil), a.events...)
}
