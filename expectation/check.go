package expectation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/orf/locksmith"
)

// Mismatch is one field of an inspection that differs from the expectation.
type Mismatch struct {
	Field      string
	Missing    []string
	Unexpected []string
}

func (m Mismatch) String() string {
	var parts []string
	if len(m.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(m.Missing, ", "))
	}

	if len(m.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(m.Unexpected, ", "))
	}

	return m.Field + ": " + strings.Join(parts, "; ")
}

// Check compares in with the expectation. It returns nil when they agree.
func (c *Case) Check(in *locksmith.Inspection) []Mismatch {
	var mismatches []Mismatch

	add := func(m *Mismatch) {
		if m != nil {
			mismatches = append(mismatches, *m)
		}
	}

	if !c.IgnoreLocks {
		add(compareSets("locks", c.Locks, in.Locks, locksmith.LockEvent.String))

		if in.MonitoringTimedOut {
			add(&Mismatch{Field: "monitoring", Unexpected: []string{"timed out"}})
		}
	}

	add(compareSets("added", c.Added, in.AddedObjects, describe))
	add(compareSets("removed", c.Removed, in.RemovedObjects, describe))
	add(compareSets("rewrites", c.Rewrites, in.Rewrites, func(s string) string { return s }))
	add(c.checkError(in.StatementError))

	return mismatches
}

func (c *Case) checkError(got *locksmith.StatementError) *Mismatch {
	switch {
	case got == nil && c.Error == "":
		return nil
	case got == nil:
		return &Mismatch{Field: "error", Missing: []string{string(c.Error)}}
	case got.Class == c.Error:
		return nil
	default:
		m := &Mismatch{Field: "error", Unexpected: []string{fmt.Sprintf("%s (%s)", got.Class, got.Message)}}
		if c.Error != "" {
			m.Missing = []string{string(c.Error)}
		}

		return m
	}
}

func describe(o locksmith.Object) string {
	r := locksmith.RecordOf(o)

	switch {
	case r.DataType != "":
		return fmt.Sprintf("%s %s.%s %s", r.Kind, r.Table, r.Name, r.DataType)
	case r.Name != "":
		return fmt.Sprintf("%s %s.%s", r.Kind, r.Table, r.Name)
	default:
		return fmt.Sprintf("%s %s", r.Kind, r.Table)
	}
}

func compareSets[T comparable](field string, want, got []T, name func(T) string) *Mismatch {
	m := &Mismatch{Field: field}

	for _, w := range want {
		if !slices.Contains(got, w) {
			m.Missing = append(m.Missing, name(w))
		}
	}

	for _, g := range got {
		if !slices.Contains(want, g) {
			m.Unexpected = append(m.Unexpected, name(g))
		}
	}

	if len(m.Missing) == 0 && len(m.Unexpected) == 0 {
		return nil
	}

	return m
}
