package locksmith

import (
	"fmt"
	"strings"
)

// LockMode is a PostgreSQL table-level lock mode. The constants are ordered
// from least to most restrictive, so modes can be compared with < and >.
type LockMode int

const (
	AccessShareLock LockMode = iota + 1
	RowShareLock
	RowExclusiveLock
	ShareUpdateExclusiveLock
	ShareLock
	ShareRowExclusiveLock
	ExclusiveLock
	AccessExclusiveLock
)

var lockModeNames = [...]string{
	AccessShareLock:          "AccessShareLock",
	RowShareLock:             "RowShareLock",
	RowExclusiveLock:         "RowExclusiveLock",
	ShareUpdateExclusiveLock: "ShareUpdateExclusiveLock",
	ShareLock:                "ShareLock",
	ShareRowExclusiveLock:    "ShareRowExclusiveLock",
	ExclusiveLock:            "ExclusiveLock",
	AccessExclusiveLock:      "AccessExclusiveLock",
}

// LockModes lists every mode in ascending order of restrictiveness.
func LockModes() []LockMode {
	return []LockMode{
		AccessShareLock,
		RowShareLock,
		RowExclusiveLock,
		ShareUpdateExclusiveLock,
		ShareLock,
		ShareRowExclusiveLock,
		ExclusiveLock,
		AccessExclusiveLock,
	}
}

// String returns the mode name as reported by pg_locks.mode.
func (m LockMode) String() string {
	if m.Valid() {
		return lockModeNames[m]
	}

	return fmt.Sprintf("LockMode(%d)", int(m))
}

// SQL returns the mode as written in a LOCK TABLE statement, e.g. "ACCESS EXCLUSIVE".
func (m LockMode) SQL() string {
	name := strings.TrimSuffix(m.String(), "Lock")

	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}

		b.WriteRune(r)
	}

	return strings.ToUpper(b.String())
}

func (m LockMode) Valid() bool {
	return m >= AccessShareLock && m <= AccessExclusiveLock
}

// ParseLockMode parses a pg_locks mode name such as "RowExclusiveLock".
// The "Lock" suffix and letter case are optional.
func ParseLockMode(s string) (LockMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(want, "lock") {
		want += "lock"
	}

	for _, m := range LockModes() {
		if strings.ToLower(m.String()) == want {
			return m, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownLockMode, s)
}

func (m LockMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLockMode, int(m))
	}

	return []byte(m.String()), nil
}

func (m *LockMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLockMode(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

func (m LockMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

func (m *LockMode) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}

	return m.UnmarshalText([]byte(name))
}

// LockEvent is a lock held (or awaited) on a table by the inspected statement.
type LockEvent struct {
	Table string   `json:"table" yaml:"table"`
	Mode  LockMode `json:"mode" yaml:"mode"`
}

func (e LockEvent) String() string {
	return fmt.Sprintf("%s on %s", e.Mode, e.Table)
}

// LockPolicy decides how the lock events observed during one statement are
// reported.
type LockPolicy string

const (
	// LockPolicyStrongest keeps one event per table: the most restrictive mode
	// observed, at the position where the table was first observed.
	LockPolicyStrongest LockPolicy = "strongest"
	// LockPolicyAll keeps every distinct (table, mode) pair in observation order.
	LockPolicyAll LockPolicy = "all"
)

// ParseLockPolicy validates a policy name. The empty string means LockPolicyStrongest.
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch LockPolicy(strings.ToLower(s)) {
	case "", LockPolicyStrongest:
		return LockPolicyStrongest, nil
	case LockPolicyAll:
		return LockPolicyAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLockPolicy, s)
	}
}

// Apply reduces events, which must already be deduplicated by (table, mode),
// according to the policy. The input is not modified.
func (p LockPolicy) Apply(events []LockEvent) []LockEvent {
	if p == LockPolicyAll {
		return append([]LockEvent(nil), events...)
	}

	position := make(map[string]int, len(events))
	out := make([]LockEvent, 0, len(events))

	for _, e := range events {
		i, seen := position[e.Table]
		if !seen {
			position[e.Table] = len(out)
			out = append(out, e)

			continue
		}

		if e.Mode > out[i].Mode {
			out[i].Mode = e.Mode
		}
	}

	return out
}
