// Package expectation reads SQL files annotated with the inspection result
// they are expected to produce, and checks inspections against them.
//
// Expectations are comment lines of the form "-- <directive>: <value>",
// where value is a YAML flow mapping or scalar:
//
//	-- lock:    {table: customers, mode: AccessExclusiveLock}
//	-- removed: {kind: column, table: customers, name: id, data_type: integer}
//	-- added:   {kind: column, table: customers, name: id, data_type: bigint}
//	-- rewrite: customers
//	-- error:   duplicate_object
//	-- ignore:  locks
//	alter table customers alter column id type bigint;
//
// Locks, objects and rewrites are compared as sets. Comment lines that are
// not directives are part of the statement.
package expectation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/orf/locksmith"
)

var (
	ErrEmptyStatement = errors.New("expectation: case has no statement")
	ErrInvalidValue   = errors.New("expectation: invalid directive value")
)

var directiveLine = regexp.MustCompile(`^--\s*(lock|removed|added|rewrite|error|ignore):\s*(.*?)\s*$`)

// Case is a statement together with its expected inspection.
type Case struct {
	Name      string
	Statement string

	Locks    []locksmith.LockEvent
	Added    []locksmith.Object
	Removed  []locksmith.Object
	Rewrites []string
	// Error is the expected statement error class; empty means success.
	Error locksmith.StatementErrorClass
	// IgnoreLocks skips the lock comparison, for statements whose locks can
	// only be sampled best effort.
	IgnoreLocks bool
}

// ParseFile reads a case from path. The case is named after the file.
func ParseFile(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}

	return Parse(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), data)
}

// Parse reads a case from src.
func Parse(name string, src []byte) (*Case, error) {
	c := &Case{Name: name}

	var statement []string

	for i, line := range strings.Split(string(src), "\n") {
		m := directiveLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			statement = append(statement, line)
			continue
		}

		if err := c.apply(m[1], m[2]); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, i+1, err)
		}
	}

	c.Statement = strings.TrimSpace(strings.Join(statement, "\n"))
	if c.Statement == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyStatement)
	}

	return c, nil
}

func (c *Case) apply(directive, value string) error {
	switch directive {
	case "lock":
		var lock locksmith.LockEvent
		if err := decode(value, &lock); err != nil {
			return err
		}

		if lock.Table == "" || !lock.Mode.Valid() {
			return fmt.Errorf("%w: lock needs table and mode: %s", ErrInvalidValue, value)
		}

		c.Locks = append(c.Locks, lock)
	case "added", "removed":
		var record locksmith.ObjectRecord
		if err := decode(value, &record); err != nil {
			return err
		}

		obj, err := record.Object()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}

		if directive == "added" {
			c.Added = append(c.Added, obj)
		} else {
			c.Removed = append(c.Removed, obj)
		}
	case "rewrite":
		var table string
		if err := decode(value, &table); err != nil {
			return err
		}

		c.Rewrites = append(c.Rewrites, table)
	case "error":
		class, err := locksmith.ParseStatementErrorClass(value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}

		c.Error = class
	case "ignore":
		if value != "locks" {
			return fmt.Errorf("%w: only locks can be ignored, got %q", ErrInvalidValue, value)
		}

		c.IgnoreLocks = true
	}

	return nil
}

func decode(value string, out any) error {
	if err := yaml.UnmarshalWithOptions([]byte(value), out, yaml.Strict()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}
