package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/render"
)

func TestReadStatement(t *testing.T) {
	got, err := readStatement("  drop table orders;\n", nil)
	assert.NoError(t, err)
	assert.Equal(t, "drop table orders;", got)

	got, err = readStatement("-", strings.NewReader("alter table customers\n  drop column name;\n"))
	assert.NoError(t, err)
	assert.Equal(t, "alter table customers\n  drop column name;", got)

	_, err = readStatement("-", strings.NewReader("   \n"))
	assert.IsError(t, err, ErrEmptyStatement)
}

func TestTargetFlagsOverrideConfig(t *testing.T) {
	config := locksmith.DefaultConfig()

	flags := TargetFlags{
		PGVersion:  "14-alpine",
		Timeout:    5 * time.Second,
		LockPolicy: "all",
	}
	flags.apply(config)

	assert.Equal(t, "14-alpine", config.Postgres.Version)
	assert.Equal(t, 5*time.Second, config.Inspection.Timeout)
	assert.Equal(t, "all", config.Inspection.LockPolicy)
	// untouched
	assert.Equal(t, 30*time.Second, config.Inspection.MonitorTimeout)
	assert.Equal(t, "", config.Postgres.DSN)
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locksmith.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("inspection:\n  timeout: 10s\noutput:\n  format: json\n"), 0o644))

	ctx := &Context{Config: path, Logger: slog.New(slog.DiscardHandler)}
	cmd := &InspectCmd{Format: "markdown", TargetFlags: TargetFlags{PollInterval: 50 * time.Millisecond}}

	config, err := loadConfig(ctx, cmd.TargetFlags.apply, cmd.applyOutput)
	assert.NoError(t, err)
	assert.Equal(t, 10*time.Second, config.Inspection.Timeout)
	assert.Equal(t, 50*time.Millisecond, config.Inspection.PollInterval)
	assert.Equal(t, "markdown", config.Output.Format)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	ctx := &Context{Config: filepath.Join(t.TempDir(), "missing.yaml"), Logger: slog.New(slog.DiscardHandler)}
	flags := TargetFlags{LockPolicy: "weakest"}

	_, err := loadConfig(ctx, flags.apply)
	assert.IsError(t, err, locksmith.ErrConfigValidation)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 1, exitCode(locksmith.NewError(locksmith.ErrorKindSchemaLoad, "load", errors.New("boom"))))
	assert.Equal(t, 1, exitCode(fmt.Errorf("%w: 1 of 3", ErrChecksFailed)))
	assert.Equal(t, 3, exitCode(fmt.Errorf("%w: %w", ErrPartialInspection, locksmith.ErrMonitoringTimedOut)))
}

func TestPartialResult(t *testing.T) {
	partial := &locksmith.Inspection{MonitoringTimedOut: true}

	assert.NoError(t, (&InspectCmd{}).partialResult(partial))

	err := (&InspectCmd{FailOnPartial: true}).partialResult(partial)
	assert.IsError(t, err, ErrPartialInspection)
	assert.IsError(t, err, locksmith.ErrMonitoringTimedOut)

	assert.NoError(t, (&InspectCmd{FailOnPartial: true}).partialResult(&locksmith.Inspection{}))
}

func TestWriteOutputToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "inspection.json")

	inspection := &locksmith.Inspection{
		Statement: "drop index orders_price_idx;",
		Locks:     []locksmith.LockEvent{{Table: "orders", Mode: locksmith.AccessExclusiveLock}},
	}

	assert.NoError(t, writeOutput(path, render.NewFormatter(render.FormatJSON), inspection))

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"mode": "AccessExclusiveLock"`)
}
