package main

import (
	"fmt"
	"time"

	"github.com/orf/locksmith"
)

// TargetFlags override the postgres and inspection sections of the
// configuration file. Zero values leave the configured value in place.
type TargetFlags struct {
	PGVersion      string        `name:"pg-version" help:"PostgreSQL image tag for the ephemeral container (e.g. 17-alpine)"`
	DSN            string        `help:"Create scratch databases on this server instead of starting a container" env:"LOCKSMITH_DSN"`
	Timeout        time.Duration `help:"Bound on statement execution and lock monitoring"`
	MonitorTimeout time.Duration `help:"Bound on lock monitoring alone; exceeding it yields a partial result"`
	PollInterval   time.Duration `help:"Lock sampling interval"`
	LockPolicy     string        `help:"Lock reporting: strongest (one mode per table) or all (every observed mode)"`
}

func (f *TargetFlags) apply(config *locksmith.Config) {
	if f.PGVersion != "" {
		config.Postgres.Version = f.PGVersion
	}

	if f.DSN != "" {
		config.Postgres.DSN = f.DSN
	}

	if f.Timeout != 0 {
		config.Inspection.Timeout = f.Timeout
	}

	if f.MonitorTimeout != 0 {
		config.Inspection.MonitorTimeout = f.MonitorTimeout
	}

	if f.PollInterval != 0 {
		config.Inspection.PollInterval = f.PollInterval
	}

	if f.LockPolicy != "" {
		config.Inspection.LockPolicy = f.LockPolicy
	}
}

// loadConfig reads the configuration file, applies overrides and validates
// the result.
func loadConfig(ctx *Context, overrides ...func(*locksmith.Config)) (*locksmith.Config, error) {
	config, err := locksmith.LoadConfig(ctx.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, override := range overrides {
		override(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx.Logger.Debug("configuration loaded",
		"path", ctx.Config,
		"dsn", config.Postgres.DSN != "",
		"version", config.Postgres.Version,
		"timeout", config.Inspection.Timeout,
		"lock_policy", config.Inspection.LockPolicy)

	return config, nil
}
