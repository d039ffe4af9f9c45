package main

import (
	"context"
	"log/slog"

	"github.com/orf/locksmith"
	"github.com/orf/locksmith/oracle"
	"github.com/orf/locksmith/provision"
)

// openTarget returns the provisioner for scratch databases: the configured
// server, or a container started for this run. release must be called once
// all inspections are done.
func openTarget(ctx context.Context, config *locksmith.Config, logger *slog.Logger) (provision.Provisioner, func(context.Context), error) {
	if config.Postgres.DSN != "" {
		server, err := provision.NewServer(config.Postgres.DSN,
			provision.WithRestoreCommand(config.Restore.Command),
			provision.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return server, func(context.Context) {}, nil
	}

	container, err := provision.StartContainer(ctx, config.Postgres, logger)
	if err != nil {
		return nil, nil, err
	}

	release := func(ctx context.Context) {
		if err := container.Terminate(ctx); err != nil {
			logger.Warn("failed to terminate postgres container", "error", err)
		}
	}

	return container, release, nil
}

// inspect runs one inspection on a fresh scratch database.
func inspect(ctx context.Context, target provision.Provisioner, opts []oracle.Option, schema []byte, statement string, logger *slog.Logger) (*locksmith.Inspection, error) {
	db, err := target.Provision(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := db.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to drop scratch database", "database", db.Name, "error", err)
		}
	}()

	return oracle.New(db, opts...).Inspect(ctx, schema, statement)
}
