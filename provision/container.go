package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/schemaload"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Container is a disposable PostgreSQL server. Each Provision call creates a
// scratch database on it; Terminate removes the container.
type Container struct {
	*Server

	container *postgres.PostgresContainer
	user      string
	image     string
}

// StartContainer starts image:version and waits until it accepts
// connections.
func StartContainer(ctx context.Context, cfg locksmith.PostgresConfig, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	image := cfg.Image + ":" + cfg.Version
	logger.Info("starting postgres container", "image", image)

	pg, err := postgres.Run(ctx,
		image,
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.User),
		postgres.WithPassword(cfg.Password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "start container "+image, err)
	}

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(context.WithoutCancel(ctx))
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "container connection string", err)
	}

	c := &Container{container: pg, user: cfg.User, image: image}

	server, err := NewServer(dsn, WithLogger(logger), withRestorer(func(db *Database) schemaload.Restorer {
		return &containerRestorer{container: pg, user: c.user, database: db.Name}
	}))
	if err != nil {
		_ = pg.Terminate(context.WithoutCancel(ctx))
		return nil, err
	}

	c.Server = server

	return c, nil
}

// Image returns the image reference the container was started from.
func (c *Container) Image() string {
	return c.image
}

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	c.logger.Debug("terminating postgres container", "image", c.image)
	return c.container.Terminate(ctx)
}

// containerRestorer runs the pg_restore shipped inside the container, so the
// client always matches the server version.
type containerRestorer struct {
	container *postgres.PostgresContainer
	user      string
	database  string
}

func (r *containerRestorer) Restore(ctx context.Context, archive []byte) error {
	path := "/tmp/locksmith-" + uuid.NewString() + ".dump"

	if err := r.container.CopyToContainer(ctx, archive, path, 0o644); err != nil {
		return fmt.Errorf("copy archive into container: %w", err)
	}

	cmd := append([]string{"pg_restore"}, schemaload.RestoreArgs...)
	cmd = append(cmd, "--username="+r.user, "--dbname="+r.database, path)

	code, output, err := r.container.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return fmt.Errorf("run pg_restore in container: %w", err)
	}

	if code != 0 {
		msg, _ := io.ReadAll(output)
		return fmt.Errorf("pg_restore exited with status %d: %s", code, strings.TrimSpace(string(msg)))
	}

	return nil
}
