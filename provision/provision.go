// Package provision supplies fresh, empty PostgreSQL databases for
// inspections: scratch databases on an existing server, or on a disposable
// container started from a requested image version.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/schemaload"
)

// DatabasePrefix starts the name of every scratch database.
const DatabasePrefix = "locksmith_"

var ErrEmptyDSN = errors.New("provision: empty DSN")

// Provisioner creates scratch databases.
type Provisioner interface {
	Provision(ctx context.Context) (*Database, error)
}

// Database is a scratch database that is dropped by Close.
type Database struct {
	Name string
	DSN  string

	restorer schemaload.Restorer
	drop     func(ctx context.Context) error
}

// Connect opens a new session on the database.
func (d *Database) Connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, d.DSN)
	if err != nil {
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "connect "+d.Name, err)
	}

	return conn, nil
}

// Restore restores a custom-format archive into the database.
func (d *Database) Restore(ctx context.Context, archive []byte) error {
	if d.restorer == nil {
		return schemaload.ErrNoRestorer
	}

	return d.restorer.Restore(ctx, archive)
}

// Close drops the database. Sessions still connected are terminated.
func (d *Database) Close(ctx context.Context) error {
	if d.drop == nil {
		return nil
	}

	return d.drop(ctx)
}

// Server provisions scratch databases on an existing server. The DSN must
// name a role allowed to create databases.
type Server struct {
	dsn         string
	newRestorer func(db *Database) schemaload.Restorer
	logger      *slog.Logger
}

type ServerOption func(*Server)

// WithRestoreCommand sets the local pg_restore used for archives.
func WithRestoreCommand(command string) ServerOption {
	return func(s *Server) {
		s.newRestorer = func(db *Database) schemaload.Restorer {
			return &schemaload.CommandRestorer{Command: command, DSN: db.DSN}
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withRestorer(newRestorer func(db *Database) schemaload.Restorer) ServerOption {
	return func(s *Server) { s.newRestorer = newRestorer }
}

// NewServer creates a Server for the given administrative DSN.
func NewServer(dsn string, opts ...ServerOption) (*Server, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}

	if _, err := pgx.ParseConfig(dsn); err != nil {
		return nil, fmt.Errorf("provision: invalid DSN: %w", err)
	}

	s := &Server{dsn: dsn, logger: slog.Default()}
	WithRestoreCommand("pg_restore")(s)

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Provision creates an empty database with a unique name.
func (s *Server) Provision(ctx context.Context) (*Database, error) {
	name := DatabasePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	dsn, err := WithDatabase(s.dsn, name)
	if err != nil {
		return nil, err
	}

	admin, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer admin.Close(context.WithoutCancel(ctx))

	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "create database "+name, err)
	}

	s.logger.Debug("scratch database created", "database", name)

	db := &Database{Name: name, DSN: dsn}
	db.restorer = s.newRestorer(db)
	db.drop = func(ctx context.Context) error { return s.dropDatabase(ctx, name) }

	return db, nil
}

func (s *Server) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "connect server", err)
	}

	return conn, nil
}

func (s *Server) dropDatabase(ctx context.Context, name string) error {
	admin, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer admin.Close(context.WithoutCancel(ctx))

	ident := pgx.Identifier{name}.Sanitize()

	// WITH (FORCE) needs PostgreSQL 13.
	_, err = admin.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)")

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42601" {
		_, err = admin.Exec(ctx, "DROP DATABASE IF EXISTS "+ident)
	}

	if err != nil {
		return fmt.Errorf("provision: drop database %s: %w", name, err)
	}

	s.logger.Debug("scratch database dropped", "database", name)

	return nil
}

// WithDatabase returns dsn pointed at another database. Both URL and
// keyword/value connection strings are accepted.
func WithDatabase(dsn, database string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("provision: invalid DSN: %w", err)
		}

		u.Path = "/" + database
		u.RawPath = ""

		return u.String(), nil
	}

	// Later keywords override earlier ones.
	return strings.TrimSpace(dsn) + " dbname=" + quoteKeywordValue(database), nil
}

func quoteKeywordValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}

	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)

	return "'" + v + "'"
}
