// Package schemaload applies a baseline schema to an empty database, either
// as plain SQL text or as a pg_dump custom-format archive.
package schemaload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orf/locksmith"
)

var (
	// ErrNoRestorer is returned when an archive is loaded without a Restorer.
	ErrNoRestorer = errors.New("archive schema requires a restorer")
	// ErrNotUTF8 is returned when a plain schema is not valid UTF-8 text.
	ErrNotUTF8 = errors.New("plain schema is not valid UTF-8")
)

// Format is the encoding of a schema source.
type Format int

const (
	FormatPlain Format = iota
	FormatArchive
)

func (f Format) String() string {
	if f == FormatArchive {
		return "archive"
	}

	return "plain"
}

// ArchiveMagic starts every pg_dump custom-format archive.
const ArchiveMagic = "PGDMP"

// DetectFormat inspects the magic prefix of src.
func DetectFormat(src []byte) Format {
	if bytes.HasPrefix(src, []byte(ArchiveMagic)) {
		return FormatArchive
	}

	return FormatPlain
}

// Execer runs SQL text. *pgx.Conn satisfies it and sends argument-less SQL
// over the simple protocol, which accepts several statements at once.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Restorer restores a custom-format archive into the target database.
type Restorer interface {
	Restore(ctx context.Context, archive []byte) error
}

// Loader applies schema sources.
type Loader struct {
	restorer Restorer
	logger   *slog.Logger
}

// New creates a Loader. restorer may be nil if only plain schemas are loaded.
func New(restorer Restorer, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{restorer: restorer, logger: logger}
}

// Load applies src through conn, or through the Restorer for archives.
// The session should not be reused for inspection: a plain dump usually
// changes search_path.
//
// Failures are returned as SchemaLoadError, or ConnectionError when the
// session was lost.
func (l *Loader) Load(ctx context.Context, conn Execer, src []byte) error {
	format := DetectFormat(src)
	l.logger.Debug("loading schema", "format", format.String(), "bytes", len(src))

	switch format {
	case FormatArchive:
		if l.restorer == nil {
			return locksmith.NewError(locksmith.ErrorKindSchemaLoad, "restore archive", ErrNoRestorer)
		}

		if err := l.restorer.Restore(ctx, src); err != nil {
			return classify("restore archive", err)
		}
	default:
		steps, err := PlainScript(src)
		if err != nil {
			return locksmith.NewError(locksmith.ErrorKindSchemaLoad, "read plain schema", err)
		}

		if len(steps) == 0 {
			l.logger.Debug("plain schema is empty")
			return nil
		}

		return l.run(ctx, conn, steps)
	}

	return nil
}

func (l *Loader) run(ctx context.Context, conn Execer, steps []Step) error {
	for _, step := range steps {
		if !step.Copy {
			if _, err := conn.Exec(ctx, step.SQL); err != nil {
				return classify("execute plain schema", err)
			}

			continue
		}

		copier, err := copierOf(conn)
		if err != nil {
			return locksmith.NewError(locksmith.ErrorKindSchemaLoad, "copy data", err)
		}

		tag, err := copier.CopyFrom(ctx, bytes.NewReader(step.Data), step.SQL)
		if err != nil {
			return classify("copy data", err)
		}

		l.logger.Debug("copied rows", "rows", tag.RowsAffected())
	}

	return nil
}

// Copier streams COPY FROM STDIN data. *pgconn.PgConn satisfies it.
type Copier interface {
	CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
}

// ErrNoCopier is returned when a script carries COPY data but the session
// cannot stream it.
var ErrNoCopier = errors.New("session does not support COPY FROM STDIN")

func copierOf(conn Execer) (Copier, error) {
	switch c := conn.(type) {
	case interface{ PgConn() *pgconn.PgConn }:
		return c.PgConn(), nil
	case Copier:
		return c, nil
	default:
		return nil, ErrNoCopier
	}
}


func classify(op string, err error) error {
	if locksmith.IsConnectionError(err) {
		return locksmith.NewError(locksmith.ErrorKindConnection, op, err)
	}

	return locksmith.NewError(locksmith.ErrorKindSchemaLoad, op, err)
}
