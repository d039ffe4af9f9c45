// Package introspect reads point-in-time catalog snapshots of the current
// schema from a live PostgreSQL session.
package introspect

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/orf/locksmith"
)

// Beginner opens transactions. *pgx.Conn satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Introspector captures catalog snapshots.
type Introspector struct {
	conn   Beginner
	logger *slog.Logger
}

// New creates an Introspector reading through conn.
func New(conn Beginner, logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Introspector{conn: conn, logger: logger}
}

// All queries are limited to ordinary and partitioned tables in the session's
// current schema, which excludes system catalogs, TOAST tables and sequences.

const tablesQuery = `
SELECT c.relname, c.relfilenode
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = current_schema()
  AND c.relkind IN ('r', 'p')
ORDER BY c.relname`

const columnsQuery = `
SELECT c.relname, a.attname, pg_catalog.format_type(a.atttypid, a.atttypmod)
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = current_schema()
  AND c.relkind IN ('r', 'p')
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY c.relname, a.attname`

const indexesQuery = `
SELECT t.relname, i.relname, pg_catalog.pg_get_indexdef(i.oid)
FROM pg_catalog.pg_index x
JOIN pg_catalog.pg_class i ON i.oid = x.indexrelid
JOIN pg_catalog.pg_class t ON t.oid = x.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = current_schema()
  AND t.relkind IN ('r', 'p')
ORDER BY t.relname, i.relname`

// Snapshot reads tables, columns, indexes and table file nodes inside one
// read-only repeatable-read transaction, so concurrent DDL from another
// session is either fully visible or not at all.
//
// On failure no snapshot is returned; errors are classified as
// IntrospectionError or ConnectionError.
func (i *Introspector) Snapshot(ctx context.Context) (*locksmith.Snapshot, error) {
	tx, err := i.conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, classify("begin snapshot transaction", err)
	}

	// Read-only: rollback is the normal way to end it.
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			i.logger.Debug("snapshot rollback failed", "error", rbErr)
		}
	}()

	snapshot := locksmith.NewSnapshot()

	if err := readTables(ctx, tx, snapshot); err != nil {
		return nil, classify("list tables", err)
	}

	if err := readColumns(ctx, tx, snapshot); err != nil {
		return nil, classify("list columns", err)
	}

	if err := readIndexes(ctx, tx, snapshot); err != nil {
		return nil, classify("list indexes", err)
	}

	if err := snapshot.Validate(); err != nil {
		return nil, locksmith.NewError(locksmith.ErrorKindIntrospection, "validate snapshot", err)
	}

	i.logger.Debug("catalog snapshot taken",
		"tables", len(snapshot.FileNodes),
		"objects", len(snapshot.Objects))

	return snapshot, nil
}

func readTables(ctx context.Context, tx pgx.Tx, snapshot *locksmith.Snapshot) error {
	rows, err := tx.Query(ctx, tablesQuery)
	if err != nil {
		return err
	}

	var (
		name     string
		fileNode uint32
	)

	_, err = pgx.ForEachRow(rows, []any{&name, &fileNode}, func() error {
		snapshot.Add(locksmith.Table{Name: name})
		snapshot.FileNodes[name] = locksmith.FileNode(fileNode)

		return nil
	})

	return err
}

func readColumns(ctx context.Context, tx pgx.Tx, snapshot *locksmith.Snapshot) error {
	rows, err := tx.Query(ctx, columnsQuery)
	if err != nil {
		return err
	}

	var table, name, dataType string

	_, err = pgx.ForEachRow(rows, []any{&table, &name, &dataType}, func() error {
		snapshot.Add(locksmith.Column{Table: table, Name: name, DataType: dataType})
		return nil
	})

	return err
}

func readIndexes(ctx context.Context, tx pgx.Tx, snapshot *locksmith.Snapshot) error {
	rows, err := tx.Query(ctx, indexesQuery)
	if err != nil {
		return err
	}

	var table, name, definition string

	_, err = pgx.ForEachRow(rows, []any{&table, &name, &definition}, func() error {
		snapshot.Add(locksmith.Index{Table: table, Name: name, Definition: definition})
		return nil
	})

	return err
}

func classify(op string, err error) error {
	if locksmith.IsConnectionError(err) {
		return locksmith.NewError(locksmith.ErrorKindConnection, op, err)
	}

	return locksmith.NewError(locksmith.ErrorKindIntrospection, op, err)
}
