package lockmon

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/orf/locksmith"
)

// Sampler reads the relation locks currently held or awaited by one backend.
type Sampler interface {
	Sample(ctx context.Context, pid uint32) ([]locksmith.LockEvent, error)
}

// Querier runs a query. *pgx.Conn satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Rows with granted = false are kept: a waiting request is a lock the
// statement needs.
const locksQuery = `
SELECT c.relname, l.mode
FROM pg_catalog.pg_locks l
JOIN pg_catalog.pg_database d ON d.oid = l.database
JOIN pg_catalog.pg_class c ON c.oid = l.relation
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE l.pid = $1
  AND d.datname = current_database()
  AND n.nspname = current_schema()
  AND c.relkind IN ('r', 'p')
  AND l.locktype = 'relation'
  AND l.mode IS NOT NULL
ORDER BY c.relname, l.mode`

// PGSampler samples pg_locks through a dedicated monitoring session.
type PGSampler struct {
	conn   Querier
	logger *slog.Logger
}

func NewSampler(conn Querier, logger *slog.Logger) *PGSampler {
	if logger == nil {
		logger = slog.Default()
	}

	return &PGSampler{conn: conn, logger: logger}
}

// Sample returns the table locks of pid, ordered by table then mode.
// Modes outside the table-level hierarchy (e.g. SIReadLock) are skipped.
func (s *PGSampler) Sample(ctx context.Context, pid uint32) ([]locksmith.LockEvent, error) {
	rows, err := s.conn.Query(ctx, locksQuery, int32(pid))
	if err != nil {
		return nil, classify(err)
	}

	var (
		events      []locksmith.LockEvent
		table, mode string
	)

	_, err = pgx.ForEachRow(rows, []any{&table, &mode}, func() error {
		parsed, err := locksmith.ParseLockMode(mode)
		if err != nil {
			s.logger.Warn("skipping lock with unsupported mode", "table", table, "mode", mode)
			return nil
		}

		events = append(events, locksmith.LockEvent{Table: table, Mode: parsed})

		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return events, nil
}

func classify(err error) error {
	if locksmith.IsConnectionError(err) {
		return locksmith.NewError(locksmith.ErrorKindConnection, "sample locks", err)
	}

	return locksmith.NewError(locksmith.ErrorKindIntrospection, "sample locks", err)
}
