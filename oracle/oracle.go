// Package oracle inspects the operational impact of a single SQL statement:
// the table locks it takes, the catalog objects it adds or removes, and the
// tables it rewrites.
//
// An inspection uses three sessions on a fresh database. A loader session
// applies the baseline schema and is closed. The execution session runs the
// statement inside a transaction while a monitoring session samples pg_locks
// for the execution backend. Once the statement returns, the monitor takes a
// final sample while the transaction still holds its locks, and only then is
// the transaction committed (or rolled back on error) and the catalog
// compared with its state before the statement.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/diff"
	"github.com/orf/locksmith/introspect"
	"github.com/orf/locksmith/lockmon"
	"github.com/orf/locksmith/schemaload"
	"golang.org/x/sync/errgroup"
)

// ConnectionProvider opens sessions on the database under inspection. The
// database must be empty and otherwise unused.
type ConnectionProvider interface {
	Connect(ctx context.Context) (*pgx.Conn, error)
}

// Oracle runs inspections. It holds no per-inspection state and may be
// reused, but not concurrently against the same database.
type Oracle struct {
	provider       ConnectionProvider
	restorer       schemaload.Restorer
	timeout        time.Duration
	monitorTimeout time.Duration
	pollInterval   time.Duration
	policy         locksmith.LockPolicy
	logger         *slog.Logger
}

// New creates an Oracle opening sessions through provider.
func New(provider ConnectionProvider, opts ...Option) *Oracle {
	o := defaults()
	o.provider = provider

	for _, opt := range opts {
		opt(o)
	}

	if o.restorer == nil {
		if r, ok := provider.(schemaload.Restorer); ok {
			o.restorer = r
		}
	}

	return o
}

// Inspect loads schema, runs statement and reports what it did.
//
// Fatal failures are returned as *locksmith.Error and no Inspection is
// produced. A failing statement or a monitor timeout is not fatal: the
// Inspection is returned with StatementError or MonitoringTimedOut set.
func (o *Oracle) Inspect(ctx context.Context, schema []byte, statement string) (*locksmith.Inspection, error) {
	start := time.Now()
	logger := o.logger.With("inspection", uuid.NewString())

	if err := o.loadSchema(ctx, schema, logger); err != nil {
		return nil, err
	}

	execConn, err := o.connect(ctx, "execution")
	if err != nil {
		return nil, err
	}
	defer closeConn(ctx, execConn, logger)

	monConn, err := o.connect(ctx, "monitor")
	if err != nil {
		return nil, err
	}
	defer closeConn(ctx, monConn, logger)

	introspector := introspect.New(execConn, logger)

	before, err := introspector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	logger.Debug("executing statement", "pid", execConn.PgConn().PID(), "monitor_pid", monConn.PgConn().PID())

	run, err := o.execute(ctx, execConn, monConn, statement, logger)
	if err != nil {
		return nil, err
	}

	after, err := introspector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	added, removed := diff.Compare(before, after)

	inspection := &locksmith.Inspection{
		Statement:          statement,
		Locks:              o.policy.Apply(run.observation.Locks),
		AddedObjects:       added,
		RemovedObjects:     removed,
		Rewrites:           diff.Rewrites(before, after),
		StatementError:     run.statementErr,
		MonitoringTimedOut: run.observation.TimedOut,
		Duration:           time.Since(start),
	}

	logger.Info("inspection finished",
		"locks", len(inspection.Locks),
		"added", len(inspection.AddedObjects),
		"removed", len(inspection.RemovedObjects),
		"rewrites", len(inspection.Rewrites),
		"partial", inspection.Partial(),
		"duration", inspection.Duration)

	return inspection, nil
}

func (o *Oracle) loadSchema(ctx context.Context, schema []byte, logger *slog.Logger) error {
	conn, err := o.connect(ctx, "loader")
	if err != nil {
		return err
	}
	defer closeConn(ctx, conn, logger)

	return schemaload.New(o.restorer, logger).Load(ctx, conn, schema)
}

func (o *Oracle) connect(ctx context.Context, role string) (*pgx.Conn, error) {
	conn, err := o.provider.Connect(ctx)
	if err != nil {
		if locksmith.KindOf(err) != locksmith.ErrorKindUnknown {
			return nil, err
		}

		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "open "+role+" session", err)
	}

	return conn, nil
}

func closeConn(ctx context.Context, conn *pgx.Conn, logger *slog.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRequestTimeout)
	defer cancel()

	if err := conn.Close(closeCtx); err != nil {
		logger.Debug("closing session failed", "error", err)
	}
}

// runResult is the outcome of one execution attempt.
type runResult struct {
	observation  *lockmon.Observation
	statementErr *locksmith.StatementError
}

// SQLSTATE active_sql_transaction: the statement refuses to run inside a
// transaction block (CREATE INDEX CONCURRENTLY, VACUUM, ...).
const sqlStateActiveTransaction = "25001"

func (o *Oracle) execute(ctx context.Context, execConn, monConn *pgx.Conn, statement string, logger *slog.Logger) (*runResult, error) {
	run, err := o.run(ctx, execConn, monConn, statement, true, logger)
	if err != nil {
		return nil, err
	}

	if run.statementErr != nil && run.statementErr.SQLState == sqlStateActiveTransaction {
		logger.Info("statement cannot run inside a transaction block, retrying without one; locks are sampled best effort")
		return o.run(ctx, execConn, monConn, statement, false, logger)
	}

	return run, nil
}

// run executes statement once while the monitor samples the execution
// backend. With transactional set the statement runs inside BEGIN, and the
// transaction is ended only after the monitor's final sample.
func (o *Oracle) run(ctx context.Context, execConn, monConn *pgx.Conn, statement string, transactional bool, logger *slog.Logger) (*runResult, error) {
	pid := execConn.PgConn().PID()
	sessionCtx := context.WithoutCancel(ctx)

	if transactional {
		if _, err := execConn.Exec(ctx, "BEGIN"); err != nil {
			return nil, locksmith.NewError(locksmith.ErrorKindConnection, "begin transaction", err)
		}
	}

	phaseCtx, cancelPhase := context.WithTimeoutCause(ctx, o.timeout, locksmith.ErrExecutionTimedOut)
	defer cancelPhase()

	// The statement runs on a context that is never cancelled; pgx would
	// otherwise close the session. It is interrupted with a cancel request.
	stopCancelWatch := context.AfterFunc(phaseCtx, func() {
		logger.Warn("cancelling statement", "pid", pid, "cause", context.Cause(phaseCtx))

		cancelCtx, cancel := context.WithTimeout(sessionCtx, cancelRequestTimeout)
		defer cancel()

		if err := execConn.PgConn().CancelRequest(cancelCtx); err != nil {
			logger.Warn("cancel request failed", "pid", pid, "error", err)
		}
	})
	defer stopCancelWatch()

	monitor := lockmon.New(lockmon.NewSampler(monConn, logger), pid,
		lockmon.WithInterval(o.pollInterval),
		lockmon.WithTimeout(o.monitorTimeout),
		lockmon.WithLogger(logger))

	var (
		g           errgroup.Group
		stop        = make(chan struct{})
		execErr     error
		observation *lockmon.Observation
	)

	g.Go(func() error {
		defer close(stop)

		_, execErr = execConn.Exec(sessionCtx, statement)

		return nil
	})

	g.Go(func() error {
		var err error

		observation, err = monitor.Run(phaseCtx, stop)
		if err != nil {
			cancelPhase()
		}

		return err
	})

	monErr := g.Wait()
	stopCancelWatch()

	if errors.Is(context.Cause(phaseCtx), locksmith.ErrExecutionTimedOut) && (monErr != nil || isQueryCanceled(execErr)) {
		endTransaction(sessionCtx, execConn, transactional, false, logger)

		return nil, locksmith.NewError(locksmith.ErrorKindExecutionTimedOut, "execute statement",
			fmt.Errorf("statement cancelled after %s", o.timeout))
	}

	if err := ctx.Err(); err != nil {
		endTransaction(sessionCtx, execConn, transactional, false, logger)

		return nil, locksmith.NewError(locksmith.ErrorKindAborted, "execute statement", context.Cause(ctx))
	}

	if monErr != nil {
		endTransaction(sessionCtx, execConn, transactional, false, logger)
		return nil, monErr
	}

	if execErr != nil && locksmith.IsConnectionError(execErr) {
		return nil, locksmith.NewError(locksmith.ErrorKindConnection, "execute statement", execErr)
	}

	result := &runResult{observation: observation}
	if execErr != nil {
		result.statementErr = locksmith.NewStatementError(execErr)
		logger.Info("statement failed", "sqlstate", result.statementErr.SQLState, "error", result.statementErr.Message)
	}

	if transactional {
		if err := endTransaction(sessionCtx, execConn, true, execErr == nil, logger); err != nil {
			if locksmith.IsConnectionError(err) {
				return nil, locksmith.NewError(locksmith.ErrorKindConnection, "commit", err)
			}

			// Deferred constraints are checked at commit.
			result.statementErr = locksmith.NewStatementError(err)
		}
	}

	return result, nil
}

// endTransaction commits or rolls back the transaction opened by run. A
// rollback failure is only logged; a commit failure is returned.
func endTransaction(ctx context.Context, conn *pgx.Conn, transactional, commit bool, logger *slog.Logger) error {
	if !transactional {
		return nil
	}

	if commit {
		_, err := conn.Exec(ctx, "COMMIT")
		return err
	}

	if _, err := conn.Exec(ctx, "ROLLBACK"); err != nil {
		logger.Debug("rollback failed", "error", err)
	}

	return nil
}

func isQueryCanceled(err error) bool {
	var pgErr *pgconn.PgError

	// SQLSTATE query_canceled
	return errors.As(err, &pgErr) && pgErr.Code == "57014"
}
