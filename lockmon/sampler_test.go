package lockmon

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/testdata"
	"github.com/orf/locksmith/testhelper"
	"github.com/stretchr/testify/require"
)

func TestPGSampler(t *testing.T) {
	dsn := testhelper.StartPostgres(t)
	ctx := t.Context()

	holder := testhelper.Connect(t, dsn)
	testhelper.Exec(t, holder, string(testdata.Schema))

	sampler := NewSampler(testhelper.Connect(t, dsn), discardLogger())
	pid := holder.PgConn().PID()

	events, err := sampler.Sample(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))

	tx, err := holder.Begin(ctx)
	require.NoError(t, err)

	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "lock table orders in share row exclusive mode; lock table customers in access share mode")
	require.NoError(t, err)

	events, err = sampler.Sample(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, []locksmith.LockEvent{
		{Table: "customers", Mode: locksmith.AccessShareLock},
		{Table: "orders", Mode: locksmith.ShareRowExclusiveLock},
	}, events)

	// locks of other backends are not reported
	events, err = sampler.Sample(ctx, pid+100000)
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}

func TestPGSamplerReportsWaitingLocks(t *testing.T) {
	dsn := testhelper.StartPostgres(t)
	ctx := t.Context()

	setup := testhelper.Connect(t, dsn)
	testhelper.Exec(t, setup, string(testdata.Schema))

	blocker, err := setup.Begin(ctx)
	require.NoError(t, err)

	defer blocker.Rollback(ctx)

	_, err = blocker.Exec(ctx, "lock table customers in access exclusive mode")
	require.NoError(t, err)

	waiter := testhelper.Connect(t, dsn)
	pid := waiter.PgConn().PID()

	done := make(chan error, 1)
	go func() {
		_, err := waiter.Exec(ctx, "set lock_timeout = '5s'; select count(*) from customers")
		done <- err
	}()

	sampler := NewSampler(testhelper.Connect(t, dsn), discardLogger())

	require.Eventually(t, func() bool {
		events, err := sampler.Sample(ctx, pid)
		return err == nil && len(events) == 1 &&
			events[0] == locksmith.LockEvent{Table: "customers", Mode: locksmith.AccessShareLock}
	}, 4*time.Second, 20*time.Millisecond)

	require.NoError(t, blocker.Rollback(ctx))
	require.NoError(t, <-done)
}
