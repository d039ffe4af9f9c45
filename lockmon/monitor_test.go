package lockmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/orf/locksmith"
)

// scriptedSampler returns script[n] on the n-th call and the last entry once
// the script is exhausted. onSample runs after every call.
type scriptedSampler struct {
	mu       sync.Mutex
	script   [][]locksmith.LockEvent
	err      error
	calls    int
	pids     []uint32
	onSample func(call int)
}

func (s *scriptedSampler) Sample(ctx context.Context, pid uint32) ([]locksmith.LockEvent, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.pids = append(s.pids, pid)
	s.mu.Unlock()

	if s.onSample != nil {
		defer s.onSample(call)
	}

	if s.err != nil {
		return nil, s.err
	}

	if len(s.script) == 0 {
		return nil, nil
	}

	if call >= len(s.script) {
		call = len(s.script) - 1
	}

	return s.script[call], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var (
	ordersShare     = locksmith.LockEvent{Table: "orders", Mode: locksmith.AccessShareLock}
	ordersExclusive = locksmith.LockEvent{Table: "orders", Mode: locksmith.AccessExclusiveLock}
	customersExcl   = locksmith.LockEvent{Table: "customers", Mode: locksmith.AccessExclusiveLock}
)

func TestMonitorDeduplicatesAcrossPolls(t *testing.T) {
	stop := make(chan struct{})

	sampler := &scriptedSampler{
		script: [][]locksmith.LockEvent{
			{ordersShare},
			{ordersShare, customersExcl},
			{customersExcl, ordersShare},
		},
		onSample: func(call int) {
			if call == 2 {
				close(stop)
			}
		},
	}

	m := New(sampler, 4242, WithInterval(time.Millisecond), WithLogger(discardLogger()))

	obs, err := m.Run(t.Context(), stop)
	assert.NoError(t, err)
	assert.False(t, obs.TimedOut)
	assert.Equal(t, []locksmith.LockEvent{ordersShare, customersExcl}, obs.Locks)

	// three polls plus the drain
	assert.Equal(t, 4, obs.Samples)

	for _, pid := range sampler.pids {
		assert.Equal(t, uint32(4242), pid)
	}
}

func TestMonitorDrainsAfterStop(t *testing.T) {
	stop := make(chan struct{})
	close(stop)

	sampler := &scriptedSampler{
		script: [][]locksmith.LockEvent{
			nil,
			{ordersExclusive},
		},
	}

	m := New(sampler, 1, WithInterval(time.Hour), WithLogger(discardLogger()))

	obs, err := m.Run(t.Context(), stop)
	assert.NoError(t, err)
	assert.Equal(t, 2, obs.Samples)
	assert.Equal(t, []locksmith.LockEvent{ordersExclusive}, obs.Locks)
}

func TestMonitorTimeoutIsNotAnError(t *testing.T) {
	sampler := &scriptedSampler{script: [][]locksmith.LockEvent{{ordersShare}}}

	m := New(sampler, 1,
		WithInterval(time.Millisecond),
		WithTimeout(20*time.Millisecond),
		WithLogger(discardLogger()))

	obs, err := m.Run(t.Context(), make(chan struct{}))
	assert.NoError(t, err)
	assert.True(t, obs.TimedOut)
	assert.Equal(t, []locksmith.LockEvent{ordersShare}, obs.Locks)
}

func TestMonitorContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	sampler := &scriptedSampler{
		script: [][]locksmith.LockEvent{{ordersShare}},
		onSample: func(call int) {
			if call == 1 {
				cancel()
			}
		},
	}

	m := New(sampler, 1, WithInterval(time.Millisecond), WithLogger(discardLogger()))

	obs, err := m.Run(ctx, make(chan struct{}))
	assert.IsError(t, err, context.Canceled)
	assert.NotZero(t, obs)
	assert.Equal(t, []locksmith.LockEvent{ordersShare}, obs.Locks)
}

func TestMonitorSampleError(t *testing.T) {
	boom := errors.New("boom")
	sampler := &scriptedSampler{err: boom}

	m := New(sampler, 1, WithLogger(discardLogger()))

	obs, err := m.Run(t.Context(), make(chan struct{}))
	assert.IsError(t, err, boom)
	assert.Equal(t, 0, obs.Samples)
	assert.Equal(t, 0, len(obs.Locks))
}
