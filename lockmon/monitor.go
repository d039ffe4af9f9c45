// Package lockmon samples the lock registry for a single backend process
// while a statement runs on it.
//
// Sampling is best effort: a lock acquired and released between two polls
// is never seen.
package lockmon

import (
	"context"
	"log/slog"
	"time"

	"github.com/orf/locksmith"
)

// DefaultPollInterval is the sampling cadence used when none is configured.
const DefaultPollInterval = 25 * time.Millisecond

// Observation is what a Monitor hands back when it stops.
type Observation struct {
	// Locks holds each distinct (table, mode) pair in order of first observation.
	Locks []locksmith.LockEvent
	// Samples counts completed polls, including the final drain.
	Samples int
	// TimedOut is set when the monitor gave up before being told to stop.
	TimedOut bool
}

// Monitor polls a Sampler for one backend until stopped.
type Monitor struct {
	sampler  Sampler
	pid      uint32
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds how long the monitor samples. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Monitor for the backend with the given process id.
func New(sampler Sampler, pid uint32, opts ...Option) *Monitor {
	m := &Monitor{
		sampler:  sampler,
		pid:      pid,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run samples immediately and then once per interval until stop is closed,
// the monitor timeout elapses, or ctx is done.
//
// When stop is closed Run takes one last sample before returning, so locks
// still held by an open transaction are not lost. A monitor timeout is not an
// error: the observation is returned with TimedOut set. If ctx is done or a
// sample fails, the partial observation is returned with the error.
func (m *Monitor) Run(ctx context.Context, stop <-chan struct{}) (*Observation, error) {
	acc := NewAccumulator()
	obs := &Observation{}

	finish := func() *Observation {
		obs.Locks = acc.Events()
		return obs
	}

	sample := func() error {
		events, err := m.sampler.Sample(ctx, m.pid)
		if err != nil {
			if ctxErr := context.Cause(ctx); ctxErr != nil {
				return ctxErr
			}

			return err
		}

		obs.Samples++

		for _, e := range events {
			if acc.Add(e) {
				m.logger.Debug("lock observed", "pid", m.pid, "table", e.Table, "mode", e.Mode.String())
			}
		}

		return nil
	}

	var deadline <-chan time.Time

	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if err := sample(); err != nil {
		return finish(), err
	}

	for {
		select {
		case <-stop:
			if err := sample(); err != nil {
				return finish(), err
			}

			m.logger.Debug("lock monitor stopped", "pid", m.pid, "samples", obs.Samples, "locks", acc.Len())

			return finish(), nil
		case <-deadline:
			obs.TimedOut = true
			m.logger.Warn("lock monitor timed out", "pid", m.pid, "timeout", m.timeout, "samples", obs.Samples)

			return finish(), nil
		case <-ctx.Done():
			return finish(), context.Cause(ctx)
		case <-ticker.C:
			if err := sample(); err != nil {
				return finish(), err
			}
		}
	}
}
