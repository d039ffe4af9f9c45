package oracle

import (
	"log/slog"
	"time"

	"github.com/orf/locksmith"
	"github.com/orf/locksmith/lockmon"
	"github.com/orf/locksmith/schemaload"
)

const (
	DefaultTimeout = 60 * time.Second
	// cancelRequestTimeout bounds delivery of the native cancel request.
	cancelRequestTimeout = 5 * time.Second
)

type Option func(*Oracle)

// WithTimeout bounds statement execution plus lock monitoring. Exceeding it
// cancels the statement and fails the inspection with ExecutionTimedOut.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMonitorTimeout bounds lock sampling alone. Exceeding it only marks the
// inspection as MonitoringTimedOut. Zero leaves sampling bounded by the
// overall timeout.
func WithMonitorTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.monitorTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithLockPolicy(p locksmith.LockPolicy) Option {
	return func(o *Oracle) { o.policy = p }
}

// WithRestorer sets how archive schemas are restored. Without it, a provider
// that also implements schemaload.Restorer is used.
func WithRestorer(r schemaload.Restorer) Option {
	return func(o *Oracle) { o.restorer = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// OptionsFromConfig translates the inspection section of the configuration.
func OptionsFromConfig(c locksmith.InspectionConfig) ([]Option, error) {
	policy, err := locksmith.ParseLockPolicy(c.LockPolicy)
	if err != nil {
		return nil, err
	}

	return []Option{
		WithTimeout(c.Timeout),
		WithMonitorTimeout(c.MonitorTimeout),
		WithPollInterval(c.PollInterval),
		WithLockPolicy(policy),
	}, nil
}

func defaults() *Oracle {
	return &Oracle{
		timeout:      DefaultTimeout,
		pollInterval: lockmon.DefaultPollInterval,
		policy:       locksmith.LockPolicyStrongest,
		logger:       slog.Default(),
	}
}
