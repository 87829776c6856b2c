// Package backoff computes reconnection delays for the transport. Delays grow
// exponentially from InitialInterval by Multiplier and are capped at
// MaxInterval; Reset starts the sequence over after a successful connect.
package backoff

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var metrics = struct {
	Delays  prometheus.Histogram
	Resets  prometheus.Counter
	Retries prometheus.Counter
}{
	Delays: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kafkanet", Subsystem: "backoff", Name: "delay_seconds",
		Help:    "Histogram of computed reconnection delays (seconds)",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}),
	Resets: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "backoff", Name: "resets_total",
		Help: "Number of back-off resets (successful connects)",
	}),
	Retries: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "backoff", Name: "retries_total",
		Help: "Number of delays handed out",
	}),
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config contains tunables for the reconnection back-off.
//
// All zero values are treated as "use the default".
type Config struct {
	// InitialInterval is the first delay after a disconnect.
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// Multiplier multiplies the previous delay to get the next one.
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps each individual delay.
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Minute
	}
}

func (c Config) validate() error {
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be >= 1")
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("backoff: MaxInterval must be >= InitialInterval")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Policy
// -----------------------------------------------------------------------------

// Policy hands out reconnection delays. Not safe for concurrent use; the
// transport loop is its only caller.
type Policy struct {
	b *backoff.ExponentialBackOff
}

// NewPolicy builds a Policy from cfg.
//
// RandomizationFactor is pinned to zero: the delay sequence is deterministic
// (initial, initial*m, initial*m^2, ... capped at MaxInterval), which is what
// the transport's reconnect contract documents.
func NewPolicy(cfg Config) (*Policy, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0 // the transport retries forever
	b.Reset()
	return &Policy{b: b}, nil
}

// Next returns the delay to sleep before the next connect attempt.
func (p *Policy) Next() time.Duration {
	d := p.b.NextBackOff()
	metrics.Retries.Inc()
	metrics.Delays.Observe(d.Seconds())
	return d
}

// Reset restarts the sequence at InitialInterval. Called after a successful
// connect.
func (p *Policy) Reset() {
	p.b.Reset()
	metrics.Resets.Inc()
}
