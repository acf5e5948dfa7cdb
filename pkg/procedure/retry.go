package procedure

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/validation"
)

// RetryConfig bounds the in-place retry loop used for transient store
// errors during STORAGE_UPDATE. Zero values fall back to defaults.
type RetryConfig struct {
	// Interval is the delay before the first retry.
	Interval time.Duration
	// MaxInterval caps the backoff growth.
	MaxInterval time.Duration
	// BackoffCoeff multiplies the interval after every failed attempt.
	BackoffCoeff int
	// MaxAttempts is the total number of tries, the first one included.
	MaxAttempts int
}

const (
	defaultRetryInterval    = 100 * time.Millisecond
	defaultRetryMaxInterval = 5 * time.Second
	defaultBackoffCoeff     = 2
	defaultMaxAttempts      = 5
)

func (c RetryConfig) withDefaults() RetryConfig {
	c.Interval = validation.DefaultOrDuration(c.Interval, defaultRetryInterval)
	c.MaxInterval = validation.DefaultOrDuration(c.MaxInterval, defaultRetryMaxInterval)
	c.BackoffCoeff = validation.DefaultOr(c.BackoffCoeff, defaultBackoffCoeff)
	c.MaxAttempts = validation.DefaultOr(c.MaxAttempts, defaultMaxAttempts)
	return c
}

// Retryer re-runs an operation while it keeps failing with transient store
// errors, sleeping an exponentially growing interval between attempts.
type Retryer struct {
	config  RetryConfig
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewRetryer creates a Retryer. Nil logger and metrics get defaults.
func NewRetryer(config RetryConfig, logger logging.Logger, m *metrics.Registry) *Retryer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	return &Retryer{config: config.withDefaults(), logger: logger, metrics: m}
}

// Run tries fn until it succeeds, fails with a non-transient error, runs out
// of attempts, or the context is canceled.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			interval := r.intervalFor(attempt - 1)
			r.logger.Warn("transient store error, retrying",
				logging.Int("attempt", attempt),
				logging.Duration("backoff", interval),
				logging.Error(lastErr))
			r.metrics.RecordProcedureRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("giving up after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// intervalFor returns the backoff delay preceding the given retry, counted
// from zero.
func (r *Retryer) intervalFor(retry int) time.Duration {
	coeff := math.Pow(float64(r.config.BackoffCoeff), float64(retry))
	interval := time.Duration(float64(r.config.Interval) * coeff)
	return validation.ClampDuration(interval, r.config.Interval, r.config.MaxInterval)
}

// isTransient reports whether the error is worth retrying in place. Only
// store unavailability qualifies; everything else goes to rollback.
func isTransient(err error) bool {
	return coordstore.IsUnavailable(err)
}
