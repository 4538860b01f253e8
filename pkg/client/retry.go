package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	feedRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	feedRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	feedRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass derives the retry configuration for an error
// class from a base configuration. Rate limiting waits longer, network
// errors a little longer than server errors.
func RetryConfigForErrorClass(base RetryConfig, errorClass ErrorClass) RetryConfig {
	cfg := base
	switch errorClass {
	case ErrorClassRateLimit:
		cfg.InitialBackoff = base.InitialBackoff * 4
		cfg.MaxBackoff = base.MaxBackoff * 4
	case ErrorClassNetwork:
		cfg.InitialBackoff = base.InitialBackoff * 2
	}
	return cfg
}

func newExponentialBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// classBackOff picks the backoff schedule of the most recently observed
// error class.
type classBackOff struct {
	current  *ErrorClass
	policies map[ErrorClass]*backoff.ExponentialBackOff
	fallback *backoff.ExponentialBackOff
}

func newClassBackOff(base RetryConfig, current *ErrorClass) *classBackOff {
	policies := make(map[ErrorClass]*backoff.ExponentialBackOff)
	for _, class := range []ErrorClass{ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork} {
		policies[class] = newExponentialBackOff(RetryConfigForErrorClass(base, class))
	}
	return &classBackOff{
		current:  current,
		policies: policies,
		fallback: newExponentialBackOff(base),
	}
}

func (b *classBackOff) NextBackOff() time.Duration {
	if p, ok := b.policies[*b.current]; ok {
		return p.NextBackOff()
	}
	return b.fallback.NextBackOff()
}

func (b *classBackOff) Reset() {
	for _, p := range b.policies {
		p.Reset()
	}
	b.fallback.Reset()
}

// retryWithBackoff executes fn with exponential backoff. fn reports the
// class of its failure through class; failures of a class that must not be
// retried are returned immediately. Context cancellation stops the wait.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(class *ErrorClass) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var class ErrorClass
	attempts := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newClassBackOff(cfg, &class), uint64(cfg.MaxAttempts-1)),
		ctx,
	)

	operation := func() error {
		attempts++
		class = ""
		err := fn(&class)
		if err == nil {
			if attempts > 1 {
				logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempts).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		if !shouldRetry(class) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		feedRetriesTotal.WithLabelValues(string(class)).Inc()
		feedRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())
		logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil || !shouldRetry(class) || attempts < cfg.MaxAttempts {
		return err
	}

	feedRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, err)
}
