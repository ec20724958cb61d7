package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cm_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig bounds the attempts of one request. MaxAttempts counts the
// first attempt. The pause starts at InitialBackoff and is multiplied by
// BackoffMultiplier after every attempt, up to MaxBackoff.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoffFor returns the first backoff for an error class. Rate limit
// responses start from a longer pause.
func (c RetryConfig) backoffFor(errorClass ErrorClass) time.Duration {
	if errorClass == ErrorClassRateLimit {
		return 2 * c.InitialBackoff
	}
	return c.InitialBackoff
}

// backoff tracks the growing pause between attempts of one request.
type backoff struct {
	cfg  RetryConfig
	next time.Duration
}

// delay returns the pause before the next attempt after err and advances
// the schedule. The pause carries ±20% jitter and is never shorter than the
// server's Retry-After.
func (b *backoff) delay(err error, class ErrorClass) time.Duration {
	if b.next == 0 {
		b.next = b.cfg.backoffFor(class)
	}
	d := time.Duration(float64(b.next) * (0.8 + rand.Float64()*0.4))
	if ra := retryAfter(err); ra > d {
		d = ra
	}
	b.next = min(time.Duration(float64(b.next)*b.cfg.BackoffMultiplier), b.cfg.MaxBackoff)
	return d
}

func retryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs fn until it succeeds, fails with an error that is
// not worth retrying, or MaxAttempts is reached.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, cfg RetryConfig, fn func() error) error {
	var (
		lastErr error
		class   ErrorClass
	)
	b := &backoff{cfg: cfg}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("error_class", string(class)).Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		lastErr, class = err, classify(err)
		if !shouldRetry(class) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := b.delay(err, class)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())
		logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Backing off before next attempt")

		if err := sleep(ctx, wait); err != nil {
			logger.Warn().Str("error_class", string(class)).Int("attempt", attempt).Msg("Gave up waiting for next attempt")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().Str("error_class", string(class)).Int("max_attempts", cfg.MaxAttempts).Msg("Retry attempts exhausted")
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
