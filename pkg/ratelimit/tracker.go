package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	requestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_rate_limit_remaining",
		Help: "Requests remaining in the current API rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_rate_limit_waits_total",
		Help: "Total number of requests held until the rate limit window reset",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_rate_limit_throttles_total",
		Help: "Total number of requests throttled because the quota was low",
	})
)

// DefaultThrottleDelay is the pause applied when the quota is low.
const DefaultThrottleDelay = 500 * time.Millisecond

// Tracker watches the request quota and gates requests on it.
type Tracker struct {
	store    Store
	logger   zerolog.Logger
	throttle time.Duration
}

// NewTracker creates a tracker persisting state in store.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		logger:   logger,
		throttle: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the pause applied when the quota is low.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttle = d
}

// State returns the current quota state. Without any recorded state the
// quota is assumed to be available.
func (t *Tracker) State(ctx context.Context) (*State, error) {
	s, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		t.logger.Debug().Msg("No rate limit state recorded, assuming quota available")
		return &State{Remaining: RemainingThresholdWarning, LastUpdate: time.Now()}, nil
	}
	return s, nil
}

// UpdateFromHeaders records the quota reported by a response. Responses
// without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	limit := 0
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	now := time.Now()
	state := &State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	requestsRemaining.Set(float64(remain))

	switch {
	case state.Exhausted():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("API rate limit exhausted, requests will wait for reset")
	case state.NeedsThrottling():
		t.logger.Info().
			Int("remaining", remain).
			Msg("API rate limit low, requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Int("limit", limit).
			Msg("API rate limit state updated")
	}
	return nil
}

// Wait blocks until a request may be sent. It waits for the window to
// reset when the quota is exhausted and pauses briefly when it is low.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.State(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	var delay time.Duration
	switch {
	case state.Exhausted():
		delay = state.TimeUntilReset()
		rateLimitWaitsTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("API rate limit exhausted, waiting for reset")
	case state.NeedsThrottling():
		delay = t.throttle
		rateLimitThrottlesTotal.Inc()
	default:
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
