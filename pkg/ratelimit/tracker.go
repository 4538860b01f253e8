package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for error budget tracking.
var (
	feedErrorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_errors_remaining",
		Help: "Number of errors remaining in the current error budget window",
	})

	feedRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical error budget",
	})

	feedRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning error budget",
	})
)

// ThrottleDelay is how long a request waits while the budget is in warning.
const ThrottleDelay = 1 * time.Second

// Tracker monitors the error budget and gates requests.
type Tracker struct {
	redis      *redis.Client
	logger     zerolog.Logger
	thresholds Thresholds
}

// NewTracker creates a new tracker. Zero thresholds take the defaults.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, th Thresholds) *Tracker {
	def := DefaultThresholds()
	if th.Critical <= 0 {
		th.Critical = def.Critical
	}
	if th.Warning <= 0 {
		th.Warning = def.Warning
	}
	if th.Healthy <= 0 {
		th.Healthy = max(def.Healthy, th.Warning)
	}

	return &Tracker{
		redis:      redisClient,
		logger:     logger,
		thresholds: th,
	}
}

// Thresholds returns the thresholds in effect.
func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// GetState retrieves the current budget from Redis.
// Returns a default healthy state if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	vals, err := t.redis.MGet(ctx, RedisKeyErrorsRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get error budget: %w", err)
	}

	if vals[0] == nil {
		t.logger.Debug().Msg("No error budget in Redis, returning default healthy state")
		return &State{
			ErrorsRemaining: 100,
			ResetAt:         time.Now().Add(60 * time.Second),
			LastUpdate:      time.Now(),
			IsHealthy:       true,
		}, nil
	}

	remain, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parse errors remaining: %w", err)
	}

	state := &State{ErrorsRemaining: remain}

	if vals[1] != nil {
		resetUnix, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		state.ResetAt = time.Unix(resetUnix, 0)
	}

	if vals[2] != nil {
		if err := json.Unmarshal([]byte(fmt.Sprint(vals[2])), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state.UpdateHealth(t.thresholds)
	return state, nil
}

// UpdateFromHeaders parses the budget headers and stores the new state.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderErrorLimitRemain)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderErrorLimitRemain, err)
	}

	resetStr := headers.Get(HeaderErrorLimitReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderErrorLimitReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderErrorLimitReset, err)
	}

	now := time.Now()
	state := &State{
		ErrorsRemaining: remain,
		ResetAt:         now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate:      now,
	}
	state.UpdateHealth(t.thresholds)

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Keys expire with the window so a stale budget never blocks forever.
	ttl := time.Duration(resetSeconds)*time.Second + time.Minute

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyErrorsRemaining, remain, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store error budget in redis: %w", err)
	}

	feedErrorsRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock(t.thresholds):
		t.logger.Error().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Error budget CRITICAL - requests will be blocked")
	case state.NeedsThrottling(t.thresholds):
		t.logger.Warn().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Error budget WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Error budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent. In the warning
// band it waits ThrottleDelay first; the wait ends early with ctx.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get error budget: %w", err)
	}

	if state.NeedsCriticalBlock(t.thresholds) {
		t.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Error budget critical - blocking request")

		feedRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.thresholds) {
		t.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Error budget warning - throttling request")

		feedRateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
