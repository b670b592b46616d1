// Package ratelimit implements per-event rate limiting using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/confessbox/confessbox/internal/v1/config"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter enforces the per-(userId, eventName) token buckets from the
// protocol contract, plus an IP limit on WebSocket upgrades. Buckets are keyed
// by session-independent user id, so a reattach does not reset them.
type RateLimiter struct {
	perEvent map[string]*limiter.Limiter
	wsIP     *limiter.Limiter
	store    limiter.Store
}

// eventRates maps rate-limited event names to their configured format string.
func eventRates(cfg *config.Config) map[string]string {
	return map[string]string{
		types.EventGameAction:        cfg.RateLimitGameAction,
		types.EventSendMessage:       cfg.RateLimitSendMessage,
		types.EventCreateRoom:        cfg.RateLimitCreateRoom,
		types.EventJoinRoom:          cfg.RateLimitJoinRoom,
		types.EventSubmitConfession:  cfg.RateLimitConfession,
		types.EventUpdateConfession:  cfg.RateLimitConfession,
		types.EventRequestMatch:      cfg.RateLimitStartGame,
		types.EventStartGameWithPool: cfg.RateLimitStartGame,
		types.EventUpdateNickname:    cfg.RateLimitNickname,
	}
}

// NewRateLimiter creates a RateLimiter backed by Redis when available, falling
// back to an in-process memory store otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "rate:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store (Redis disabled or unavailable)")
	}

	perEvent := make(map[string]*limiter.Limiter)
	for event, formatted := range eventRates(cfg) {
		rate, err := parseRate(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", event, err)
		}
		perEvent[event] = limiter.New(store, rate)
	}

	wsIPRate, err := parseRate(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	return &RateLimiter{
		perEvent: perEvent,
		wsIP:     limiter.New(store, wsIPRate),
		store:    store,
	}, nil
}

// parseRate reads the "limit-period" format, extended with an optional
// multiplier on the period unit: "10-10S" is 10 requests per 10 seconds.
func parseRate(formatted string) (limiter.Rate, error) {
	parts := strings.SplitN(formatted, "-", 2)
	if len(parts) == 2 && len(parts[1]) > 1 {
		period := parts[1]
		if mult, err := strconv.Atoi(period[:len(period)-1]); err == nil && mult > 0 {
			rate, err := limiter.NewRateFromFormatted(parts[0] + "-" + period[len(period)-1:])
			if err != nil {
				return limiter.Rate{}, err
			}
			rate.Period *= time.Duration(mult)
			rate.Formatted = formatted
			return rate, nil
		}
	}
	return limiter.NewRateFromFormatted(formatted)
}

// CheckEvent consumes one token from the (userID, event) bucket. Events
// without a configured limit always pass. Store failures fail open.
func (rl *RateLimiter) CheckEvent(ctx context.Context, userID types.UserID, event string) error {
	lim, ok := rl.perEvent[event]
	if !ok {
		return nil
	}

	key := string(userID) + ":" + event
	res, err := lim.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.String("event", event), zap.Error(err))
		return nil // Fail open
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues(event).Inc()
		return types.ErrRateLimited
	}
	return nil
}

// CheckIP consumes one token from the per-IP connection bucket. Called before
// the WebSocket upgrade.
func (rl *RateLimiter) CheckIP(ctx context.Context, ip string) error {
	res, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed (IP)", zap.Error(err))
		return nil // Fail open
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("connect").Inc()
		return types.ErrRateLimited
	}
	return nil
}
