// Package cache wraps Redis behind the shared-cache surface used for room and
// game snapshots, matchmaking wait-sets, rate counters and the leaderboard.
// The cache is authoritative only for ephemeral data; for live rooms and games
// the in-memory owner is authoritative and writes here are save-through
// snapshots used for cross-attachment restoration.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Keyspace prefixes and TTLs. String keys throughout.
const (
	RoomStateTTL    = 24 * time.Hour
	GameStateTTL    = 4 * time.Hour
	MatchmakingTTL  = 60 * time.Second
	WordValidityTTL = 24 * time.Hour
)

func RoomStateKey(code types.RoomCode) string  { return "room:state:" + string(code) }
func GameStateKey(id types.GameID) string      { return "game:state:" + string(id) }
func MatchmakingKey(code types.RoomCode) string { return "matchmaking:" + string(code) }
func WordKey(word string) string               { return "word:" + word }

const (
	LeaderboardKey   = "leaderboard:global"
	OnlinePlayersKey = "online:players"
)

// ErrConflict is returned by CompareAndSwap when every optimistic attempt lost
// the race and the last-writer-wins fallback was applied.
var ErrConflict = errors.New("cache: compare-and-swap conflict")

const casMaxAttempts = 4

// Service handles all interaction with Redis. A nil *Service is a valid
// receiver and means single-instance, in-memory-only operation.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("cache").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis shared cache", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// execute runs op through the breaker; writes degrade gracefully when open.
func (s *Service) execute(op func() (interface{}, error)) (interface{}, error) {
	res, err := s.cb.Execute(op)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
	}
	return res, err
}

// Get retrieves a string value. The bool result reports key existence.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}

	res, err := s.execute(func() (interface{}, error) {
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: failing Get", "key", key)
			return "", false, types.ErrInternal
		}
		slog.Error("Cache Get failed", "key", key, "error", err)
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// Set stores a string value with a TTL. ttl <= 0 means no expiry.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: dropping Set", "key", key)
			return nil // Graceful degradation: snapshot writes are best-effort
		}
		slog.Error("Cache Set failed", "key", key, "error", err)
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Del removes a key.
func (s *Service) Del(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: dropping Del", "key", key)
			return nil
		}
		slog.Error("Cache Del failed", "key", key, "error", err)
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// SetAdd adds a member to a set and refreshes the key TTL. Used for the
// matchmaking wait-sets and the online-players set.
func (s *Service) SetAdd(ctx context.Context, key string, member string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, key, member)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: skipping SetAdd", "key", key)
			return nil
		}
		slog.Error("Cache SetAdd failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("cache sadd: %w", err)
	}
	return nil
}

// SetRem removes a member from a set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: skipping SetRem", "key", key)
			return nil
		}
		slog.Error("Cache SetRem failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("cache srem: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: returning empty set members", "key", key)
			return nil, nil // Callers can still function on local state
		}
		slog.Error("Cache SetMembers failed", "key", key, "error", err)
		return nil, fmt.Errorf("cache smembers: %w", err)
	}
	return res.([]string), nil
}

// ZIncrBy increments a member's score in a sorted set (the leaderboard).
func (s *Service) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.ZIncrBy(ctx, key, delta, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: skipping ZIncrBy", "key", key)
			return nil
		}
		slog.Error("Cache ZIncrBy failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("cache zincrby: %w", err)
	}
	return nil
}

// ZTop returns the n highest-scored members of a sorted set.
func (s *Service) ZTop(ctx context.Context, key string, n int64) ([]types.ScoredMember, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.execute(func() (interface{}, error) {
		return s.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			slog.Warn("Cache circuit breaker open: returning empty leaderboard", "key", key)
			return nil, nil
		}
		slog.Error("Cache ZTop failed", "key", key, "error", err)
		return nil, fmt.Errorf("cache zrevrange: %w", err)
	}

	zs := res.([]redis.Z)
	out := make([]types.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, types.ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

// CompareAndSwap applies update to the current value of key inside a WATCH
// transaction. On conflict it retries with brief random backoff; after
// casMaxAttempts it falls back to a last-writer-wins Set and returns
// ErrConflict so the caller can log the downgrade.
func (s *Service) CompareAndSwap(ctx context.Context, key string, update func(old string) (string, error), ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	var lastVal string
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return err
			}

			next, err := update(old)
			if err != nil {
				return err
			}
			lastVal = next

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if err != redis.TxFailedErr {
			slog.Error("Cache CompareAndSwap failed", "key", key, "error", err)
			return fmt.Errorf("cache cas: %w", err)
		}

		time.Sleep(time.Duration(rand.Intn(20)+5) * time.Millisecond)
	}

	// Persistent contention: last-writer-wins, logged by the caller.
	if err := s.client.Set(ctx, key, lastVal, ttl).Err(); err != nil {
		return fmt.Errorf("cache cas fallback: %w", err)
	}
	return ErrConflict
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
