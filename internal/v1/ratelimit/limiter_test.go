package ratelimit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confessbox/confessbox/internal/v1/config"
	"github.com/confessbox/confessbox/internal/v1/types"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitGameAction:  "3-S",
		RateLimitSendMessage: "2-S",
		RateLimitCreateRoom:  "1-M",
		RateLimitJoinRoom:    "10-M",
		RateLimitConfession:  "5-M",
		RateLimitStartGame:   "5-30S",
		RateLimitNickname:    "3-M",
		RateLimitWsIP:        "2-M",
	}
}

func TestCheckEventUnderLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventGameAction))
	}
}

func TestCheckEventOverLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventCreateRoom))

	err = rl.CheckEvent(ctx, "user-1", types.EventCreateRoom)
	assert.Equal(t, types.ErrRateLimited, err)
}

func TestBucketsAreIndependentPerUser(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventCreateRoom))
	require.Error(t, rl.CheckEvent(ctx, "user-1", types.EventCreateRoom))

	// another user still has a full bucket
	assert.NoError(t, rl.CheckEvent(ctx, "user-2", types.EventCreateRoom))
}

func TestBucketsAreIndependentPerEvent(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventCreateRoom))
	require.Error(t, rl.CheckEvent(ctx, "user-1", types.EventCreateRoom))

	assert.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventSendMessage))
}

func TestUnlimitedEventsAlwaysPass(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		assert.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventGetRooms))
	}
}

func TestCheckIP(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rl.CheckIP(ctx, "10.0.0.1"))
	require.NoError(t, rl.CheckIP(ctx, "10.0.0.1"))
	assert.Equal(t, types.ErrRateLimited, rl.CheckIP(ctx, "10.0.0.1"))

	assert.NoError(t, rl.CheckIP(ctx, "10.0.0.2"))
}

func TestMultiSecondPeriodRates(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitStartGame = "2-30S"
	rl, err := NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventStartGameWithPool))
	require.NoError(t, rl.CheckEvent(ctx, "user-1", types.EventStartGameWithPool))
	assert.Equal(t, types.ErrRateLimited, rl.CheckEvent(ctx, "user-1", types.EventStartGameWithPool))
}

func TestDefaultConfigRatesConstruct(t *testing.T) {
	t.Setenv("TOKEN_SECRET", strings.Repeat("k", 32))
	t.Setenv("PORT", "8080")
	cfg, err := config.ValidateEnv()
	require.NoError(t, err)

	_, err = NewRateLimiter(cfg, nil)
	assert.NoError(t, err, "the shipped defaults must build a working limiter")
}

func TestInvalidRateFormat(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitGameAction = "banana"
	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}
