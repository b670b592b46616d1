package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confessbox/confessbox/internal/v1/types"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := &Service{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"}),
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestGetSetDel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, ok, err := svc.Get(ctx, "room:state:ABC123")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Set(ctx, "room:state:ABC123", `{"code":"ABC123"}`, RoomStateTTL))

	val, ok, err := svc.Get(ctx, "room:state:ABC123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"code":"ABC123"}`, val)

	require.NoError(t, svc.Del(ctx, "room:state:ABC123"))
	_, ok, err = svc.Get(ctx, "room:state:ABC123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetTTLExpiry(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, MatchmakingKey("ABC123"), "x", MatchmakingTTL))
	mr.FastForward(MatchmakingTTL + time.Second)

	_, ok, err := svc.Get(ctx, MatchmakingKey("ABC123"))
	require.NoError(t, err)
	assert.False(t, ok, "matchmaking entry should expire")
}

func TestSetOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetAdd(ctx, OnlinePlayersKey, "user-1", 0))
	require.NoError(t, svc.SetAdd(ctx, OnlinePlayersKey, "user-2", 0))
	require.NoError(t, svc.SetAdd(ctx, OnlinePlayersKey, "user-1", 0)) // idempotent

	members, err := svc.SetMembers(ctx, OnlinePlayersKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, members)

	require.NoError(t, svc.SetRem(ctx, OnlinePlayersKey, "user-1"))
	members, err = svc.SetMembers(ctx, OnlinePlayersKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, members)
}

func TestLeaderboard(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.ZIncrBy(ctx, LeaderboardKey, 1, "alice"))
	require.NoError(t, svc.ZIncrBy(ctx, LeaderboardKey, 1, "alice"))
	require.NoError(t, svc.ZIncrBy(ctx, LeaderboardKey, 1, "bob"))

	top, err := svc.ZTop(ctx, LeaderboardKey, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, types.ScoredMember{Member: "alice", Score: 2}, top[0])
	assert.Equal(t, types.ScoredMember{Member: "bob", Score: 1}, top[1])

	top, err = svc.ZTop(ctx, LeaderboardKey, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Member)
}

func TestCompareAndSwap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	key := GameStateKey("game-1")
	require.NoError(t, svc.Set(ctx, key, "v1", GameStateTTL))

	err := svc.CompareAndSwap(ctx, key, func(old string) (string, error) {
		assert.Equal(t, "v1", old)
		return "v2", nil
	}, GameStateTTL)
	require.NoError(t, err)

	val, ok, err := svc.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", val)
}

func TestCompareAndSwapMissingKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.CompareAndSwap(ctx, "game:state:new", func(old string) (string, error) {
		assert.Empty(t, old)
		return "first", nil
	}, GameStateTTL)
	require.NoError(t, err)

	val, ok, _ := svc.Get(ctx, "game:state:new")
	require.True(t, ok)
	assert.Equal(t, "first", val)
}

func TestNilServiceIsNoop(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	_, ok, err := svc.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	assert.NoError(t, svc.SetAdd(ctx, "k", "m", 0))
	assert.NoError(t, svc.ZIncrBy(ctx, "k", 1, "m"))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "room:state:ABC123", RoomStateKey("ABC123"))
	assert.Equal(t, "game:state:g1", GameStateKey("g1"))
	assert.Equal(t, "matchmaking:ABC123", MatchmakingKey("ABC123"))
	assert.Equal(t, "word:penguin", WordKey("penguin"))
}
