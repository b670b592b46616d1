package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/types"
	"go.uber.org/zap"
)

// matchStartDelay is the countdown between announcing the selected game and
// the first playable state.
const matchStartDelay = 3 * time.Second

// Launcher is the matchmaker: it gates game starts on the host's
// preconditions, picks a game from the room pool and hands the ready players
// to the scheduler.
type Launcher struct {
	sched *Scheduler
	cache types.CacheService

	mu  sync.Mutex
	rng *rand.Rand
}

func NewLauncher(sched *Scheduler, cacheService types.CacheService) *Launcher {
	return &Launcher{
		sched: sched,
		cache: cacheService,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartGameWithPool begins a match on the host's request. Preconditions, in
// order: caller is host, no game already linked to the room, at least two
// players hold an unrevealed confession, and the pool is non-empty.
// The match is drawn from the intersection of the room pool and the
// requested types; an empty request means the whole pool.
func (l *Launcher) StartGameWithPool(ctx context.Context, userID types.UserID, r *room.Room, requested []types.GameType) (types.GameID, error) {
	if !r.IsHost(userID) {
		return "", types.ErrNotHost
	}
	if r.CurrentGameID() != "" {
		return "", types.ErrGameInProgress
	}

	ready := r.ReadyPlayers()
	if len(ready) < minGamePlayers {
		return "", types.ErrNotEnoughReady
	}

	pool := l.eligiblePool(r.GamePool(), requested)
	if len(pool) == 0 {
		return "", types.ErrNoGamesAvailable
	}

	l.mu.Lock()
	gameType := pool[l.rng.Intn(len(pool))]
	l.mu.Unlock()

	r.Broadcast(types.EventMatchmakingStarted, map[string]any{
		"players": ready,
	})
	r.Broadcast(types.EventGameSelected, map[string]any{
		"gameType": gameType,
	})
	r.Broadcast(types.EventGameStarting, map[string]any{
		"gameType":  gameType,
		"players":   ready,
		"countdown": int(matchStartDelay.Seconds()),
	})

	gameID, err := l.sched.Launch(ctx, r, gameType, ready)
	if err != nil {
		return "", err
	}
	r.SetCurrentGame(ctx, gameID, ready)
	r.AppendSystemMessage("A round of " + string(gameType) + " is starting")

	r.Broadcast(types.EventMatchStarted, map[string]any{
		"gameId":   gameID,
		"gameType": gameType,
		"players":  ready,
	})

	// the matchmaking wait-set served its purpose
	_ = l.cache.Del(ctx, cache.MatchmakingKey(r.Code()))
	return gameID, nil
}

// eligiblePool intersects the room pool with the host's requested subset,
// preserving room pool order.
func (l *Launcher) eligiblePool(roomPool, requested []types.GameType) []types.GameType {
	if len(requested) == 0 {
		return roomPool
	}
	want := make(map[types.GameType]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	out := make([]types.GameType, 0, len(roomPool))
	for _, t := range roomPool {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

// RequestMatch records a player's wish to be matched. Entries live in the
// matchmaking wait-set with a short TTL; once at least two distinct players
// are waiting and no game is running, the room is told a match could start.
// Only the host can then actually start it.
func (l *Launcher) RequestMatch(ctx context.Context, userID types.UserID, r *room.Room) error {
	if !r.HasPlayer(userID) {
		return types.ErrNotInRoom
	}
	if r.CurrentGameID() != "" {
		return types.ErrGameInProgress
	}

	key := cache.MatchmakingKey(r.Code())
	if err := l.cache.SetAdd(ctx, key, string(userID), cache.MatchmakingTTL); err != nil {
		logging.Warn(ctx, "Matchmaking wait-set update failed", zap.Error(err))
	}

	waiting, err := l.cache.SetMembers(ctx, key)
	if err != nil || len(waiting) == 0 {
		// degraded cache still lets the host start manually
		waiting = []string{string(userID)}
	}

	if len(waiting) >= minGamePlayers {
		r.Broadcast(types.EventMatchmakingAvailable, map[string]any{
			"waiting": waiting,
			"count":   len(waiting),
		})
	}
	return nil
}
