package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/game/minigames"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	actionTimeout      = 5 * time.Second
	tickInterval       = time.Second / 60
	sweepInterval      = time.Minute
	gameIdleTimeout    = 5 * time.Minute
	gameMaxDuration    = 30 * time.Minute
	allGoneGrace       = 30 * time.Second
	persistMinInterval = time.Second
)

// runningGame pairs a game instance with its queue, executor bookkeeping and
// sweep timestamps. Instance state is touched only on the executor; the
// bookkeeping under mu is shared with the sweeper.
type runningGame struct {
	id       types.GameID
	room     *room.Room
	instance minigames.Instance
	queue    *actionQueue

	mu           sync.Mutex
	timers       []*time.Timer
	createdAt    time.Time
	lastActionAt time.Time
	disconnected map[types.UserID]bool
	allGoneSince time.Time
	lastPersist  time.Time
	ticking      bool
	tickStop     chan struct{}
	ended        bool
}

// Scheduler owns every live game: construction, the per-game executor, state
// fan-out, save-through snapshots, the reveal handoff at game end, and the
// sweeper that force-ends stuck games.
type Scheduler struct {
	mu       sync.Mutex
	games    map[types.GameID]*runningGame
	byRoom   map[types.RoomCode]*runningGame
	byPlayer map[types.UserID]*runningGame

	cache   types.CacheService
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cacheService types.CacheService) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		games:    make(map[types.GameID]*runningGame),
		byRoom:   make(map[types.RoomCode]*runningGame),
		byPlayer: make(map[types.UserID]*runningGame),
		cache:    cacheService,
		timeout:  actionTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Shutdown force-ends all games and waits for executors to drain.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	games := make([]*runningGame, 0, len(s.games))
	for _, rg := range s.games {
		games = append(games, rg)
	}
	s.mu.Unlock()

	for _, rg := range games {
		s.forceEnd(rg, "shutdown")
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Launch constructs, registers and starts a game for the given players.
func (s *Scheduler) Launch(ctx context.Context, r *room.Room, gameType types.GameType, players []types.UserID) (types.GameID, error) {
	ctor, ok := registry[gameType]
	if !ok {
		return "", types.ErrNoGamesAvailable
	}
	if len(players) < minGamePlayers {
		return "", types.ErrNotEnoughReady
	}

	id := types.GameID(uuid.New().String())
	rg := &runningGame{
		id:           id,
		room:         r,
		queue:        newActionQueue(),
		createdAt:    time.Now(),
		lastActionAt: time.Now(),
		disconnected: make(map[types.UserID]bool),
	}
	rg.instance = ctor(players, s.sinkFor(rg))

	s.mu.Lock()
	if _, exists := s.byRoom[r.Code()]; exists {
		s.mu.Unlock()
		return "", types.ErrGameInProgress
	}
	s.games[id] = rg
	s.byRoom[r.Code()] = rg
	for _, uid := range players {
		s.byPlayer[uid] = rg
	}
	s.mu.Unlock()

	metrics.ActiveGames.WithLabelValues(string(gameType)).Inc()

	s.wg.Add(1)
	go s.runExecutor(rg)
	_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
		rg.instance.Start()
		return nil
	}})

	logging.Info(logging.WithGame(logging.WithRoom(ctx, string(r.Code())), string(id)), "Game started",
		zap.String("game_type", string(gameType)),
		zap.Int("players", len(players)))
	return id, nil
}

// Dispatch routes one player action into the owning game's queue. The queue
// cap rejects floods with QUEUE_FULL; validation failures are reported back
// on the player's attachment when the action executes.
func (s *Scheduler) Dispatch(ctx context.Context, playerID types.UserID, actionName string, data map[string]any) error {
	rg := s.gameOf(playerID)
	if rg == nil {
		return types.ErrNotFound
	}
	if actionName == "" {
		return types.NewValidationError("action", "missing action name")
	}

	rg.mu.Lock()
	rg.lastActionAt = time.Now()
	rg.mu.Unlock()

	action := minigames.Action{Name: actionName, Data: data}
	return rg.queue.push(&queueItem{fn: func(context.Context) error {
		if err := rg.instance.ProcessAction(playerID, action); err != nil {
			if ctxErr := errorContext(err); ctxErr != nil {
				return ctxErr
			}
			rg.room.SendTo(playerID, "error", map[string]any{
				"error":   types.CodeOf(err),
				"message": err.Error(),
				"gameId":  rg.id,
			})
		}
		return nil
	}})
}

// errorContext separates timeout errors, which drive the retry policy, from
// game-level rejections, which are sent to the player.
func errorContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// HandleDisconnect tells the game a player's attachment is gone. When the
// last player drops, the sweeper force-ends the game after a grace period.
func (s *Scheduler) HandleDisconnect(playerID types.UserID) {
	rg := s.gameOf(playerID)
	if rg == nil {
		return
	}

	rg.mu.Lock()
	rg.disconnected[playerID] = true
	if len(rg.disconnected) >= len(rg.instance.Players()) {
		rg.allGoneSince = time.Now()
	}
	rg.mu.Unlock()

	_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
		rg.instance.HandleDisconnect(playerID)
		return nil
	}})
}

// HandleReconnect rebinds a returning player and pushes them a fresh state
// projection.
func (s *Scheduler) HandleReconnect(playerID types.UserID) {
	rg := s.gameOf(playerID)
	if rg == nil {
		return
	}

	rg.mu.Lock()
	delete(rg.disconnected, playerID)
	rg.allGoneSince = time.Time{}
	rg.mu.Unlock()

	_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
		rg.instance.HandleReconnect(playerID)
		s.sendProjection(rg, playerID)
		return nil
	}})
}

// RequestSync pushes the player their current projection, used after room
// state restoration.
func (s *Scheduler) RequestSync(playerID types.UserID) {
	rg := s.gameOf(playerID)
	if rg == nil {
		return
	}
	_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
		s.sendProjection(rg, playerID)
		return nil
	}})
}

// GameIDForRoom returns the live game attached to a room, if any.
func (s *Scheduler) GameIDForRoom(code types.RoomCode) (types.GameID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rg, ok := s.byRoom[code]
	if !ok {
		return "", false
	}
	return rg.id, true
}

func (s *Scheduler) gameOf(playerID types.UserID) *runningGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byPlayer[playerID]
}

// sinkFor wires a game's outbound signals back into the scheduler. Every
// callback runs on the game executor.
func (s *Scheduler) sinkFor(rg *runningGame) minigames.Sink {
	return minigames.Sink{
		StateChanged: func() { s.broadcastState(rg) },
		Ended:        func(result types.GameResult) { s.finalize(rg, result) },
		Defer: func(d time.Duration, fn func()) *time.Timer {
			timer := time.AfterFunc(d, func() {
				_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
					fn()
					return nil
				}})
			})
			rg.mu.Lock()
			rg.timers = append(rg.timers, timer)
			rg.mu.Unlock()
			return timer
		},
		Chat:       rg.room.AppendGameMessage,
		Guess:      rg.room.AppendGuessMessage,
		StartTick:  func() { s.startTicking(rg) },
		StopTick:   func() { s.stopTicking(rg) },
		ValidWord:  s.validWord,
		NicknameOf: rg.room.NicknameOf,
	}
}

func (s *Scheduler) runExecutor(rg *runningGame) {
	defer s.wg.Done()
	for {
		item, ok, closed := rg.queue.pop()
		if !ok {
			if closed {
				return
			}
			select {
			case <-rg.queue.notify:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		s.runItem(rg, item)
	}
}

// runItem executes one queue entry under the action timeout. The executor
// waits on the deadline, not the item, so a stuck action cannot wedge the
// queue; a panicking game is force-ended rather than taking the server down.
// Timed-out player actions rotate to the tail up to actionMaxAttempts before
// being dropped.
func (s *Scheduler) runItem(rg *runningGame, item *queueItem) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error(s.ctx, "Game panicked, forcing end",
					zap.String("game_id", string(rg.id)),
					zap.Any("panic", rec))
				rg.instance.Cleanup()
				s.finalize(rg, types.GameResult{Forced: true})
				done <- nil
			}
		}()
		done <- item.fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.ActionProcessingDuration.WithLabelValues(string(rg.instance.Type())).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(err, context.DeadlineExceeded) && !item.internal {
		item.attempts++
		if item.attempts < actionMaxAttempts {
			rg.queue.requeue(item)
			return
		}
		logging.Warn(s.ctx, "Dropping game action after repeated timeouts",
			zap.String("game_id", string(rg.id)),
			zap.Int("attempts", item.attempts))
	}
}

// broadcastState projects and fans the current state out per recipient: each
// room member sees their own view, so private fields never cross the wire to
// the wrong player.
func (s *Scheduler) broadcastState(rg *runningGame) {
	snapshot := rg.room.Snapshot()
	for _, p := range snapshot.Players {
		s.sendProjection(rg, p.UserID)
	}
	s.persistState(rg)
}

func (s *Scheduler) sendProjection(rg *runningGame, recipient types.UserID) {
	rg.room.SendTo(recipient, types.EventGameUpdate, map[string]any{
		"game": types.GameInfo{
			ID:      rg.id,
			Type:    rg.instance.Type(),
			Players: rg.instance.Players(),
			State:   rg.instance.ProjectState(recipient),
		},
	})
}

// persistState writes a save-through snapshot of the public projection,
// throttled to once per second so racer broadcasts do not hammer the cache.
// The write is compare-and-swap so a stale instance never clobbers a newer
// snapshot after a handoff.
func (s *Scheduler) persistState(rg *runningGame) {
	rg.mu.Lock()
	if time.Since(rg.lastPersist) < persistMinInterval {
		rg.mu.Unlock()
		return
	}
	rg.lastPersist = time.Now()
	rg.mu.Unlock()

	info := types.GameInfo{
		ID:      rg.id,
		Type:    rg.instance.Type(),
		Players: rg.instance.Players(),
		State:   rg.instance.ProjectState(""),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	go func() {
		err := s.cache.CompareAndSwap(context.Background(), cache.GameStateKey(rg.id), func(string) (string, error) {
			return string(data), nil
		}, cache.GameStateTTL)
		if err != nil && !errors.Is(err, cache.ErrConflict) {
			logging.Warn(context.Background(), "Game snapshot save-through failed",
				zap.String("game_id", string(rg.id)), zap.Error(err))
		}
	}()
}

// finalize ends the game exactly once: reveal losers, credit the winner on
// the leaderboard, broadcast the result and unlink the room.
func (s *Scheduler) finalize(rg *runningGame, result types.GameResult) {
	rg.mu.Lock()
	if rg.ended {
		rg.mu.Unlock()
		return
	}
	rg.ended = true
	timers := rg.timers
	rg.timers = nil
	rg.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	s.stopTicking(rg)
	rg.queue.close()

	s.mu.Lock()
	delete(s.games, rg.id)
	if s.byRoom[rg.room.Code()] == rg {
		delete(s.byRoom, rg.room.Code())
	}
	for _, uid := range rg.instance.Players() {
		if s.byPlayer[uid] == rg {
			delete(s.byPlayer, uid)
		}
	}
	s.mu.Unlock()

	metrics.ActiveGames.WithLabelValues(string(rg.instance.Type())).Dec()

	ctx := logging.WithGame(logging.WithRoom(context.Background(), string(rg.room.Code())), string(rg.id))

	// A forced end has no legitimate loser; nobody's secret comes out.
	if !result.Forced {
		for _, loser := range losersOf(result) {
			rg.room.RevealConfession(ctx, loser, rg.id)
		}
		if result.WinnerUserID != "" {
			if err := s.cache.ZIncrBy(ctx, cache.LeaderboardKey, 1, string(result.WinnerUserID)); err != nil {
				logging.Warn(ctx, "Leaderboard update failed", zap.Error(err))
			}
		}
	}

	// unlink before broadcasting so the attached snapshot already shows the
	// cleared game and reset isPlaying flags
	rg.room.ClearCurrentGame(ctx, rg.id)
	switch {
	case result.Forced:
		rg.room.AppendSystemMessage("The game was cut short")
	case result.WinnerUserID != "":
		rg.room.AppendSystemMessage(rg.room.NicknameOf(result.WinnerUserID) + " won the game")
	default:
		rg.room.AppendSystemMessage("The game ended in a draw")
	}
	rg.room.Broadcast(types.EventGameEnded, map[string]any{
		"gameId":       rg.id,
		"gameType":     rg.instance.Type(),
		"winnerUserId": result.WinnerUserID,
		"rankings":     result.Rankings,
		"forced":       result.Forced,
		"room":         rg.room.Snapshot(),
	})
	_ = s.cache.Del(context.Background(), cache.GameStateKey(rg.id))

	logging.Info(ctx, "Game ended",
		zap.String("winner", string(result.WinnerUserID)),
		zap.Bool("forced", result.Forced))
}

// losersOf picks the players sharing the worst position of the final
// rankings. A shared bottom rank reveals all of its members.
func losersOf(result types.GameResult) []types.UserID {
	worst := 0
	for _, r := range result.Rankings {
		if r.Position > worst {
			worst = r.Position
		}
	}
	if worst <= 1 {
		// a draw where everyone shares the top rank reveals nothing
		return nil
	}
	var losers []types.UserID
	for _, r := range result.Rankings {
		if r.Position == worst {
			losers = append(losers, r.UserID)
		}
	}
	return losers
}

func (s *Scheduler) startTicking(rg *runningGame) {
	rg.mu.Lock()
	if rg.ticking || rg.ended {
		rg.mu.Unlock()
		return
	}
	rg.ticking = true
	stop := make(chan struct{})
	rg.tickStop = stop
	rg.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case now := <-ticker.C:
				delta := now.Sub(last)
				last = now
				_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
					rg.instance.Tick(delta)
					return nil
				}})
			}
		}
	}()
}

func (s *Scheduler) stopTicking(rg *runningGame) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if rg.ticking && rg.tickStop != nil {
		close(rg.tickStop)
		rg.tickStop = nil
		rg.ticking = false
	}
}

// sweepLoop force-ends games that idled out, ran past the hard cap, or lost
// every player for longer than the reattach grace.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		games := make([]*runningGame, 0, len(s.games))
		for _, rg := range s.games {
			games = append(games, rg)
		}
		s.mu.Unlock()

		now := time.Now()
		for _, rg := range games {
			rg.mu.Lock()
			idle := now.Sub(rg.lastActionAt) > gameIdleTimeout
			overtime := now.Sub(rg.createdAt) > gameMaxDuration
			abandoned := !rg.allGoneSince.IsZero() && now.Sub(rg.allGoneSince) > allGoneGrace
			rg.mu.Unlock()

			switch {
			case overtime:
				s.forceEnd(rg, "max duration exceeded")
			case abandoned:
				s.forceEnd(rg, "all players disconnected")
			case idle:
				s.forceEnd(rg, "idle timeout")
			}
		}
	}
}

// forceEnd routes the end through the executor so it cannot race live
// actions.
func (s *Scheduler) forceEnd(rg *runningGame, reason string) {
	logging.Warn(s.ctx, "Force-ending game",
		zap.String("game_id", string(rg.id)),
		zap.String("reason", reason))
	_ = rg.queue.push(&queueItem{internal: true, fn: func(context.Context) error {
		rg.instance.Cleanup()
		s.finalize(rg, types.GameResult{Forced: true})
		return nil
	}})
}

// validWord answers vocabulary membership, memoized through the cache.
func (s *Scheduler) validWord(word string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := cache.WordKey(word)
	if v, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return v == "1"
	}
	valid := minigames.IsVocabularyWord(word)
	stored := "0"
	if valid {
		stored = "1"
	}
	_ = s.cache.Set(ctx, key, stored, cache.WordValidityTTL)
	return valid
}
