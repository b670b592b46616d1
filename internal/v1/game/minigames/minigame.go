// Package minigames contains the mini-game state machines. Instances are
// driven exclusively from their game's single executor (action queue, tick
// loop and deferred timers all run there), so no internal locking is needed.
// Instances never touch the transport; they emit through the Sink the
// scheduler owns.
package minigames

import (
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

// Action is one player-issued game action, already routed through the
// per-game FIFO queue.
type Action struct {
	Name string
	Data map[string]any
}

// Sink carries a game's outbound signals and scheduling facilities. All
// callbacks are provided by the scheduler; Defer runs fn on the game executor
// and returns a stoppable timer.
type Sink struct {
	// StateChanged asks the scheduler to project and fan out the current state.
	StateChanged func()
	// Ended reports the final result exactly once.
	Ended func(types.GameResult)
	// Defer schedules fn on the game executor after d. Fired timers whose
	// round has already advanced must be written as no-ops by the game.
	Defer func(d time.Duration, fn func()) *time.Timer
	// Chat appends a game-kind message to the room chat.
	Chat func(nickname, text string)
	// Guess appends a guess-kind message: a wrong guess shown as chatter.
	Guess func(nickname, text string)
	// StartTick / StopTick control the 60 Hz tick loop for continuous games.
	StartTick func()
	StopTick  func()
	// ValidWord reports whether a word belongs to the game vocabulary,
	// memoized through the shared cache.
	ValidWord func(word string) bool
	// NicknameOf resolves a player's display name for chat lines.
	NicknameOf func(types.UserID) string
}

// Instance is the capability set every mini-game implements. The scheduler
// treats games uniformly through it.
type Instance interface {
	Type() types.GameType
	Players() []types.UserID
	// Start begins the game's timers; called once from the executor.
	Start()
	// ProcessAction applies one queued action.
	ProcessAction(playerID types.UserID, action Action) error
	// Tick advances continuous simulation; no-op for turn games.
	Tick(delta time.Duration)
	// ProjectState computes the public view for one recipient. Private
	// fields (the drawer's word) are nulled for everyone else.
	ProjectState(recipient types.UserID) any
	HandleDisconnect(playerID types.UserID)
	HandleReconnect(playerID types.UserID)
	// Cleanup releases timers. Idempotent.
	Cleanup()
}

// --- payload decode helpers ---

func getString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getMap(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	if v, ok := data[key].(map[string]any); ok {
		return v
	}
	return nil
}
