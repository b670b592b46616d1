// Package game runs mini-game instances: one FIFO action queue and executor
// per game, a 60 Hz tick loop for continuous games, per-recipient state
// projection and the end-of-game reveal handoff to the room.
package game

import (
	"github.com/confessbox/confessbox/internal/v1/game/minigames"
	"github.com/confessbox/confessbox/internal/v1/types"
)

// constructor builds a game instance for a fixed player set. The sink is
// wired by the scheduler before Start.
type constructor func(players []types.UserID, sink minigames.Sink) minigames.Instance

// registry maps game types to constructors. Only the scheduler constructs
// instances; everything upstream deals in types.GameType values.
var registry = map[types.GameType]constructor{
	types.GameTypeRPS: func(players []types.UserID, sink minigames.Sink) minigames.Instance {
		return minigames.NewRPS(players, sink)
	},
	types.GameTypeRacer: func(players []types.UserID, sink minigames.Sink) minigames.Instance {
		return minigames.NewRacer(players, sink)
	},
	types.GameTypeDrawGuess: func(players []types.UserID, sink minigames.Sink) minigames.Instance {
		return minigames.NewDrawGuess(players, sink)
	},
	types.GameTypeTruthDare: func(players []types.UserID, sink minigames.Sink) minigames.Instance {
		return minigames.NewTruthDare(players, sink)
	},
}

const minGamePlayers = 2
