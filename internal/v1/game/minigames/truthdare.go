package minigames

import (
	"math/rand"
	"sort"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

const (
	tdVoteTime = 30 * time.Second
	tdLives    = 2
)

const (
	tdPhaseVoting = "voting"
	tdPhaseEnded  = "ended"
)

var truthPrompts = []string{
	"What is the most embarrassing thing you did this year?",
	"What is a talent you pretend to have?",
	"What is the last lie you told?",
	"What is the strangest thing you have eaten?",
	"What would you do with a day of invisibility?",
}

var darePrompts = []string{
	"Speak in rhymes until your next turn",
	"Do your best impression of another player",
	"Sing the chorus of the last song you listened to",
	"Tell the story of your worst haircut",
	"Describe your day using only animal noises",
}

type tdPlayer struct {
	userID       types.UserID
	lives        int
	passes       int
	eliminated   bool
	disconnected bool
	vote         string // "pass" | "fail" | ""
}

// TruthDare rotates a target through the players. The target gets a truth or
// dare prompt, performs it off-protocol, and the rest of the room votes pass
// or fail; a fail majority costs the target a life.
type TruthDare struct {
	sink    Sink
	order   []types.UserID
	players map[types.UserID]*tdPlayer
	rng     *rand.Rand

	phase     string
	round     int
	maxRounds int
	targetIdx int
	prompt    string
	isDare    bool
	voteTimer *time.Timer
	elimOrder []types.UserID
}

func NewTruthDare(playerIDs []types.UserID, sink Sink) *TruthDare {
	g := &TruthDare{
		sink:      sink,
		order:     append([]types.UserID(nil), playerIDs...),
		players:   make(map[types.UserID]*tdPlayer, len(playerIDs)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		maxRounds: 2 * len(playerIDs),
	}
	for _, id := range playerIDs {
		g.players[id] = &tdPlayer{userID: id, lives: tdLives}
	}
	return g
}

func (g *TruthDare) Type() types.GameType    { return types.GameTypeTruthDare }
func (g *TruthDare) Players() []types.UserID { return append([]types.UserID(nil), g.order...) }
func (g *TruthDare) Tick(time.Duration)      {}

func (g *TruthDare) Start() {
	g.round = 1
	g.targetIdx = -1
	g.beginTurn()
}

func (g *TruthDare) Cleanup() {
	if g.voteTimer != nil {
		g.voteTimer.Stop()
		g.voteTimer = nil
	}
}

func (g *TruthDare) HandleDisconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = true
		g.sink.StateChanged()
	}
}

func (g *TruthDare) HandleReconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = false
		g.sink.StateChanged()
	}
}

func (g *TruthDare) beginTurn() {
	g.phase = tdPhaseVoting
	g.targetIdx = g.nextTargetIdx()
	g.isDare = g.rng.Intn(2) == 1
	if g.isDare {
		g.prompt = darePrompts[g.rng.Intn(len(darePrompts))]
	} else {
		g.prompt = truthPrompts[g.rng.Intn(len(truthPrompts))]
	}
	for _, p := range g.players {
		p.vote = ""
	}

	round := g.round
	g.voteTimer = g.sink.Defer(tdVoteTime, func() {
		if g.phase != tdPhaseVoting || g.round != round {
			return
		}
		g.tallyVotes()
	})
	g.sink.StateChanged()
}

func (g *TruthDare) nextTargetIdx() int {
	idx := g.targetIdx
	for i := 0; i < len(g.order); i++ {
		idx = (idx + 1) % len(g.order)
		if !g.players[g.order[idx]].eliminated {
			return idx
		}
	}
	return 0
}

func (g *TruthDare) target() types.UserID {
	return g.order[g.targetIdx]
}

func (g *TruthDare) ProcessAction(playerID types.UserID, action Action) error {
	if g.phase != tdPhaseVoting {
		return types.NewValidationError("action", "round is not accepting actions")
	}
	p, ok := g.players[playerID]
	if !ok || p.eliminated {
		return types.NewValidationError("action", "not an active player")
	}
	if action.Name != "vote" {
		return types.NewValidationError("action", "unknown action "+action.Name)
	}
	if playerID == g.target() {
		return types.NewValidationError("action", "the target cannot vote")
	}
	value := getString(action.Data, "value")
	if value != "pass" && value != "fail" {
		return types.NewValidationError("value", "vote must be pass or fail")
	}
	p.vote = value
	g.sink.StateChanged()

	if g.allVoted() {
		g.tallyVotes()
	}
	return nil
}

func (g *TruthDare) allVoted() bool {
	for _, id := range g.order {
		p := g.players[id]
		if p.eliminated || id == g.target() {
			continue
		}
		if p.vote == "" {
			return false
		}
	}
	return true
}

// tallyVotes counts a fail majority among cast votes; abstentions count as
// pass, so a silent room never penalizes the target.
func (g *TruthDare) tallyVotes() {
	if g.voteTimer != nil {
		g.voteTimer.Stop()
		g.voteTimer = nil
	}

	fails, passes := 0, 0
	for _, id := range g.order {
		p := g.players[id]
		if p.eliminated || id == g.target() {
			continue
		}
		switch p.vote {
		case "fail":
			fails++
		default:
			passes++
		}
	}

	t := g.players[g.target()]
	if fails > passes {
		t.lives--
		if t.lives <= 0 {
			t.eliminated = true
			g.elimOrder = append(g.elimOrder, t.userID)
		}
	} else {
		t.passes++
	}

	active := 0
	for _, p := range g.players {
		if !p.eliminated {
			active++
		}
	}
	if active <= 1 || g.round >= g.maxRounds {
		g.finish()
		return
	}

	g.round++
	g.beginTurn()
}

func (g *TruthDare) finish() {
	g.phase = tdPhaseEnded
	g.Cleanup()

	ranked := make([]*tdPlayer, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	elimPos := make(map[types.UserID]int, len(g.elimOrder))
	for i, id := range g.elimOrder {
		elimPos[id] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.eliminated != b.eliminated {
			return !a.eliminated
		}
		if a.eliminated {
			// later elimination ranks higher
			return elimPos[a.userID] > elimPos[b.userID]
		}
		if a.lives != b.lives {
			return a.lives > b.lives
		}
		return a.passes > b.passes
	})

	winner := types.UserID("")
	if len(ranked) > 0 && !ranked[0].eliminated {
		sole := len(ranked) == 1 || ranked[1].eliminated ||
			ranked[0].lives > ranked[1].lives || ranked[0].passes > ranked[1].passes
		if sole {
			winner = ranked[0].userID
		}
	}

	rankings := make([]types.Ranking, 0, len(ranked))
	for i, p := range ranked {
		rankings = append(rankings, types.Ranking{UserID: p.userID, Position: i + 1, Score: p.passes})
	}

	g.sink.StateChanged()
	g.sink.Ended(types.GameResult{WinnerUserID: winner, Rankings: rankings})
}

type tdPlayerView struct {
	UserID       types.UserID `json:"userId"`
	Lives        int          `json:"lives"`
	Passes       int          `json:"passes"`
	Eliminated   bool         `json:"eliminated"`
	Disconnected bool         `json:"disconnected"`
	HasVoted     bool         `json:"hasVoted"`
}

type tdStateView struct {
	Phase     string         `json:"phase"`
	Round     int            `json:"round"`
	MaxRounds int            `json:"maxRounds"`
	Target    types.UserID   `json:"target"`
	IsDare    bool           `json:"isDare"`
	Prompt    string         `json:"prompt"`
	Players   []tdPlayerView `json:"players"`
}

func (g *TruthDare) ProjectState(types.UserID) any {
	view := tdStateView{
		Phase:     g.phase,
		Round:     g.round,
		MaxRounds: g.maxRounds,
		Target:    g.target(),
		IsDare:    g.isDare,
		Prompt:    g.prompt,
	}
	for _, id := range g.order {
		p := g.players[id]
		view.Players = append(view.Players, tdPlayerView{
			UserID:       id,
			Lives:        p.lives,
			Passes:       p.passes,
			Eliminated:   p.eliminated,
			Disconnected: p.disconnected,
			HasVoted:     p.vote != "",
		})
	}
	return view
}
