package minigames

import (
	"math/rand"
	"sort"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

const (
	rpsMaxRounds   = 5
	rpsChoiceTime  = 30 * time.Second
	rpsLives       = 3
	rpsStreakGrant = 3
	rpsPowerUpCap  = 3
)

const (
	rpsPhaseChoosing = "choosing"
	rpsPhaseEnded    = "ended"
)

// rpsBeats maps each move to the moves it defeats. Lizard and Spock only
// enter play in extended mode (5+ players).
var rpsBeats = map[string][]string{
	"rock":     {"scissors", "lizard"},
	"paper":    {"rock", "spock"},
	"scissors": {"paper", "lizard"},
	"lizard":   {"spock", "paper"},
	"spock":    {"scissors", "rock"},
}

var rpsPowerUpKinds = []string{"shield", "peek", "change"}

type rpsPlayer struct {
	userID       types.UserID
	lives        int
	score        int
	streak       int
	eliminated   bool
	disconnected bool
	choice       string
	shieldUp     bool
	powerUps     map[string]int
	peeked       types.UserID // opponent whose choice was peeked this round
}

// RPS implements rock-paper-scissors: a single decisive round with 2 players
// (ties replay), a lives-based battle royale with 3+, with the extended move
// set from 5 up.
type RPS struct {
	sink     Sink
	order    []types.UserID
	players  map[types.UserID]*rpsPlayer
	round    int
	phase    string
	royale   bool
	extended bool
	rng      *rand.Rand

	roundTimer  *time.Timer
	elimOrder   []types.UserID
	lastResults []rpsRoundOutcome
}

type rpsRoundOutcome struct {
	UserID   types.UserID `json:"userId"`
	Choice   string       `json:"choice"`
	Wins     int          `json:"wins"`
	Losses   int          `json:"losses"`
	LostLife bool         `json:"lostLife"`
	Shielded bool         `json:"shielded"`
}

// NewRPS builds the game for the given players (2 or more).
func NewRPS(playerIDs []types.UserID, sink Sink) *RPS {
	g := &RPS{
		sink:     sink,
		order:    append([]types.UserID(nil), playerIDs...),
		players:  make(map[types.UserID]*rpsPlayer, len(playerIDs)),
		round:    1,
		phase:    rpsPhaseChoosing,
		royale:   len(playerIDs) >= 3,
		extended: len(playerIDs) >= 5,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, id := range playerIDs {
		g.players[id] = &rpsPlayer{
			userID:   id,
			lives:    rpsLives,
			powerUps: make(map[string]int),
		}
	}
	return g
}

func (g *RPS) Type() types.GameType    { return types.GameTypeRPS }
func (g *RPS) Players() []types.UserID { return append([]types.UserID(nil), g.order...) }
func (g *RPS) Tick(time.Duration)      {}

func (g *RPS) Start() {
	g.armRoundTimer()
	g.sink.StateChanged()
}

func (g *RPS) Cleanup() {
	if g.roundTimer != nil {
		g.roundTimer.Stop()
		g.roundTimer = nil
	}
}

func (g *RPS) HandleDisconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = true
		g.sink.StateChanged()
	}
}

func (g *RPS) HandleReconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = false
		g.sink.StateChanged()
	}
}

func (g *RPS) ProcessAction(playerID types.UserID, action Action) error {
	if g.phase != rpsPhaseChoosing {
		return types.NewValidationError("action", "round is not accepting actions")
	}
	p, ok := g.players[playerID]
	if !ok || p.eliminated {
		return types.NewValidationError("action", "not an active player")
	}

	switch action.Name {
	case "choice":
		return g.handleChoice(p, getString(action.Data, "value"))
	case "usePowerUp":
		return g.handlePowerUp(p, getString(action.Data, "kind"))
	case "ready":
		// acknowledgment between rounds, nothing to apply
		return nil
	default:
		return types.NewValidationError("action", "unknown action "+action.Name)
	}
}

func (g *RPS) handleChoice(p *rpsPlayer, value string) error {
	if !g.validMove(value) {
		return types.NewValidationError("value", "invalid move")
	}
	if p.choice != "" {
		return types.NewValidationError("value", "choice already submitted")
	}
	p.choice = value
	g.sink.StateChanged()
	g.maybeResolve()
	return nil
}

func (g *RPS) handlePowerUp(p *rpsPlayer, kind string) error {
	if !g.royale {
		return types.NewValidationError("kind", "power-ups are a battle royale feature")
	}
	if p.powerUps[kind] <= 0 {
		return types.NewValidationError("kind", "power-up not available")
	}
	switch kind {
	case "shield":
		if p.shieldUp {
			return types.NewValidationError("kind", "shield already active")
		}
		p.shieldUp = true
	case "peek":
		target := g.randomCommittedOpponent(p.userID)
		if target == "" {
			return types.NewValidationError("kind", "no opponent choice to peek at")
		}
		p.peeked = target
	case "change":
		if p.choice == "" {
			return types.NewValidationError("kind", "nothing to change yet")
		}
		p.choice = ""
	default:
		return types.NewValidationError("kind", "unknown power-up")
	}
	p.powerUps[kind]--
	g.sink.StateChanged()
	return nil
}

func (g *RPS) validMove(value string) bool {
	switch value {
	case "rock", "paper", "scissors":
		return true
	case "lizard", "spock":
		return g.extended
	}
	return false
}

func (g *RPS) randomCommittedOpponent(self types.UserID) types.UserID {
	candidates := make([]types.UserID, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		if id != self && !p.eliminated && p.choice != "" {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[g.rng.Intn(len(candidates))]
}

func (g *RPS) armRoundTimer() {
	round := g.round
	g.roundTimer = g.sink.Defer(rpsChoiceTime, func() {
		// stale timer from a round that already resolved
		if g.phase != rpsPhaseChoosing || g.round != round {
			return
		}
		g.resolveRound(true)
	})
}

func (g *RPS) maybeResolve() {
	for _, id := range g.order {
		p := g.players[id]
		if !p.eliminated && p.choice == "" {
			return
		}
	}
	g.resolveRound(false)
}

// resolveRound compares all committed choices pairwise. On timeout, players
// without a choice forfeit the round and take a life loss in battle royale.
func (g *RPS) resolveRound(timedOut bool) {
	if g.roundTimer != nil {
		g.roundTimer.Stop()
		g.roundTimer = nil
	}

	if g.royale {
		g.resolveRoyale()
	} else {
		g.resolveClassic()
	}
	if g.phase == rpsPhaseEnded {
		return
	}

	g.round++
	for _, p := range g.players {
		p.choice = ""
		p.peeked = ""
	}
	g.armRoundTimer()
	g.sink.StateChanged()
}

func (g *RPS) resolveClassic() {
	a, b := g.players[g.order[0]], g.players[g.order[1]]

	var winner *rpsPlayer
	switch {
	case a.choice == "" && b.choice == "":
		// both forfeited, replay
	case a.choice == "":
		winner = b
	case b.choice == "":
		winner = a
	case beats(a.choice, b.choice):
		winner = a
	case beats(b.choice, a.choice):
		winner = b
	}

	g.lastResults = []rpsRoundOutcome{
		{UserID: a.userID, Choice: a.choice, Wins: boolToInt(winner == a), Losses: boolToInt(winner == b)},
		{UserID: b.userID, Choice: b.choice, Wins: boolToInt(winner == b), Losses: boolToInt(winner == a)},
	}
	if winner != nil {
		winner.score++
		g.finish(winner.userID)
	}
}

func (g *RPS) resolveRoyale() {
	active := g.activePlayers()
	outcomes := make([]rpsRoundOutcome, 0, len(active))
	type tally struct {
		wins, losses int
	}
	tallies := make(map[types.UserID]*tally, len(active))
	for _, p := range active {
		tallies[p.userID] = &tally{}
	}

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			switch {
			case a.choice == "" && b.choice == "":
			case a.choice == "":
				tallies[b.userID].wins++
				tallies[a.userID].losses++
			case b.choice == "":
				tallies[a.userID].wins++
				tallies[b.userID].losses++
			case beats(a.choice, b.choice):
				tallies[a.userID].wins++
				tallies[b.userID].losses++
			case beats(b.choice, a.choice):
				tallies[b.userID].wins++
				tallies[a.userID].losses++
			}
		}
	}

	var dropped []types.UserID
	for _, p := range active {
		t := tallies[p.userID]
		lostLife := false
		shielded := false
		if t.losses > t.wins || p.choice == "" {
			if p.shieldUp {
				shielded = true
			} else {
				p.lives--
				lostLife = true
			}
		}
		p.shieldUp = false

		if t.wins > t.losses {
			p.score++
			p.streak++
			if p.streak >= rpsStreakGrant {
				g.grantPowerUp(p)
				p.streak = 0
			}
		} else {
			p.streak = 0
		}

		outcomes = append(outcomes, rpsRoundOutcome{
			UserID: p.userID, Choice: p.choice,
			Wins: t.wins, Losses: t.losses,
			LostLife: lostLife, Shielded: shielded,
		})

		if p.lives <= 0 {
			p.eliminated = true
			dropped = append(dropped, p.userID)
		}
	}
	g.lastResults = outcomes
	g.elimOrder = append(g.elimOrder, dropped...)

	remaining := g.activePlayers()
	switch {
	case len(remaining) == 1:
		g.finish(remaining[0].userID)
	case len(remaining) == 0:
		// everyone fell in the same round: the last batch shares the top rank
		g.finishShared(dropped)
	case g.round >= rpsMaxRounds:
		g.finishByStanding()
	}
}

func (g *RPS) grantPowerUp(p *rpsPlayer) {
	kind := rpsPowerUpKinds[g.rng.Intn(len(rpsPowerUpKinds))]
	if p.powerUps[kind] >= rpsPowerUpCap {
		return
	}
	p.powerUps[kind]++
}

func (g *RPS) activePlayers() []*rpsPlayer {
	out := make([]*rpsPlayer, 0, len(g.order))
	for _, id := range g.order {
		if p := g.players[id]; !p.eliminated {
			out = append(out, p)
		}
	}
	return out
}

func (g *RPS) finish(winner types.UserID) {
	g.phase = rpsPhaseEnded
	g.Cleanup()
	g.sink.StateChanged()
	g.sink.Ended(types.GameResult{
		WinnerUserID: winner,
		Rankings:     g.rankings(winner),
	})
}

// finishShared ends a battle royale where the final players were eliminated
// simultaneously: no single winner, the last batch shares position 1.
func (g *RPS) finishShared(lastBatch []types.UserID) {
	g.phase = rpsPhaseEnded
	g.Cleanup()

	shared := make(map[types.UserID]bool, len(lastBatch))
	for _, id := range lastBatch {
		shared[id] = true
	}
	rankings := make([]types.Ranking, 0, len(g.order))
	for _, id := range g.order {
		pos := 2
		if shared[id] {
			pos = 1
		}
		rankings = append(rankings, types.Ranking{UserID: id, Position: pos, Score: g.players[id].score})
	}
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Position < rankings[j].Position })

	g.sink.StateChanged()
	g.sink.Ended(types.GameResult{Rankings: rankings})
}

// standingBefore orders players by score, then lives, then streak.
func standingBefore(a, b *rpsPlayer) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.lives != b.lives {
		return a.lives > b.lives
	}
	return a.streak > b.streak
}

func standingEqual(a, b *rpsPlayer) bool {
	return a.score == b.score && a.lives == b.lives && a.streak == b.streak
}

// finishByStanding ends the game at the round cap. A survivor who uniquely
// tops the standings wins; an exact tie at the top means no single winner.
func (g *RPS) finishByStanding() {
	standings := g.activePlayers()
	sort.SliceStable(standings, func(i, j int) bool { return standingBefore(standings[i], standings[j]) })

	winner := types.UserID("")
	if len(standings) > 0 {
		top := standings[0]
		if len(standings) == 1 || !standingEqual(top, standings[1]) {
			winner = top.userID
		}
	}
	g.finish(winner)
}

// rankings orders the winner first, survivors by standing (exact ties share a
// position), and the eliminated in reverse elimination order.
func (g *RPS) rankings(winner types.UserID) []types.Ranking {
	survivors := make([]*rpsPlayer, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		if !p.eliminated && id != winner {
			survivors = append(survivors, p)
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool { return standingBefore(survivors[i], survivors[j]) })

	rankings := make([]types.Ranking, 0, len(g.order))
	start := 1
	if winner != "" {
		rankings = append(rankings, types.Ranking{UserID: winner, Position: 1, Score: g.players[winner].score})
		start = 2
	}
	for i, p := range survivors {
		pos := start + i
		if i > 0 && standingEqual(p, survivors[i-1]) {
			pos = rankings[len(rankings)-1].Position
		}
		rankings = append(rankings, types.Ranking{UserID: p.userID, Position: pos, Score: p.score})
	}
	pos := start + len(survivors)
	for i := len(g.elimOrder) - 1; i >= 0; i-- {
		id := g.elimOrder[i]
		if id == winner {
			continue
		}
		rankings = append(rankings, types.Ranking{UserID: id, Position: pos, Score: g.players[id].score})
		pos++
	}
	return rankings
}

// rpsPlayerView hides uncommitted choices; LastChoice is only populated from
// the resolved round snapshot.
type rpsPlayerView struct {
	UserID       types.UserID   `json:"userId"`
	Lives        int            `json:"lives"`
	Score        int            `json:"score"`
	Streak       int            `json:"streak"`
	Eliminated   bool           `json:"eliminated"`
	Disconnected bool           `json:"disconnected"`
	HasChosen    bool           `json:"hasChosen"`
	ShieldUp     bool           `json:"shieldUp"`
	PowerUps     map[string]int `json:"powerUps,omitempty"`
	Choice       string         `json:"choice,omitempty"` // own choice only
	Peeked       types.UserID   `json:"peeked,omitempty"`
	PeekedChoice string         `json:"peekedChoice,omitempty"`
}

type rpsStateView struct {
	Phase       string            `json:"phase"`
	Mode        string            `json:"mode"`
	Round       int               `json:"round"`
	MaxRounds   int               `json:"maxRounds"`
	Extended    bool              `json:"extendedMoves"`
	Players     []rpsPlayerView   `json:"players"`
	LastResults []rpsRoundOutcome `json:"lastResults,omitempty"`
}

func (g *RPS) ProjectState(recipient types.UserID) any {
	mode := "classic"
	if g.royale {
		mode = "battleRoyale"
	}
	view := rpsStateView{
		Phase:       g.phase,
		Mode:        mode,
		Round:       g.round,
		MaxRounds:   rpsMaxRounds,
		Extended:    g.extended,
		LastResults: g.lastResults,
	}
	for _, id := range g.order {
		p := g.players[id]
		pv := rpsPlayerView{
			UserID:       id,
			Lives:        p.lives,
			Score:        p.score,
			Streak:       p.streak,
			Eliminated:   p.eliminated,
			Disconnected: p.disconnected,
			HasChosen:    p.choice != "",
			ShieldUp:     p.shieldUp,
		}
		if id == recipient {
			pv.Choice = p.choice
			pv.PowerUps = p.powerUps
			if p.peeked != "" {
				pv.Peeked = p.peeked
				pv.PeekedChoice = g.players[p.peeked].choice
			}
		}
		view.Players = append(view.Players, pv)
	}
	return view
}

func beats(a, b string) bool {
	for _, v := range rpsBeats[a] {
		if v == b {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
