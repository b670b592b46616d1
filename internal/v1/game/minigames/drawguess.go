package minigames

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

const (
	drawRoundTime    = 60 * time.Second
	drawFastBonusCut = 30 * time.Second
	drawRoundPause   = 3 * time.Second
	drawGuessPoints  = 100
	drawFastBonus    = 50
	drawDrawerPoints = 10
	drawMaxStrokes   = 2000
)

const (
	drawPhaseDrawing = "drawing"
	drawPhasePause   = "pause"
	drawPhaseEnded   = "ended"
)

type drawPlayer struct {
	userID       types.UserID
	score        int
	guessed      bool // guessed the current word
	disconnected bool
}

// DrawGuess rotates a drawer through the players, one round each. The drawer
// sketches a secret word while everyone else guesses in the time limit; the
// word is only ever projected to the drawer.
type DrawGuess struct {
	sink    Sink
	order   []types.UserID
	players map[types.UserID]*drawPlayer
	rng     *rand.Rand

	phase       string
	round       int // 1-based, rounds == len(order)
	drawerIdx   int
	word        string
	roundStart  time.Time
	strokes     []any
	usedWords   map[string]bool
	roundTimer  *time.Timer
	pauseTimer  *time.Timer
	lastGuessed types.UserID
}

func NewDrawGuess(playerIDs []types.UserID, sink Sink) *DrawGuess {
	g := &DrawGuess{
		sink:      sink,
		order:     append([]types.UserID(nil), playerIDs...),
		players:   make(map[types.UserID]*drawPlayer, len(playerIDs)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		usedWords: make(map[string]bool),
	}
	for _, id := range playerIDs {
		g.players[id] = &drawPlayer{userID: id}
	}
	return g
}

func (g *DrawGuess) Type() types.GameType    { return types.GameTypeDrawGuess }
func (g *DrawGuess) Players() []types.UserID { return append([]types.UserID(nil), g.order...) }
func (g *DrawGuess) Tick(time.Duration)      {}

func (g *DrawGuess) Start() {
	g.startRound(0)
}

func (g *DrawGuess) Cleanup() {
	if g.roundTimer != nil {
		g.roundTimer.Stop()
		g.roundTimer = nil
	}
	if g.pauseTimer != nil {
		g.pauseTimer.Stop()
		g.pauseTimer = nil
	}
}

func (g *DrawGuess) HandleDisconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = true
		g.sink.StateChanged()
	}
}

func (g *DrawGuess) HandleReconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = false
		// full canvas is in the projected state, nothing extra to replay
		g.sink.StateChanged()
	}
}

func (g *DrawGuess) startRound(drawerIdx int) {
	g.phase = drawPhaseDrawing
	g.round = drawerIdx + 1
	g.drawerIdx = drawerIdx
	g.word = g.pickWord()
	g.strokes = g.strokes[:0]
	g.roundStart = time.Now()
	for _, p := range g.players {
		p.guessed = false
	}

	round := g.round
	g.roundTimer = g.sink.Defer(drawRoundTime, func() {
		if g.phase != drawPhaseDrawing || g.round != round {
			return
		}
		g.endRound(false)
	})
	g.sink.StateChanged()
}

func (g *DrawGuess) pickWord() string {
	words := WordList()
	for attempts := 0; attempts < 10; attempts++ {
		w := words[g.rng.Intn(len(words))]
		if !g.usedWords[w] {
			g.usedWords[w] = true
			return w
		}
	}
	return words[g.rng.Intn(len(words))]
}

func (g *DrawGuess) drawer() types.UserID {
	return g.order[g.drawerIdx]
}

func (g *DrawGuess) ProcessAction(playerID types.UserID, action Action) error {
	if g.phase != drawPhaseDrawing {
		return types.NewValidationError("action", "round is not accepting actions")
	}
	p, ok := g.players[playerID]
	if !ok {
		return types.NewValidationError("action", "not an active player")
	}

	switch action.Name {
	case "draw":
		if playerID != g.drawer() {
			return types.NewValidationError("action", "only the drawer can draw")
		}
		stroke, found := action.Data["stroke"]
		if !found {
			return types.NewValidationError("stroke", "missing stroke")
		}
		if len(g.strokes) < drawMaxStrokes {
			g.strokes = append(g.strokes, stroke)
		}
		g.sink.StateChanged()
		return nil

	case "clear":
		if playerID != g.drawer() {
			return types.NewValidationError("action", "only the drawer can clear")
		}
		g.strokes = g.strokes[:0]
		g.sink.StateChanged()
		return nil

	case "guess":
		return g.handleGuess(p, getString(action.Data, "text"))

	default:
		return types.NewValidationError("action", "unknown action "+action.Name)
	}
}

func (g *DrawGuess) handleGuess(p *drawPlayer, text string) error {
	if p.userID == g.drawer() {
		return types.NewValidationError("action", "the drawer cannot guess")
	}
	if p.guessed {
		return types.NewValidationError("action", "already guessed this round")
	}
	guess := strings.ToLower(strings.TrimSpace(text))
	if guess == "" {
		return types.NewValidationError("text", "guess cannot be empty")
	}

	// non-vocabulary guesses skip the comparison entirely; the validity check
	// is memoized through the cache
	if g.sink.ValidWord != nil && !g.sink.ValidWord(guess) || guess != g.word {
		// wrong guesses are public chatter
		g.sink.Guess(g.sink.NicknameOf(p.userID), text)
		return nil
	}

	p.guessed = true
	points := drawGuessPoints
	if time.Since(g.roundStart) < drawFastBonusCut {
		points += drawFastBonus
	}
	p.score += points
	g.players[g.drawer()].score += drawDrawerPoints
	g.lastGuessed = p.userID

	// announce the guesser without leaking the word to slower players
	g.sink.Chat("", g.sink.NicknameOf(p.userID)+" guessed the word!")
	g.sink.StateChanged()

	if g.allGuessed() {
		g.endRound(true)
	}
	return nil
}

func (g *DrawGuess) allGuessed() bool {
	for _, id := range g.order {
		if id == g.drawer() {
			continue
		}
		if !g.players[id].guessed {
			return false
		}
	}
	return true
}

func (g *DrawGuess) endRound(early bool) {
	if g.roundTimer != nil {
		g.roundTimer.Stop()
		g.roundTimer = nil
	}

	g.sink.Chat("", "The word was \""+g.word+"\"")

	if g.round >= len(g.order) {
		g.finish()
		return
	}

	g.phase = drawPhasePause
	g.sink.StateChanged()
	next := g.drawerIdx + 1
	g.pauseTimer = g.sink.Defer(drawRoundPause, func() {
		if g.phase != drawPhasePause {
			return
		}
		g.startRound(next)
	})
}

func (g *DrawGuess) finish() {
	g.phase = drawPhaseEnded
	g.Cleanup()

	ranked := make([]*drawPlayer, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	winner := types.UserID("")
	if len(ranked) == 1 || ranked[0].score > ranked[1].score {
		winner = ranked[0].userID
	}
	rankings := make([]types.Ranking, 0, len(ranked))
	for i, p := range ranked {
		pos := i + 1
		if i > 0 && p.score == ranked[i-1].score {
			pos = rankings[i-1].Position
		}
		rankings = append(rankings, types.Ranking{UserID: p.userID, Position: pos, Score: p.score})
	}

	g.sink.StateChanged()
	g.sink.Ended(types.GameResult{WinnerUserID: winner, Rankings: rankings})
}

// maskWord turns the secret into the public hint: letters become underscores,
// spaces and hyphens stay visible.
func maskWord(w string) string {
	var b strings.Builder
	for _, r := range w {
		switch r {
		case ' ', '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

type drawPlayerView struct {
	UserID       types.UserID `json:"userId"`
	Score        int          `json:"score"`
	Guessed      bool         `json:"guessed"`
	Disconnected bool         `json:"disconnected"`
}

type drawStateView struct {
	Phase       string           `json:"phase"`
	Round       int              `json:"round"`
	TotalRounds int              `json:"totalRounds"`
	Drawer      types.UserID     `json:"drawer"`
	WordHint    string           `json:"wordHint"`
	CurrentWord string           `json:"currentWord,omitempty"` // drawer only
	Strokes     []any            `json:"strokes"`
	SecondsLeft int              `json:"secondsLeft"`
	Players     []drawPlayerView `json:"players"`
}

func (g *DrawGuess) ProjectState(recipient types.UserID) any {
	secondsLeft := 0
	if g.phase == drawPhaseDrawing {
		if left := drawRoundTime - time.Since(g.roundStart); left > 0 {
			secondsLeft = int(left.Seconds())
		}
	}
	view := drawStateView{
		Phase:       g.phase,
		Round:       g.round,
		TotalRounds: len(g.order),
		Drawer:      g.drawer(),
		WordHint:    maskWord(g.word),
		Strokes:     g.strokes,
		SecondsLeft: secondsLeft,
	}
	if recipient == g.drawer() {
		view.CurrentWord = g.word
	}
	for _, id := range g.order {
		p := g.players[id]
		view.Players = append(view.Players, drawPlayerView{
			UserID:       id,
			Score:        p.score,
			Guessed:      p.guessed,
			Disconnected: p.disconnected,
		})
	}
	return view
}
