package minigames

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confessbox/confessbox/internal/v1/types"
)

// fireQueued runs every deferred callback queued so far, but not the ones
// those callbacks arm themselves.
func fireQueued(rec *sinkRecorder) {
	for n := len(rec.deferred); n > 0; n-- {
		rec.fireNext()
	}
}

func guessAction(text string) Action {
	return Action{Name: "guess", Data: map[string]any{"text": text}}
}

func TestMaskWord(t *testing.T) {
	assert.Equal(t, "________", maskWord("elephant"))
	assert.Equal(t, "___ _____", maskWord("ice cream"))
	assert.Equal(t, "_____-__", maskWord("merry-go"))
	assert.Equal(t, "", maskWord(""))
}

func TestDrawerControlsCanvas(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob"), rec.sink())
	g.Start()
	require.EqualValues(t, "alice", g.drawer())

	stroke := map[string]any{"points": []any{1.0, 2.0}}
	require.NoError(t, g.ProcessAction("alice", Action{Name: "draw", Data: map[string]any{"stroke": stroke}}))
	assert.Len(t, g.strokes, 1)

	err := g.ProcessAction("bob", Action{Name: "draw", Data: map[string]any{"stroke": stroke}})
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	err = g.ProcessAction("bob", Action{Name: "clear"})
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	require.NoError(t, g.ProcessAction("alice", Action{Name: "clear"}))
	assert.Empty(t, g.strokes)
}

func TestStrokeCap(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob"), rec.sink())
	g.Start()

	g.strokes = make([]any, drawMaxStrokes)
	require.NoError(t, g.ProcessAction("alice", Action{Name: "draw", Data: map[string]any{"stroke": "x"}}))
	assert.Len(t, g.strokes, drawMaxStrokes, "strokes past the cap are dropped")
}

func TestCorrectGuessScoresWithFastBonus(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"

	require.NoError(t, g.ProcessAction("bob", guessAction("Elephant")))

	assert.Equal(t, drawGuessPoints+drawFastBonus, g.players["bob"].score)
	assert.Equal(t, drawDrawerPoints, g.players["alice"].score)
	assert.True(t, g.players["bob"].guessed)

	// the announcement names the guesser but never the word
	require.NotEmpty(t, rec.chats)
	last := rec.chats[len(rec.chats)-1]
	assert.Contains(t, last, "guessed the word")
	assert.NotContains(t, last, "elephant")
}

func TestSlowGuessSkipsBonus(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"
	g.roundStart = time.Now().Add(-drawFastBonusCut - time.Second)

	require.NoError(t, g.ProcessAction("bob", guessAction("elephant")))
	assert.Equal(t, drawGuessPoints, g.players["bob"].score)
}

func TestWrongGuessBecomesChat(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"

	require.NoError(t, g.ProcessAction("bob", guessAction("giraffe")))
	assert.Equal(t, 0, g.players["bob"].score)
	assert.False(t, g.players["bob"].guessed)
	require.NotEmpty(t, rec.guesses)
	assert.Equal(t, "giraffe", rec.guesses[len(rec.guesses)-1])

	// non-vocabulary words short-circuit before the comparison
	require.NoError(t, g.ProcessAction("carol", guessAction("zzzzz")))
	assert.Equal(t, "zzzzz", rec.guesses[len(rec.guesses)-1])
}

func TestGuessValidation(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"

	err := g.ProcessAction("alice", guessAction("elephant"))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err), "the drawer cannot guess")

	err = g.ProcessAction("bob", guessAction("   "))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	require.NoError(t, g.ProcessAction("bob", guessAction("elephant")))
	err = g.ProcessAction("bob", guessAction("elephant"))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err), "one correct guess per round")
}

func TestAllGuessedEndsRoundEarly(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"

	require.NoError(t, g.ProcessAction("bob", guessAction("elephant")))
	assert.Equal(t, drawPhaseDrawing, g.phase, "one guesser left, the round continues")

	require.NoError(t, g.ProcessAction("carol", guessAction("elephant")))
	assert.Equal(t, drawPhasePause, g.phase)

	// the reveal goes to chat once the round is over
	var revealed bool
	for _, c := range rec.chats {
		if strings.Contains(c, "elephant") {
			revealed = true
		}
	}
	assert.True(t, revealed)
}

func TestRoundTimeoutRotatesDrawer(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	require.EqualValues(t, "alice", g.drawer())
	g.strokes = append(g.strokes, "leftover")

	fireQueued(rec) // round timer expires
	assert.Equal(t, drawPhasePause, g.phase)

	fireQueued(rec) // pause elapses
	assert.Equal(t, drawPhaseDrawing, g.phase)
	assert.Equal(t, 2, g.round)
	assert.EqualValues(t, "bob", g.drawer())
	assert.Empty(t, g.strokes, "canvas resets between rounds")
	assert.False(t, g.players["bob"].guessed, "guess flags reset between rounds")
}

func TestProjectionHidesWordFromGuessers(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob"), rec.sink())
	g.Start()
	g.word = "ice cream"

	drawerView := g.ProjectState("alice").(drawStateView)
	assert.Equal(t, "ice cream", drawerView.CurrentWord)

	guesserView := g.ProjectState("bob").(drawStateView)
	assert.Empty(t, guesserView.CurrentWord)
	assert.Equal(t, "___ _____", guesserView.WordHint)
}

func TestGameEndsAfterEveryoneDrew(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob"), rec.sink())
	g.Start()

	// round 1: alice draws, bob guesses fast
	g.word = "elephant"
	require.NoError(t, g.ProcessAction("bob", guessAction("elephant")))
	require.Equal(t, drawPhasePause, g.phase)
	fireQueued(rec)
	require.Equal(t, 2, g.round)
	require.EqualValues(t, "bob", g.drawer())

	// round 2: alice guesses late, no bonus
	g.word = "pancake"
	g.roundStart = time.Now().Add(-drawFastBonusCut - time.Second)
	require.NoError(t, g.ProcessAction("alice", guessAction("pancake")))

	require.Len(t, rec.results, 1)
	result := rec.lastResult()
	assert.EqualValues(t, "bob", result.WinnerUserID)
	require.Len(t, result.Rankings, 2)
	assert.EqualValues(t, "bob", result.Rankings[0].UserID)
	assert.Equal(t, drawGuessPoints+drawFastBonus+drawDrawerPoints, result.Rankings[0].Score)
	assert.Equal(t, drawGuessPoints+drawDrawerPoints, result.Rankings[1].Score)
	assert.Equal(t, drawPhaseEnded, g.phase)
}

func TestTiedScoresShareRankAndNoWinner(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob"), rec.sink())
	g.Start()

	g.players["alice"].score = 100
	g.players["bob"].score = 100
	g.finish()

	result := rec.lastResult()
	assert.Empty(t, result.WinnerUserID)
	require.Len(t, result.Rankings, 2)
	assert.Equal(t, 1, result.Rankings[0].Position)
	assert.Equal(t, 1, result.Rankings[1].Position)
}

func TestActionsRejectedDuringPause(t *testing.T) {
	rec := newSinkRecorder()
	g := NewDrawGuess(ids("alice", "bob", "carol"), rec.sink())
	g.Start()
	g.word = "elephant"
	require.NoError(t, g.ProcessAction("bob", guessAction("elephant")))
	require.NoError(t, g.ProcessAction("carol", guessAction("elephant")))
	require.Equal(t, drawPhasePause, g.phase)

	err := g.ProcessAction("bob", guessAction("anything"))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}
