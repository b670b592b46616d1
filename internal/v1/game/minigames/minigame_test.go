package minigames

import (
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

// sinkRecorder captures a game's outbound signals and lets tests fire
// deferred callbacks manually instead of waiting on real timers.
type sinkRecorder struct {
	stateChanges int
	results      []types.GameResult
	chats        []string
	guesses      []string
	deferred     []func()
	ticking      bool
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{}
}

func (r *sinkRecorder) sink() Sink {
	return Sink{
		StateChanged: func() { r.stateChanges++ },
		Ended:        func(res types.GameResult) { r.results = append(r.results, res) },
		Defer: func(d time.Duration, fn func()) *time.Timer {
			r.deferred = append(r.deferred, fn)
			// inert timer; tests drive fn through fireNext
			t := time.AfterFunc(24*time.Hour, func() {})
			t.Stop()
			return t
		},
		Chat:       func(nickname, text string) { r.chats = append(r.chats, text) },
		Guess:      func(nickname, text string) { r.guesses = append(r.guesses, text) },
		StartTick:  func() { r.ticking = true },
		StopTick:   func() { r.ticking = false },
		ValidWord:  IsVocabularyWord,
		NicknameOf: func(id types.UserID) string { return string(id) },
	}
}

// fireNext runs the oldest unfired deferred callback.
func (r *sinkRecorder) fireNext() {
	if len(r.deferred) == 0 {
		return
	}
	fn := r.deferred[0]
	r.deferred = r.deferred[1:]
	fn()
}

func (r *sinkRecorder) lastResult() types.GameResult {
	if len(r.results) == 0 {
		return types.GameResult{}
	}
	return r.results[len(r.results)-1]
}

func ids(ss ...string) []types.UserID {
	out := make([]types.UserID, len(ss))
	for i, s := range ss {
		out[i] = types.UserID(s)
	}
	return out
}
