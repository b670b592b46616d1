package room

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confessbox/confessbox/internal/v1/types"
)

func setupRoomWithTwo(t *testing.T) (*Room, *fakeClient, *fakeClient) {
	t.Helper()
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})
	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)
	return r, host, joiner
}

func TestSubmitConfessionValidation(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
	}{
		{"too short", "tiny"},
		{"too long", strings.Repeat("a", 501)},
		{"angle brackets", "I once wrote <script> in a form field"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SubmitConfession(ctx, host.userID, tt.text)
			require.Error(t, err)
			assert.Equal(t, types.CodeValidation, types.CodeOf(err))
		})
	}

	assert.NoError(t, r.SubmitConfession(ctx, host.userID, strings.Repeat("a", 500)))
}

func TestSubmitConfessionRequiresMembership(t *testing.T) {
	r, _, _ := setupRoomWithTwo(t)
	err := r.SubmitConfession(context.Background(), "u-outsider", "I am not even in this room")
	assert.Equal(t, types.ErrNotInRoom, err)
}

func TestSubmitConfessionRejectsDuplicate(t *testing.T) {
	r, host, joiner := setupRoomWithTwo(t)
	ctx := context.Background()

	require.NoError(t, r.SubmitConfession(ctx, host.userID, "I still sleep with a nightlight"))
	err := r.SubmitConfession(ctx, host.userID, "A second secret before the first is out")
	require.Error(t, err)
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	assert.True(t, joiner.received(types.EventConfessionSubmitted))
	assert.Equal(t, []types.UserID{host.userID}, r.ReadyPlayers())
}

func TestUpdateConfession(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	// nothing submitted yet
	err := r.UpdateConfession(ctx, host.userID, "Replacement before any submission")
	assert.Equal(t, types.ErrNotFound, err)

	require.NoError(t, r.SubmitConfession(ctx, host.userID, "The original embarrassing secret"))
	require.NoError(t, r.UpdateConfession(ctx, host.userID, "An even more embarrassing secret"))

	view, ok := r.MyConfession(host.userID)
	require.True(t, ok)
	assert.Equal(t, "An even more embarrassing secret", view.Text)
}

func TestConfessionVisibility(t *testing.T) {
	r, host, joiner := setupRoomWithTwo(t)
	ctx := context.Background()

	require.NoError(t, r.SubmitConfession(ctx, host.userID, "I pretend to understand jazz"))

	// owner sees their own text
	mine := r.Confessions(host.userID)
	require.Len(t, mine, 1)
	assert.Equal(t, "I pretend to understand jazz", mine[0].Text)

	// others see only the readiness flag
	theirs := r.Confessions(joiner.userID)
	require.Len(t, theirs, 1)
	assert.Empty(t, theirs[0].Text)
	assert.False(t, theirs[0].IsRevealed)
}

func TestRevealConfession(t *testing.T) {
	r, host, joiner := setupRoomWithTwo(t)
	ctx := context.Background()

	require.NoError(t, r.SubmitConfession(ctx, host.userID, "I pretend to understand jazz"))
	r.RevealConfession(ctx, host.userID, "game-1")

	assert.True(t, joiner.received(types.EventConfessionRevealed))

	// the text is now public and carried in the chat log
	theirs := r.Confessions(joiner.userID)
	require.Len(t, theirs, 1)
	assert.True(t, theirs[0].IsRevealed)
	assert.Equal(t, "I pretend to understand jazz", theirs[0].Text)
	assert.EqualValues(t, "game-1", theirs[0].RevealedInGameID)

	history := r.ChatHistory()
	var found bool
	for _, msg := range history {
		if msg.Kind == types.ChatKindConfession {
			found = true
			assert.Contains(t, msg.Text, "I pretend to understand jazz")
			assert.Contains(t, msg.Text, "Host")
		}
	}
	assert.True(t, found, "reveal must append a confession chat message")
}

func TestRevealIsIdempotentAndRevealedIsImmutable(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	require.NoError(t, r.SubmitConfession(ctx, host.userID, "I pretend to understand jazz"))
	r.RevealConfession(ctx, host.userID, "game-1")
	r.RevealConfession(ctx, host.userID, "game-2") // no-op

	view, ok := r.MyConfession(host.userID)
	require.True(t, ok)
	assert.EqualValues(t, "game-1", view.RevealedInGameID)

	// a revealed confession cannot be rewritten
	err := r.UpdateConfession(ctx, host.userID, "Let me take that back please")
	assert.Equal(t, types.ErrNotFound, err)

	// but a fresh one may be submitted for the next game
	assert.NoError(t, r.SubmitConfession(ctx, host.userID, "A brand new secret for round two"))
	assert.Equal(t, []types.UserID{host.userID}, r.ReadyPlayers())
}

func TestRevealMissingConfessionIsNoop(t *testing.T) {
	r, _, joiner := setupRoomWithTwo(t)
	r.RevealConfession(context.Background(), joiner.userID, "game-1")
	assert.False(t, joiner.received(types.EventConfessionRevealed))
}

func TestChatHistoryRingBuffer(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		require.NoError(t, r.SendMessage(ctx, host.userID, "message number whatever"))
	}

	history := r.ChatHistory()
	assert.Len(t, history, chatHistoryLimit, "history returns at most the last 50")
	assert.Len(t, r.chatLog, chatLogCap, "log retains at most the last 100")
}

func TestSendMessageValidation(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	err := r.SendMessage(ctx, host.userID, "")
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	err = r.SendMessage(ctx, host.userID, strings.Repeat("x", 501))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	err = r.SendMessage(ctx, "u-outsider", "hello")
	assert.Equal(t, types.ErrNotInRoom, err)
}

func TestChatOrderIsOldestFirst(t *testing.T) {
	r, host, _ := setupRoomWithTwo(t)
	ctx := context.Background()

	require.NoError(t, r.SendMessage(ctx, host.userID, "first message here"))
	require.NoError(t, r.SendMessage(ctx, host.userID, "second message here"))

	history := r.ChatHistory()
	// history includes the system join message; find ours
	var texts []string
	for _, msg := range history {
		if msg.Kind == types.ChatKindChat {
			texts = append(texts, msg.Text)
		}
	}
	assert.Equal(t, []string{"first message here", "second message here"}, texts)
}
