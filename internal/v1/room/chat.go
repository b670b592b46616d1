package room

import (
	"context"
	"strings"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/google/uuid"
)

const (
	chatMaxLen        = 500
	chatLogCap        = 100
	chatHistoryLimit  = 50
)

func validateChatText(text string) error {
	if len(text) == 0 {
		return types.NewValidationError("text", "message cannot be empty")
	}
	if len(text) > chatMaxLen {
		return types.NewValidationError("text", "message must be at most 500 characters")
	}
	if strings.ContainsAny(text, "<>") {
		return types.NewValidationError("text", "message contains forbidden characters")
	}
	return nil
}

// SendMessage appends a player chat message and broadcasts it.
func (r *Room) SendMessage(ctx context.Context, userID types.UserID, text string) error {
	if err := validateChatText(text); err != nil {
		return err
	}

	r.mu.Lock()
	state, ok := r.players[userID]
	if !ok {
		r.mu.Unlock()
		return types.ErrNotInRoom
	}
	msg := r.appendChatLocked(types.ChatMessage{
		RoomCode:     r.code,
		AuthorUserID: userID,
		Nickname:     state.nickname,
		Text:         text,
		Kind:         types.ChatKindChat,
		CreatedAt:    time.Now(),
	})
	r.mu.Unlock()

	r.Broadcast(types.EventNewMessage, map[string]any{"message": msg})
	return nil
}

// AppendGameMessage appends a game-kind message (wrong guesses, round events)
// on behalf of the scheduler and broadcasts it.
func (r *Room) AppendGameMessage(nickname, text string) {
	r.mu.Lock()
	msg := r.appendChatLocked(types.ChatMessage{
		RoomCode:  r.code,
		Nickname:  nickname,
		Text:      text,
		Kind:      types.ChatKindGame,
		CreatedAt: time.Now(),
	})
	r.mu.Unlock()

	r.Broadcast(types.EventNewMessage, map[string]any{"message": msg})
}

// AppendGuessMessage appends a guess-kind message, the public trail of wrong
// guesses during a drawing round.
func (r *Room) AppendGuessMessage(nickname, text string) {
	r.mu.Lock()
	msg := r.appendChatLocked(types.ChatMessage{
		RoomCode:  r.code,
		Nickname:  nickname,
		Text:      text,
		Kind:      types.ChatKindGuess,
		CreatedAt: time.Now(),
	})
	r.mu.Unlock()

	r.Broadcast(types.EventNewMessage, map[string]any{"message": msg})
}

// AppendSystemMessage appends and broadcasts a system-kind message.
func (r *Room) AppendSystemMessage(text string) {
	r.mu.Lock()
	msg := r.appendSystemMessageLocked(text)
	r.mu.Unlock()
	r.broadcastChatMessage(msg)
}

func (r *Room) appendSystemMessageLocked(text string) types.ChatMessage {
	return r.appendChatLocked(types.ChatMessage{
		RoomCode:  r.code,
		Text:      text,
		Kind:      types.ChatKindSystem,
		CreatedAt: time.Now(),
	})
}

// appendChatLocked assigns an id and appends to the ring-buffered log,
// trimming the oldest entries past chatLogCap.
func (r *Room) appendChatLocked(msg types.ChatMessage) types.ChatMessage {
	msg.ID = uuid.New().String()
	r.chatLog = append(r.chatLog, msg)
	if len(r.chatLog) > chatLogCap {
		r.chatLog = r.chatLog[len(r.chatLog)-chatLogCap:]
	}
	return msg
}

func (r *Room) broadcastChatMessage(msg types.ChatMessage) {
	r.Broadcast(types.EventNewMessage, map[string]any{"message": msg})
}

// ChatHistory returns up to the last chatHistoryLimit messages, oldest first.
func (r *Room) ChatHistory() []types.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if len(r.chatLog) > chatHistoryLimit {
		start = len(r.chatLog) - chatHistoryLimit
	}
	out := make([]types.ChatMessage, len(r.chatLog)-start)
	copy(out, r.chatLog[start:])
	return out
}
