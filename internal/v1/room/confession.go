package room

import (
	"context"
	"strings"
	"time"

	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"go.uber.org/zap"
)

const (
	confessionMinLen = 10
	confessionMaxLen = 500
)

// Confession is one player's hidden secret within a room. At most one
// unrevealed confession exists per (room, user); once revealed it is
// immutable.
type Confession struct {
	UserID           types.UserID `json:"userId"`
	Text             string       `json:"-"`
	IsRevealed       bool         `json:"isRevealed"`
	SubmittedAt      time.Time    `json:"submittedAt"`
	RevealedAt       *time.Time   `json:"revealedAt,omitempty"`
	RevealedInGameID types.GameID `json:"revealedInGameId,omitempty"`
}

// ConfessionView is the externally visible shape of a confession. Text is
// populated only for the owner or once revealed.
type ConfessionView struct {
	UserID           types.UserID `json:"userId"`
	Nickname         string       `json:"nickname"`
	IsRevealed       bool         `json:"isRevealed"`
	Text             string       `json:"text,omitempty"`
	SubmittedAt      time.Time    `json:"submittedAt"`
	RevealedAt       *time.Time   `json:"revealedAt,omitempty"`
	RevealedInGameID types.GameID `json:"revealedInGameId,omitempty"`
}

func validateConfessionText(text string) error {
	if len(text) < confessionMinLen {
		return types.NewValidationError("text", "confession must be at least 10 characters")
	}
	if len(text) > confessionMaxLen {
		return types.NewValidationError("text", "confession must be at most 500 characters")
	}
	if strings.ContainsAny(text, "<>") {
		return types.NewValidationError("text", "confession contains forbidden characters")
	}
	return nil
}

// SubmitConfession stores the member's hidden secret. Rejected when an
// unrevealed confession already exists for this user.
func (r *Room) SubmitConfession(ctx context.Context, userID types.UserID, text string) error {
	if err := validateConfessionText(text); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.players[userID]; !ok {
		r.mu.Unlock()
		return types.ErrNotInRoom
	}
	if c, ok := r.confessions[userID]; ok && !c.IsRevealed {
		r.mu.Unlock()
		return types.NewValidationError("text", "an unrevealed confession already exists")
	}
	r.confessions[userID] = &Confession{
		UserID:      userID,
		Text:        text,
		SubmittedAt: time.Now(),
	}
	r.mu.Unlock()

	r.Broadcast(types.EventConfessionSubmitted, map[string]any{
		"userId":        userID,
		"hasConfession": true,
	})
	r.persist(ctx)

	logging.Info(logging.WithRoom(ctx, string(r.code)), "Confession submitted",
		zap.String("user_id", string(userID)))
	return nil
}

// UpdateConfession replaces the member's unrevealed confession with new text.
// A revealed confession is immutable; updating requires an unrevealed one.
func (r *Room) UpdateConfession(ctx context.Context, userID types.UserID, text string) error {
	if err := validateConfessionText(text); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.players[userID]; !ok {
		r.mu.Unlock()
		return types.ErrNotInRoom
	}
	c, ok := r.confessions[userID]
	if !ok || c.IsRevealed {
		r.mu.Unlock()
		return types.ErrNotFound
	}
	c.Text = text
	c.SubmittedAt = time.Now()
	r.mu.Unlock()

	r.persist(ctx)
	return nil
}

// MyConfession returns the caller's own confession, text included.
func (r *Room) MyConfession(userID types.UserID) (ConfessionView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.confessions[userID]
	if !ok {
		return ConfessionView{}, false
	}
	return r.confessionViewLocked(c, userID), true
}

// Confessions lists the room's confessions as seen by requestor: text is
// included only for revealed confessions and the requestor's own.
func (r *Room) Confessions(requestor types.UserID) []ConfessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConfessionView, 0, len(r.confessions))
	for _, uid := range r.playerOrder {
		c, ok := r.confessions[uid]
		if !ok {
			continue
		}
		out = append(out, r.confessionViewLocked(c, requestor))
	}
	return out
}

func (r *Room) confessionViewLocked(c *Confession, requestor types.UserID) ConfessionView {
	view := ConfessionView{
		UserID:           c.UserID,
		IsRevealed:       c.IsRevealed,
		SubmittedAt:      c.SubmittedAt,
		RevealedAt:       c.RevealedAt,
		RevealedInGameID: c.RevealedInGameID,
	}
	if s, ok := r.players[c.UserID]; ok {
		view.Nickname = s.nickname
	}
	if c.IsRevealed || c.UserID == requestor {
		view.Text = c.Text
	}
	return view
}

// RevealConfession marks the loser's confession public and appends the
// system chat message carrying its text. Called only by the game scheduler.
// Revealing an already-revealed or missing confession is a no-op.
func (r *Room) RevealConfession(ctx context.Context, userID types.UserID, gameID types.GameID) {
	r.mu.Lock()
	c, ok := r.confessions[userID]
	if !ok || c.IsRevealed {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	c.IsRevealed = true
	c.RevealedAt = &now
	c.RevealedInGameID = gameID

	nick := string(userID)
	if s, ok := r.players[userID]; ok {
		nick = s.nickname
	}
	text := c.Text
	msg := r.appendChatLocked(types.ChatMessage{
		RoomCode:  r.code,
		Nickname:  nick,
		Text:      nick + "'s confession: " + text,
		Kind:      types.ChatKindConfession,
		CreatedAt: now,
	})
	r.mu.Unlock()

	metrics.ConfessionsRevealed.Inc()

	r.Broadcast(types.EventConfessionRevealed, map[string]any{
		"userId":  userID,
		"gameId":  gameID,
		"message": msg,
	})
	r.persist(ctx)

	logging.Info(logging.WithGame(logging.WithRoom(ctx, string(r.code)), string(gameID)), "Confession revealed",
		zap.String("user_id", string(userID)))
}
