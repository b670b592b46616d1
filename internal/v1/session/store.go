// Package session implements the server-side session store. A session binds a
// user identity to at most one live transport attachment and survives
// attachment loss; the bearer token lets a refreshed client reattach.
package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TokenTTL is the default session token lifetime.
	TokenTTL = 24 * time.Hour

	// idleTimeout removes sessions with no activity beyond this window.
	idleTimeout = 24 * time.Hour

	sweepInterval = time.Minute

	avatarCount = 12
)

// Session is the server-side identity binding for one (user, tab) pair.
type Session struct {
	ID           types.SessionID
	UserID       types.UserID
	Nickname     string
	Avatar       string
	TabID        string
	Token        string
	AttachmentID types.AttachmentID // empty while detached
	LastActiveAt time.Time
	ExpiresAt    time.Time
	IsGuest      bool
}

// Store holds all live sessions. It is mutated only by the gateway and the
// periodic sweeper.
type Store struct {
	mu           sync.RWMutex
	byID         map[types.SessionID]*Session
	byAttachment map[types.AttachmentID]types.SessionID
	byUserTab    map[string]types.SessionID

	signer types.TokenSigner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a session store and starts its expiry sweeper.
func NewStore(signer types.TokenSigner) *Store {
	s := &Store{
		byID:         make(map[types.SessionID]*Session),
		byAttachment: make(map[types.AttachmentID]types.SessionID),
		byUserTab:    make(map[string]types.SessionID),
	}
	s.signer = signer
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// Close stops the sweeper.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func userTabKey(userID types.UserID, tabID string) string {
	return string(userID) + "\x00" + tabID
}

// Bind resolves the attachment handshake. A valid token (without the
// newSession hint) reattaches the existing session; anything else mints a
// fresh guest session. The client-supplied userId is never trusted; identity
// comes from the verified token only.
func (s *Store) Bind(ctx context.Context, token, nickname, tabID string, newSession bool, attachmentID types.AttachmentID) (*Session, bool, error) {
	if token != "" && !newSession {
		if sess := s.reattachByToken(token, tabID, attachmentID); sess != nil {
			return sess, false, nil
		}
		// Token invalid or session evicted; fall through to a fresh session.
	}

	return s.createGuest(ctx, nickname, tabID, attachmentID)
}

func (s *Store) reattachByToken(token, tabID string, attachmentID types.AttachmentID) *Session {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}
	if !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[claims.SessionID]
	if !ok {
		// Session record evicted (e.g. restart) but the token still proves
		// identity; rebuild the record around the embedded user id.
		sess = &Session{
			ID:           claims.SessionID,
			UserID:       claims.UserID,
			Nickname:     guestNickname(),
			Avatar:       avatarFor(claims.UserID),
			TabID:        claims.TabID,
			Token:        token,
			LastActiveAt: time.Now(),
			ExpiresAt:    claims.ExpiresAt,
			IsGuest:      true,
		}
		s.byID[sess.ID] = sess
		s.byUserTab[userTabKey(sess.UserID, sess.TabID)] = sess.ID
	}

	// Same user, different tab: peer session, not a replacement.
	if tabID != "" && tabID != sess.TabID {
		return nil
	}

	s.swapAttachmentLocked(sess, attachmentID)
	return sess
}

func (s *Store) createGuest(ctx context.Context, nickname, tabID string, attachmentID types.AttachmentID) (*Session, bool, error) {
	userID := types.UserID(uuid.New().String())
	sessionID := types.SessionID(uuid.New().String())

	if nickname == "" {
		nickname = guestNickname()
	}

	token, err := s.signer.Mint(userID, sessionID, tabID, TokenTTL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mint session token: %w", err)
	}

	sess := &Session{
		ID:           sessionID,
		UserID:       userID,
		Nickname:     nickname,
		Avatar:       avatarFor(userID),
		TabID:        tabID,
		Token:        token,
		LastActiveAt: time.Now(),
		ExpiresAt:    time.Now().Add(TokenTTL),
		IsGuest:      true,
	}

	s.mu.Lock()
	s.byID[sessionID] = sess
	s.byUserTab[userTabKey(userID, tabID)] = sessionID
	s.swapAttachmentLocked(sess, attachmentID)
	s.mu.Unlock()

	logging.Info(ctx, "Created guest session",
		zap.String("user_id", string(userID)),
		zap.String("nickname", nickname),
		zap.String("tab_id", tabID))

	return sess, true, nil
}

// Reattach swaps the attachment of the session identified by token. The
// session id is preserved; only the attachment id changes.
func (s *Store) Reattach(token string, attachmentID types.AttachmentID) *Session {
	return s.reattachByToken(token, "", attachmentID)
}

func (s *Store) swapAttachmentLocked(sess *Session, attachmentID types.AttachmentID) {
	if sess.AttachmentID != "" {
		delete(s.byAttachment, sess.AttachmentID)
	}
	sess.AttachmentID = attachmentID
	sess.LastActiveAt = time.Now()
	if attachmentID != "" {
		s.byAttachment[attachmentID] = sess.ID
	}
}

// Detach clears the attachment binding without removing the session, starting
// the reattach grace window.
func (s *Store) Detach(attachmentID types.AttachmentID) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAttachment[attachmentID]
	if !ok {
		return nil
	}
	delete(s.byAttachment, attachmentID)

	sess := s.byID[id]
	if sess != nil && sess.AttachmentID == attachmentID {
		sess.AttachmentID = ""
		sess.LastActiveAt = time.Now()
	}
	return sess
}

// Touch refreshes the session's activity timestamp.
func (s *Store) Touch(sessionID types.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[sessionID]; ok {
		sess.LastActiveAt = time.Now()
	}
}

// Expire removes a session immediately (server-side revocation).
func (s *Store) Expire(sessionID types.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(sessionID)
}

func (s *Store) expireLocked(sessionID types.SessionID) {
	sess, ok := s.byID[sessionID]
	if !ok {
		return
	}
	delete(s.byID, sessionID)
	delete(s.byUserTab, userTabKey(sess.UserID, sess.TabID))
	if sess.AttachmentID != "" {
		delete(s.byAttachment, sess.AttachmentID)
	}
}

// LookupByAttachment resolves the session currently bound to an attachment.
func (s *Store) LookupByAttachment(attachmentID types.AttachmentID) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAttachment[attachmentID]
	if !ok {
		return nil
	}
	return s.byID[id]
}

// Lookup resolves a session by id.
func (s *Store) Lookup(sessionID types.SessionID) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[sessionID]
}

// SetNickname updates the nickname on every session of the user.
func (s *Store) SetNickname(userID types.UserID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byID {
		if sess.UserID == userID {
			sess.Nickname = nickname
		}
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep lazily removes sessions that are past their token expiry or idle
// beyond the idle timeout.
func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	var expired []types.SessionID
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) || now.Sub(sess.LastActiveAt) > idleTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.expireLocked(id)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		logging.Info(context.Background(), "Swept expired sessions", zap.Int("count", len(expired)))
	}
}

func guestNickname() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 4)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return "Guest-" + string(b)
}

// avatarFor deterministically assigns one of the stock avatars to a user.
func avatarFor(userID types.UserID) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return fmt.Sprintf("avatar-%02d", h.Sum32()%avatarCount+1)
}
