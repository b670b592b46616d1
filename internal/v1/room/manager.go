// Package room implements the room manager: membership, host identity, the
// chat log, the confession store and broadcast fan-out. The manager is the
// single writer of room state; other components observe through snapshots or
// the reveal callback.
package room

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"go.uber.org/zap"
)

const (
	codeLength       = 6
	codeCharset      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeMaxAttempts  = 10
	DefaultMaxPlayers = 20

	// cleanupGracePeriod delays room deactivation after the last player
	// leaves, so a quick refresh does not destroy the room.
	cleanupGracePeriod = 30 * time.Second
)

// CreateParams are the host-supplied settings for a new room.
type CreateParams struct {
	Name        string
	Description string
	Password    string
	MaxPlayers  int
	IsPublic    bool
}

// Manager owns the registry of active rooms.
type Manager struct {
	mu              sync.Mutex
	rooms           map[types.RoomCode]*Room
	pendingCleanups map[types.RoomCode]*time.Timer
	cache           types.CacheService
	grace           time.Duration
}

// NewManager creates a room manager. The cache may be nil for single-instance
// in-memory operation.
func NewManager(cacheService types.CacheService) *Manager {
	return &Manager{
		rooms:           make(map[types.RoomCode]*Room),
		pendingCleanups: make(map[types.RoomCode]*time.Timer),
		cache:           cacheService,
		grace:           cleanupGracePeriod,
	}
}

// NormalizeCode upper-cases a client-supplied room code at the boundary.
func NormalizeCode(raw string) types.RoomCode {
	return types.RoomCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// Create generates a unique room code and registers a new room with the
// caller as host and first player. Retries code generation on collision up to
// codeMaxAttempts before failing with CODE_EXHAUSTION.
func (m *Manager) Create(ctx context.Context, client types.ClientInterface, params CreateParams) (*Room, types.RoomSnapshot, error) {
	if params.MaxPlayers <= 0 {
		params.MaxPlayers = DefaultMaxPlayers
	}
	if params.Name == "" {
		params.Name = client.GetNickname() + "'s room"
	}

	m.mu.Lock()
	var code types.RoomCode
	found := false
	for i := 0; i < codeMaxAttempts; i++ {
		candidate := generateCode()
		if _, exists := m.rooms[candidate]; !exists {
			code = candidate
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return nil, types.RoomSnapshot{}, types.ErrCodeExhaustion
	}

	r := newRoom(code, client.GetUserID(), params, m)
	m.rooms[code] = r
	m.mu.Unlock()

	metrics.ActiveRooms.Inc()

	snapshot := r.addPlayer(ctx, client)

	logging.Info(logging.WithRoom(ctx, string(code)), "Room created",
		zap.String("creator", string(client.GetUserID())),
		zap.Int("max_players", params.MaxPlayers),
		zap.Bool("public", params.IsPublic))

	return r, snapshot, nil
}

// Join adds the user to the room, or returns the current snapshot when the
// user is already a member (idempotent).
func (m *Manager) Join(ctx context.Context, client types.ClientInterface, code types.RoomCode, password string) (*Room, types.RoomSnapshot, error) {
	r := m.Get(code)
	if r == nil {
		// A snapshot may survive in the cache after deactivation; joining a
		// deactivated room is INACTIVE, an unknown code is NOT_FOUND.
		if m.hasCachedSnapshot(ctx, code) {
			return nil, types.RoomSnapshot{}, types.ErrInactive
		}
		return nil, types.RoomSnapshot{}, types.ErrNotFound
	}

	snapshot, err := r.join(ctx, client, password)
	if err != nil {
		return nil, types.RoomSnapshot{}, err
	}

	m.cancelPendingCleanup(code)
	return r, snapshot, nil
}

// Leave removes the user from the room. When the last player leaves, the room
// is deactivated after the grace period and its cache snapshot deleted.
func (m *Manager) Leave(ctx context.Context, client types.ClientInterface, code types.RoomCode) error {
	r := m.Get(code)
	if r == nil {
		return types.ErrNotFound
	}
	r.leave(ctx, client.GetUserID())
	return nil
}

// RemovePlayer removes userID from the room without a live attachment; the
// gateway calls this when the reattach grace expires.
func (m *Manager) RemovePlayer(ctx context.Context, userID types.UserID, code types.RoomCode) {
	if r := m.Get(code); r != nil {
		r.leave(ctx, userID)
	}
}

// FindByUser returns the room the user is a member of, or nil. Membership is
// exclusive, so the first hit wins.
func (m *Manager) FindByUser(userID types.UserID) *Room {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		if r.HasPlayer(userID) {
			return r
		}
	}
	return nil
}

// Get returns the active room for code, or nil.
func (m *Manager) Get(code types.RoomCode) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[code]
}

// PublicRooms lists snapshots of active public rooms.
func (m *Manager) PublicRooms() []types.RoomSnapshot {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	out := make([]types.RoomSnapshot, 0, len(rooms))
	for _, r := range rooms {
		snap := r.Snapshot()
		if snap.IsPublic {
			out = append(out, snap)
		}
	}
	return out
}

// scheduleCleanup starts the grace timer that deactivates an empty room.
// Rejoining within the grace period cancels it.
func (m *Manager) scheduleCleanup(code types.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pendingCleanups[code]; ok {
		existing.Stop()
		delete(m.pendingCleanups, code)
	}

	timer := time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		r, ok := m.rooms[code]
		if ok && r.isEmpty() {
			delete(m.rooms, code)
			delete(m.pendingCleanups, code)
			m.mu.Unlock()

			r.deactivate()
			metrics.ActiveRooms.Dec()
			metrics.RoomPlayers.DeleteLabelValues(string(code))
			_ = m.cache.Del(context.Background(), cache.RoomStateKey(code))

			logging.Info(context.Background(), "Deactivated empty room after grace period", zap.String("room_code", string(code)))
			return
		}
		delete(m.pendingCleanups, code)
		m.mu.Unlock()
	})

	m.pendingCleanups[code] = timer
}

func (m *Manager) cancelPendingCleanup(code types.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.pendingCleanups[code]; ok {
		timer.Stop()
		delete(m.pendingCleanups, code)
	}
}

func (m *Manager) hasCachedSnapshot(ctx context.Context, code types.RoomCode) bool {
	_, ok, err := m.cache.Get(ctx, cache.RoomStateKey(code))
	return err == nil && ok
}

// Shutdown closes all active rooms.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for code, timer := range m.pendingCleanups {
		timer.Stop()
		delete(m.pendingCleanups, code)
	}
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.deactivate()
	}
	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
}

func generateCode() types.RoomCode {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			// crypto/rand failure is not recoverable at this level
			panic(err)
		}
		b[i] = codeCharset[n.Int64()]
	}
	return types.RoomCode(b)
}
