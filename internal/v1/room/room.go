package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"go.uber.org/zap"
)

// playerState tracks one member of the room. Confession text lives in the
// separate confession store, never here.
type playerState struct {
	userID    types.UserID
	nickname  string
	connected bool
	isPlaying bool
	joinedAt  time.Time
}

// Room is a durable grouping of players identified by a six-character code.
// All mutations are serialized on r.mu; the lock is never held across cache
// I/O or transport writes that can block.
type Room struct {
	mu sync.RWMutex

	code          types.RoomCode
	name          string
	description   string
	creatorUserID types.UserID
	maxPlayers    int
	isPublic      bool
	password      string
	gamePool      []types.GameType
	createdAt     time.Time
	active        bool

	players     map[types.UserID]*playerState
	playerOrder []types.UserID
	clients     map[types.UserID]types.ClientInterface

	confessions map[types.UserID]*Confession

	chatLog []types.ChatMessage

	currentGameID types.GameID

	manager *Manager
}

func newRoom(code types.RoomCode, creator types.UserID, params CreateParams, m *Manager) *Room {
	pool := make([]types.GameType, len(types.KnownGameTypes))
	copy(pool, types.KnownGameTypes)

	return &Room{
		code:          code,
		name:          params.Name,
		description:   params.Description,
		creatorUserID: creator,
		maxPlayers:    params.MaxPlayers,
		isPublic:      params.IsPublic,
		password:      params.Password,
		gamePool:      pool,
		createdAt:     time.Now(),
		active:        true,
		players:       make(map[types.UserID]*playerState),
		clients:       make(map[types.UserID]types.ClientInterface),
		confessions:   make(map[types.UserID]*Confession),
		manager:       m,
	}
}

// Code returns the room code.
func (r *Room) Code() types.RoomCode {
	return r.code
}

// CreatorUserID returns the host identity. There is no host transfer; if the
// creator leaves a non-empty room, host-only actions keep requiring the
// original creator until the room empties.
func (r *Room) CreatorUserID() types.UserID {
	return r.creatorUserID
}

// IsHost reports whether userID is the room's host.
func (r *Room) IsHost(userID types.UserID) bool {
	return userID == r.creatorUserID
}

// addPlayer registers the creator as the first player without password or
// capacity checks.
func (r *Room) addPlayer(ctx context.Context, client types.ClientInterface) types.RoomSnapshot {
	r.mu.Lock()
	r.addPlayerLocked(client)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	client.SetRoomCode(r.code)
	r.persist(ctx)
	metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(snapshot.Players)))
	return snapshot
}

func (r *Room) addPlayerLocked(client types.ClientInterface) {
	uid := client.GetUserID()
	if _, exists := r.players[uid]; !exists {
		r.players[uid] = &playerState{
			userID:    uid,
			nickname:  client.GetNickname(),
			connected: true,
			joinedAt:  time.Now(),
		}
		r.playerOrder = append(r.playerOrder, uid)
	} else {
		r.players[uid].connected = true
		r.players[uid].nickname = client.GetNickname()
	}
	r.clients[uid] = client
}

// join validates and adds a new member. Already-present users get the current
// snapshot back without membership change.
func (r *Room) join(ctx context.Context, client types.ClientInterface, password string) (types.RoomSnapshot, error) {
	uid := client.GetUserID()

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return types.RoomSnapshot{}, types.ErrInactive
	}

	if _, exists := r.players[uid]; exists {
		// Idempotent re-join: refresh the attachment, return current state.
		r.addPlayerLocked(client)
		snapshot := r.snapshotLocked()
		r.mu.Unlock()
		client.SetRoomCode(r.code)
		return snapshot, nil
	}

	if r.password != "" && r.password != password {
		r.mu.Unlock()
		return types.RoomSnapshot{}, types.ErrBadPassword
	}
	if len(r.players) >= r.maxPlayers {
		r.mu.Unlock()
		return types.RoomSnapshot{}, types.ErrFull
	}

	r.addPlayerLocked(client)
	player := playerInfoLocked(r.players[uid])
	snapshot := r.snapshotLocked()
	sys := r.appendSystemMessageLocked(client.GetNickname() + " joined the room")
	r.mu.Unlock()

	client.SetRoomCode(r.code)

	r.Broadcast(types.EventPlayerJoined, map[string]any{
		"player": player,
		"room":   snapshot,
	})
	r.broadcastChatMessage(sys)
	r.persist(ctx)
	metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(snapshot.Players)))

	logging.Info(logging.WithRoom(ctx, string(r.code)), "Player joined",
		zap.String("user_id", string(uid)),
		zap.Int("players", len(snapshot.Players)))

	return snapshot, nil
}

// leave removes a member. The host slot is not transferred. When no attached
// players remain, deactivation is scheduled after the grace period.
func (r *Room) leave(ctx context.Context, userID types.UserID) {
	r.mu.Lock()
	state, exists := r.players[userID]
	if !exists {
		r.mu.Unlock()
		return
	}
	nickname := state.nickname
	delete(r.players, userID)
	for i, id := range r.playerOrder {
		if id == userID {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			break
		}
	}
	if client, ok := r.clients[userID]; ok {
		client.SetRoomCode("")
		delete(r.clients, userID)
	}
	// An unrevealed confession leaves with its owner.
	if c, ok := r.confessions[userID]; ok && !c.IsRevealed {
		delete(r.confessions, userID)
	}
	empty := r.noAttachedPlayersLocked()
	snapshot := r.snapshotLocked()
	sys := r.appendSystemMessageLocked(nickname + " left the room")
	r.mu.Unlock()

	r.Broadcast(types.EventPlayerLeft, map[string]any{
		"userId": userID,
		"room":   snapshot,
	})
	r.broadcastChatMessage(sys)
	r.persist(ctx)
	metrics.RoomPlayers.WithLabelValues(string(r.code)).Set(float64(len(snapshot.Players)))

	if empty {
		r.manager.scheduleCleanup(r.code)
	}
}

// Kick removes targetID on behalf of the host. The target is told first, then
// the room observes playerKicked.
func (r *Room) Kick(ctx context.Context, hostID, targetID types.UserID) error {
	if !r.IsHost(hostID) {
		return types.ErrNotHost
	}

	r.mu.RLock()
	_, exists := r.players[targetID]
	target := r.clients[targetID]
	r.mu.RUnlock()
	if !exists {
		return types.ErrNotFound
	}

	if target != nil {
		target.Send(types.EventKicked, map[string]any{"roomCode": r.code})
	}

	r.leave(ctx, targetID)
	r.Broadcast(types.EventPlayerKicked, map[string]any{"userId": targetID})
	return nil
}

// MarkDisconnected flags the player's attachment as gone without touching
// membership; the reattach grace window runs at the transport layer.
func (r *Room) MarkDisconnected(ctx context.Context, userID types.UserID) {
	r.mu.Lock()
	state, exists := r.players[userID]
	if !exists {
		r.mu.Unlock()
		return
	}
	state.connected = false
	delete(r.clients, userID)
	empty := r.noAttachedPlayersLocked()
	r.mu.Unlock()

	r.Broadcast(types.EventPlayerDisconnected, map[string]any{
		"userId":    userID,
		"temporary": true,
	})
	r.persist(ctx)

	if empty {
		r.manager.scheduleCleanup(r.code)
	}
}

// MarkReconnected rebinds a returning attachment to its membership.
func (r *Room) MarkReconnected(ctx context.Context, client types.ClientInterface) error {
	uid := client.GetUserID()

	r.mu.Lock()
	state, exists := r.players[uid]
	if !exists {
		r.mu.Unlock()
		return types.ErrNotInRoom
	}
	state.connected = true
	r.clients[uid] = client
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	client.SetRoomCode(r.code)
	r.manager.cancelPendingCleanup(r.code)

	r.Broadcast(types.EventPlayerReconnected, map[string]any{
		"userId": uid,
		"room":   snapshot,
	})
	r.persist(ctx)
	return nil
}

// UpdateNickname propagates a nickname change to the member list.
func (r *Room) UpdateNickname(ctx context.Context, userID types.UserID, nickname string) {
	r.mu.Lock()
	state, exists := r.players[userID]
	if !exists {
		r.mu.Unlock()
		return
	}
	state.nickname = nickname
	player := playerInfoLocked(state)
	r.mu.Unlock()

	r.Broadcast(types.EventPlayerUpdated, map[string]any{"player": player})
	r.persist(ctx)
}

// UpdateGamePool replaces the host's enabled game pool. Unknown types are
// silently dropped; an empty filtered pool falls back to the default pool.
func (r *Room) UpdateGamePool(ctx context.Context, userID types.UserID, pool []types.GameType) error {
	if !r.IsHost(userID) {
		return types.ErrNotHost
	}

	filtered := make([]types.GameType, 0, len(pool))
	seen := make(map[types.GameType]bool)
	for _, t := range pool {
		if types.IsKnownGameType(t) && !seen[t] {
			filtered = append(filtered, t)
			seen[t] = true
		}
	}
	if len(filtered) == 0 {
		filtered = make([]types.GameType, len(types.KnownGameTypes))
		copy(filtered, types.KnownGameTypes)
	}

	r.mu.Lock()
	r.gamePool = filtered
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.Broadcast(types.EventGamePoolUpdated, map[string]any{"gamePool": filtered})
	r.Broadcast(types.EventRoomUpdated, map[string]any{"room": snapshot})
	r.persist(ctx)
	return nil
}

// SettingsUpdate carries optional room setting changes; nil fields are left
// untouched.
type SettingsUpdate struct {
	Name       *string
	MaxPlayers *int
	IsPublic   *bool
	Password   *string
}

// UpdateSettings applies host-only room setting changes.
func (r *Room) UpdateSettings(ctx context.Context, userID types.UserID, update SettingsUpdate) error {
	if !r.IsHost(userID) {
		return types.ErrNotHost
	}

	r.mu.Lock()
	if update.Name != nil && *update.Name != "" {
		r.name = *update.Name
	}
	if update.MaxPlayers != nil && *update.MaxPlayers > 0 {
		// Capacity never shrinks below the current member count.
		if *update.MaxPlayers >= len(r.players) {
			r.maxPlayers = *update.MaxPlayers
		}
	}
	if update.IsPublic != nil {
		r.isPublic = *update.IsPublic
	}
	if update.Password != nil {
		r.password = *update.Password
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.Broadcast(types.EventRoomSettingsUpdated, map[string]any{"room": snapshot})
	r.persist(ctx)
	return nil
}

// GamePool returns a copy of the current pool.
func (r *Room) GamePool() []types.GameType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool := make([]types.GameType, len(r.gamePool))
	copy(pool, r.gamePool)
	return pool
}

// ReadyPlayers lists members holding an unrevealed confession, in join order.
func (r *Room) ReadyPlayers() []types.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ready := make([]types.UserID, 0, len(r.playerOrder))
	for _, uid := range r.playerOrder {
		if c, ok := r.confessions[uid]; ok && !c.IsRevealed {
			ready = append(ready, uid)
		}
	}
	return ready
}

// HasPlayer reports membership.
func (r *Room) HasPlayer(userID types.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[userID]
	return ok
}

// NicknameOf returns the member's current nickname.
func (r *Room) NicknameOf(userID types.UserID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.players[userID]; ok {
		return s.nickname
	}
	return ""
}

// CurrentGameID returns the id of the non-ended game linked to the room, if any.
func (r *Room) CurrentGameID() types.GameID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentGameID
}

// SetCurrentGame links a starting game and flags its players as playing.
func (r *Room) SetCurrentGame(ctx context.Context, gameID types.GameID, playerIDs []types.UserID) {
	r.mu.Lock()
	r.currentGameID = gameID
	for _, uid := range playerIDs {
		if s, ok := r.players[uid]; ok {
			s.isPlaying = true
		}
	}
	r.mu.Unlock()
	r.persist(ctx)
}

// ClearCurrentGame unlinks the ended game and resets isPlaying flags.
func (r *Room) ClearCurrentGame(ctx context.Context, gameID types.GameID) {
	r.mu.Lock()
	if r.currentGameID == gameID {
		r.currentGameID = ""
	}
	for _, s := range r.players {
		s.isPlaying = false
	}
	r.mu.Unlock()
	r.persist(ctx)
}

// Broadcast fans one event out to every attached member. Delivery order per
// attachment follows commit order; the client send channel preserves it.
func (r *Room) Broadcast(event string, payload any) {
	r.mu.RLock()
	recipients := make([]types.ClientInterface, 0, len(r.clients))
	for _, c := range r.clients {
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		c.Send(event, payload)
	}
}

// SendTo delivers an event to a single member, if attached.
func (r *Room) SendTo(userID types.UserID, event string, payload any) {
	r.mu.RLock()
	c := r.clients[userID]
	r.mu.RUnlock()
	if c != nil {
		c.Send(event, payload)
	}
}

// Snapshot returns the public view of the room.
func (r *Room) Snapshot() types.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() types.RoomSnapshot {
	players := make([]types.PlayerInfo, 0, len(r.playerOrder))
	for _, uid := range r.playerOrder {
		s := r.players[uid]
		info := playerInfoLocked(s)
		if c, ok := r.confessions[uid]; ok && !c.IsRevealed {
			info.HasConfession = true
		}
		players = append(players, info)
	}

	pool := make([]types.GameType, len(r.gamePool))
	copy(pool, r.gamePool)

	return types.RoomSnapshot{
		Code:          r.code,
		Name:          r.name,
		Description:   r.description,
		CreatorUserID: r.creatorUserID,
		MaxPlayers:    r.maxPlayers,
		IsPublic:      r.isPublic,
		HasPassword:   r.password != "",
		GamePool:      pool,
		Players:       players,
		CurrentGameID: r.currentGameID,
		CreatedAt:     r.createdAt,
	}
}

func playerInfoLocked(s *playerState) types.PlayerInfo {
	return types.PlayerInfo{
		UserID:    s.userID,
		Nickname:  s.nickname,
		IsPlaying: s.isPlaying,
		Connected: s.connected,
	}
}

func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.noAttachedPlayersLocked()
}

func (r *Room) noAttachedPlayersLocked() bool {
	for _, s := range r.players {
		if s.connected {
			return false
		}
	}
	return true
}

func (r *Room) deactivate() {
	r.mu.Lock()
	r.active = false
	clients := make([]types.ClientInterface, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.SetRoomCode("")
	}
}

// persist writes a save-through snapshot outside the room lock. Best effort;
// in-memory state stays authoritative while the room is alive.
func (r *Room) persist(ctx context.Context) {
	snapshot := r.Snapshot()
	go func() {
		data, err := json.Marshal(snapshot)
		if err != nil {
			logging.Error(ctx, "Failed to marshal room snapshot", zap.String("room_code", string(r.code)), zap.Error(err))
			return
		}
		if err := r.manager.cache.Set(context.Background(), cache.RoomStateKey(r.code), string(data), cache.RoomStateTTL); err != nil {
			logging.Warn(ctx, "Room snapshot save-through failed", zap.String("room_code", string(r.code)), zap.Error(err))
		}
	}()
}
