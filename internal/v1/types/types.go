package types

import (
	"context"
	"encoding/json"
	"time"
)

// --- Core Domain Types ---

// UserID is a unique identifier for a user (persistent or guest).
type UserID string

// SessionID identifies a server-side session that survives attachment loss.
type SessionID string

// AttachmentID identifies a single live transport connection.
type AttachmentID string

// RoomCode is a six-character uppercase alphanumeric room identifier.
type RoomCode string

// GameID is a unique identifier for a game instance.
type GameID string

// GameType identifies a mini-game state machine.
type GameType string

const (
	GameTypeRPS       GameType = "rock-paper-scissors"
	GameTypeRacer     GameType = "racer"
	GameTypeDrawGuess GameType = "draw-guess"
	GameTypeTruthDare GameType = "truth-dare"
)

// KnownGameTypes is the ordered set of game types the scheduler can construct.
// It doubles as the default pool when a room's pool filters down to nothing.
var KnownGameTypes = []GameType{GameTypeRPS, GameTypeRacer, GameTypeDrawGuess, GameTypeTruthDare}

// IsKnownGameType reports whether t names a constructible mini-game.
func IsKnownGameType(t GameType) bool {
	for _, k := range KnownGameTypes {
		if k == t {
			return true
		}
	}
	return false
}

// --- Wire Protocol ---

// Envelope is the unit of the client message protocol. Each message is
// (event, payload, optional ackId); a receiver may reply to an ack-bearing
// message exactly once.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
}

// OutEnvelope is the serialized shape of server-emitted messages. Ack replies
// reuse the incoming AckID and carry a {success, ...} payload.
type OutEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	AckID   string `json:"ackId,omitempty"`
}

// Event names the server consumes.
const (
	EventCreateRoom         = "createRoom"
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventGetRooms           = "getRooms"
	EventGetRoomInfo        = "getRoomInfo"
	EventUpdateRoomSettings = "updateRoomSettings"
	EventUpdateGamePool     = "updateGamePool"
	EventKickPlayer         = "kickPlayer"
	EventSubmitConfession   = "submitConfession"
	EventUpdateConfession   = "updateConfession"
	EventGetConfessions     = "getConfessions"
	EventGetMyConfession    = "getMyConfession"
	EventSendMessage        = "sendMessage"
	EventGetChatHistory     = "getChatHistory"
	EventStartGameWithPool  = "startGameWithPool"
	EventRequestMatch       = "requestMatch"
	EventGameAction         = "gameAction"
	EventUpdateNickname     = "updateNickname"
	EventReconnect          = "reconnect"
)

// Event names the server emits.
const (
	EventAuthenticated        = "authenticated"
	EventRoomCreated          = "roomCreated"
	EventPlayerJoined         = "playerJoined"
	EventPlayerLeft           = "playerLeft"
	EventPlayerDisconnected   = "playerDisconnected"
	EventPlayerReconnected    = "playerReconnected"
	EventPlayerKicked         = "playerKicked"
	EventPlayerUpdated        = "playerUpdated"
	EventRoomUpdated          = "roomUpdated"
	EventRoomSettingsUpdated  = "roomSettingsUpdated"
	EventGamePoolUpdated      = "gamePoolUpdated"
	EventConfessionSubmitted  = "confessionSubmitted"
	EventConfessionRevealed   = "confessionRevealed"
	EventMatchmakingAvailable = "matchmakingAvailable"
	EventMatchmakingStarted   = "matchmakingStarted"
	EventGameStarting         = "gameStarting"
	EventGameSelected         = "gameSelected"
	EventMatchStarted         = "matchStarted"
	EventGameUpdate           = "gameUpdate"
	EventGameEnded            = "gameEnded"
	EventNewMessage           = "newMessage"
	EventKicked               = "kicked"
)

// --- Snapshots ---

// PlayerInfo is the condensed per-player view carried in room snapshots.
// Raw confession text is never in a snapshot, only the readiness flag.
type PlayerInfo struct {
	UserID        UserID `json:"userId"`
	Nickname      string `json:"nickname"`
	HasConfession bool   `json:"hasConfession"`
	IsPlaying     bool   `json:"isPlaying"`
	Connected     bool   `json:"connected"`
}

// RoomSnapshot is the public view of a room broadcast on mutations.
type RoomSnapshot struct {
	Code          RoomCode     `json:"code"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	CreatorUserID UserID       `json:"creatorUserId"`
	MaxPlayers    int          `json:"maxPlayers"`
	IsPublic      bool         `json:"isPublic"`
	HasPassword   bool         `json:"hasPassword"`
	GamePool      []GameType   `json:"gamePool"`
	Players       []PlayerInfo `json:"players"`
	CurrentGameID GameID       `json:"currentGameId,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// ChatKind classifies chat log entries.
type ChatKind string

const (
	ChatKindChat       ChatKind = "chat"
	ChatKindConfession ChatKind = "confession"
	ChatKindSystem     ChatKind = "system"
	ChatKindGame       ChatKind = "game"
	ChatKindGuess      ChatKind = "guess"
)

// ChatMessage is one entry of a room's append-only, ring-buffered chat log.
// AuthorUserID is empty for system messages.
type ChatMessage struct {
	ID           string    `json:"id"`
	RoomCode     RoomCode  `json:"roomCode"`
	AuthorUserID UserID    `json:"authorUserId,omitempty"`
	Nickname     string    `json:"nickname,omitempty"`
	Text         string    `json:"text"`
	Kind         ChatKind  `json:"kind"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GameInfo is the public shape of a game instance carried in gameUpdate
// broadcasts. State is the (already projected) type-specific state blob.
type GameInfo struct {
	ID      GameID   `json:"id"`
	Type    GameType `json:"type"`
	Players []UserID `json:"players"`
	State   any      `json:"state"`
}

// GameResult is emitted by a game instance when it ends. Winner is empty for
// forced ends (timeout, all disconnected, panic). Rankings are ordered by
// finishing position; a shared rank repeats the position value.
type GameResult struct {
	WinnerUserID UserID    `json:"winnerUserId,omitempty"`
	Rankings     []Ranking `json:"rankings,omitempty"`
	Forced       bool      `json:"forced,omitempty"`
}

// Ranking is one entry of a game's final ordering.
type Ranking struct {
	UserID   UserID `json:"userId"`
	Position int    `json:"position"`
	Score    int    `json:"score,omitempty"`
}

// --- Shared Interfaces ---

// ClientInterface is the behavior the room and game layers need from a
// connected attachment, without depending on the transport package.
type ClientInterface interface {
	GetUserID() UserID
	GetSessionID() SessionID
	GetNickname() string
	SetNickname(string)
	GetRoomCode() RoomCode
	SetRoomCode(RoomCode)
	Send(event string, payload any)
	Disconnect()
}

// TokenSigner mints and verifies bearer session tokens.
type TokenSigner interface {
	Mint(userID UserID, sessionID SessionID, tabID string, ttl time.Duration) (string, error)
	Verify(token string) (*TokenClaims, error)
}

// TokenClaims is the verified content of a session token.
type TokenClaims struct {
	UserID    UserID
	SessionID SessionID
	TabID     string
	ExpiresAt time.Time
}

// CacheService is the shared-cache surface (C3) used by the room manager,
// the matchmaker and the game scheduler. A nil implementation is valid and
// means single-instance, in-memory-only operation.
type CacheService interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	SetAdd(ctx context.Context, key string, member string, ttl time.Duration) error
	SetRem(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	ZIncrBy(ctx context.Context, key string, delta float64, member string) error
	ZTop(ctx context.Context, key string, n int64) ([]ScoredMember, error)
	CompareAndSwap(ctx context.Context, key string, update func(old string) (string, error), ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// ScoredMember is one entry of a sorted-set read.
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}
