package transport

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/types"
)

const nicknameMaxLen = 30

// decode unmarshals an envelope payload, mapping malformed JSON to a
// VALIDATION error. An absent payload decodes to the zero value.
func decode(env types.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return types.NewValidationError("payload", "malformed payload")
	}
	return nil
}

// currentRoom resolves the client's room, or NOT_IN_ROOM.
func (g *Gateway) currentRoom(client *Client) (*room.Room, error) {
	code := client.GetRoomCode()
	if code == "" {
		return nil, types.ErrNotInRoom
	}
	r := g.rooms.Get(code)
	if r == nil {
		return nil, types.ErrNotInRoom
	}
	return r, nil
}

func (g *Gateway) handleCreateRoom(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Password    string `json:"password"`
		MaxPlayers  int    `json:"maxPlayers"`
		IsPublic    *bool  `json:"isPublic"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	if client.GetRoomCode() != "" {
		return nil, types.NewValidationError("roomCode", "already in a room")
	}
	if req.MaxPlayers > room.DefaultMaxPlayers {
		req.MaxPlayers = room.DefaultMaxPlayers
	}
	// rooms are listed publicly unless the creator opts out
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	r, snapshot, err := g.rooms.Create(ctx, client, room.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Password:    req.Password,
		MaxPlayers:  req.MaxPlayers,
		IsPublic:    isPublic,
	})
	if err != nil {
		return nil, err
	}

	client.Send(types.EventRoomCreated, map[string]any{"room": snapshot})
	return map[string]any{
		"room":        snapshot,
		"chatHistory": r.ChatHistory(),
	}, nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		RoomCode string `json:"roomCode"`
		Password string `json:"password"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	code := room.NormalizeCode(req.RoomCode)
	if code == "" {
		return nil, types.NewValidationError("roomCode", "missing room code")
	}
	if current := client.GetRoomCode(); current != "" && current != code {
		return nil, types.NewValidationError("roomCode", "already in a room")
	}

	r, snapshot, err := g.rooms.Join(ctx, client, code, req.Password)
	if err != nil {
		return nil, err
	}

	// a rejoining player mid-game gets a fresh projection
	g.sched.RequestSync(client.GetUserID())

	return map[string]any{
		"room":        snapshot,
		"chatHistory": r.ChatHistory(),
	}, nil
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, client *Client) (map[string]any, error) {
	code := client.GetRoomCode()
	if code == "" {
		return nil, types.ErrNotInRoom
	}
	if err := g.rooms.Leave(ctx, client, code); err != nil {
		return nil, err
	}
	return nil, nil
}

func (g *Gateway) handleGetRooms(context.Context) (map[string]any, error) {
	return map[string]any{"rooms": g.rooms.PublicRooms()}, nil
}

func (g *Gateway) handleGetRoomInfo(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	code := room.NormalizeCode(req.RoomCode)
	if code == "" {
		code = client.GetRoomCode()
	}
	if code == "" {
		return nil, types.ErrNotInRoom
	}
	r := g.rooms.Get(code)
	if r == nil {
		return nil, types.ErrNotFound
	}

	out := map[string]any{"room": r.Snapshot()}
	if r.HasPlayer(client.GetUserID()) {
		out["chatHistory"] = r.ChatHistory()
		g.sched.RequestSync(client.GetUserID())
	}
	return out, nil
}

func (g *Gateway) handleUpdateRoomSettings(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Name       *string `json:"name"`
		MaxPlayers *int    `json:"maxPlayers"`
		IsPublic   *bool   `json:"isPublic"`
		Password   *string `json:"password"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	if err := r.UpdateSettings(ctx, client.GetUserID(), room.SettingsUpdate{
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		IsPublic:   req.IsPublic,
		Password:   req.Password,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"room": r.Snapshot()}, nil
}

func (g *Gateway) handleUpdateGamePool(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		GamePool []types.GameType `json:"gamePool"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	if err := r.UpdateGamePool(ctx, client.GetUserID(), req.GamePool); err != nil {
		return nil, err
	}
	return map[string]any{"gamePool": r.GamePool()}, nil
}

func (g *Gateway) handleKickPlayer(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		UserID types.UserID `json:"userId"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, types.NewValidationError("userId", "missing user id")
	}
	if req.UserID == client.GetUserID() {
		return nil, types.NewValidationError("userId", "cannot kick yourself")
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, r.Kick(ctx, client.GetUserID(), req.UserID)
}

func (g *Gateway) handleSubmitConfession(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, r.SubmitConfession(ctx, client.GetUserID(), req.Text)
}

func (g *Gateway) handleUpdateConfession(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, r.UpdateConfession(ctx, client.GetUserID(), req.Text)
}

func (g *Gateway) handleGetConfessions(ctx context.Context, client *Client) (map[string]any, error) {
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return map[string]any{"confessions": r.Confessions(client.GetUserID())}, nil
}

func (g *Gateway) handleGetMyConfession(ctx context.Context, client *Client) (map[string]any, error) {
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	view, ok := r.MyConfession(client.GetUserID())
	if !ok {
		return map[string]any{"confession": nil}, nil
	}
	return map[string]any{"confession": view}, nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, r.SendMessage(ctx, client.GetUserID(), req.Text)
}

func (g *Gateway) handleGetChatHistory(ctx context.Context, client *Client) (map[string]any, error) {
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": r.ChatHistory()}, nil
}

func (g *Gateway) handleStartGameWithPool(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		GameTypes []types.GameType `json:"gameTypes"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	gameID, err := g.launcher.StartGameWithPool(ctx, client.GetUserID(), r, req.GameTypes)
	if err != nil {
		return nil, err
	}
	return map[string]any{"gameId": gameID}, nil
}

func (g *Gateway) handleRequestMatch(ctx context.Context, client *Client) (map[string]any, error) {
	r, err := g.currentRoom(client)
	if err != nil {
		return nil, err
	}
	return nil, g.launcher.RequestMatch(ctx, client.GetUserID(), r)
}

func (g *Gateway) handleGameAction(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	return nil, g.sched.Dispatch(ctx, client.GetUserID(), req.Action, req.Data)
}

func (g *Gateway) handleUpdateNickname(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		return nil, types.NewValidationError("nickname", "nickname cannot be empty")
	}
	if len(nickname) > nicknameMaxLen {
		return nil, types.NewValidationError("nickname", "nickname must be at most 30 characters")
	}
	if strings.ContainsAny(nickname, "<>") {
		return nil, types.NewValidationError("nickname", "nickname contains forbidden characters")
	}

	g.sessions.SetNickname(client.GetUserID(), nickname)
	client.SetNickname(nickname)
	if r, err := g.currentRoom(client); err == nil {
		r.UpdateNickname(ctx, client.GetUserID(), nickname)
	}
	return map[string]any{"nickname": nickname}, nil
}

// handleReconnect re-syncs a client that believes it lost state: rebind room
// membership if needed and push a fresh snapshot and game projection.
func (g *Gateway) handleReconnect(ctx context.Context, client *Client) (map[string]any, error) {
	r := g.rooms.FindByUser(client.GetUserID())
	if r == nil {
		return map[string]any{"room": nil}, nil
	}
	if client.GetRoomCode() == "" {
		if err := r.MarkReconnected(ctx, client); err != nil {
			return nil, err
		}
	}
	g.sched.RequestSync(client.GetUserID())
	return map[string]any{
		"room":        r.Snapshot(),
		"chatHistory": r.ChatHistory(),
	}, nil
}
