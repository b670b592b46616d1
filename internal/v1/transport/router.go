package transport

import (
	"context"

	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
)

// route is the single entry point for every decoded envelope: activity touch,
// per-event rate limit, dispatch, then the ack or error reply.
func (g *Gateway) route(client *Client, env types.Envelope) {
	ctx := logging.WithUser(context.Background(), string(client.GetUserID()))
	g.sessions.Touch(client.GetSessionID())

	if err := g.limiter.CheckEvent(ctx, client.GetUserID(), env.Event); err != nil {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "rate_limited").Inc()
		client.sendError(env, err)
		return
	}

	payload, err := g.dispatch(ctx, client, env)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "error").Inc()
		client.sendError(env, err)
		return
	}

	metrics.WebsocketEvents.WithLabelValues(env.Event, "ok").Inc()
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	client.sendAck(env, payload)
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, env types.Envelope) (map[string]any, error) {
	switch env.Event {
	case types.EventCreateRoom:
		return g.handleCreateRoom(ctx, client, env)
	case types.EventJoinRoom:
		return g.handleJoinRoom(ctx, client, env)
	case types.EventLeaveRoom:
		return g.handleLeaveRoom(ctx, client)
	case types.EventGetRooms:
		return g.handleGetRooms(ctx)
	case types.EventGetRoomInfo:
		return g.handleGetRoomInfo(ctx, client, env)
	case types.EventUpdateRoomSettings:
		return g.handleUpdateRoomSettings(ctx, client, env)
	case types.EventUpdateGamePool:
		return g.handleUpdateGamePool(ctx, client, env)
	case types.EventKickPlayer:
		return g.handleKickPlayer(ctx, client, env)
	case types.EventSubmitConfession:
		return g.handleSubmitConfession(ctx, client, env)
	case types.EventUpdateConfession:
		return g.handleUpdateConfession(ctx, client, env)
	case types.EventGetConfessions:
		return g.handleGetConfessions(ctx, client)
	case types.EventGetMyConfession:
		return g.handleGetMyConfession(ctx, client)
	case types.EventSendMessage:
		return g.handleSendMessage(ctx, client, env)
	case types.EventGetChatHistory:
		return g.handleGetChatHistory(ctx, client)
	case types.EventStartGameWithPool:
		return g.handleStartGameWithPool(ctx, client, env)
	case types.EventRequestMatch:
		return g.handleRequestMatch(ctx, client)
	case types.EventGameAction:
		return g.handleGameAction(ctx, client, env)
	case types.EventUpdateNickname:
		return g.handleUpdateNickname(ctx, client, env)
	case types.EventReconnect:
		return g.handleReconnect(ctx, client)
	default:
		return nil, types.NewValidationError("event", "unknown event "+env.Event)
	}
}
