package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/auth"
	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/game"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/ratelimit"
	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/session"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// reattachGrace is how long a dropped attachment keeps its room membership
// before the server treats the drop as a leave.
const reattachGrace = 30 * time.Second

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// Gateway owns the WebSocket boundary: the upgrade handshake, session
// binding, envelope routing and the reattach grace window.
type Gateway struct {
	sessions *session.Store
	rooms    *room.Manager
	sched    *game.Scheduler
	launcher *game.Launcher
	limiter  *ratelimit.RateLimiter
	cache    types.CacheService

	upgrader websocket.Upgrader

	mu          sync.Mutex
	graceTimers map[types.SessionID]*time.Timer
}

func NewGateway(sessions *session.Store, rooms *room.Manager, sched *game.Scheduler, launcher *game.Launcher, limiter *ratelimit.RateLimiter, cacheService types.CacheService) *Gateway {
	allowed := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", defaultAllowedOrigins)
	allowedSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allowedSet[o] = true
	}

	return &Gateway{
		sessions: sessions,
		rooms:    rooms,
		sched:    sched,
		launcher: launcher,
		limiter:  limiter,
		cache:    cacheService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				return allowedSet[origin]
			},
		},
		graceTimers: make(map[types.SessionID]*time.Timer),
	}
}

// HandleWS is the gin handler for the /ws endpoint. The handshake carries
// token, nickname, tabId and newSession as query parameters; identity comes
// from the verified token only.
func (g *Gateway) HandleWS(c *gin.Context) {
	ctx := c.Request.Context()

	if err := g.limiter.CheckIP(ctx, c.ClientIP()); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": types.CodeRateLimited})
		return
	}

	token := c.Query("token")
	nickname := c.Query("nickname")
	tabID := c.Query("tabId")
	newSession := c.Query("newSession") == "true"

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}

	attachmentID := types.AttachmentID(uuid.New().String())
	sess, isNew, err := g.sessions.Bind(ctx, token, nickname, tabID, newSession, attachmentID)
	if err != nil {
		logging.Error(ctx, "Session bind failed", zap.Error(err))
		_ = conn.WriteJSON(types.OutEnvelope{Event: "error", Payload: map[string]any{"error": types.CodeAuthFailed}})
		_ = conn.Close()
		return
	}

	g.cancelGrace(sess.ID)

	client := newClient(g, conn, attachmentID, sess.ID, sess.UserID, sess.Nickname)
	metrics.IncConnection()
	_ = g.cache.SetAdd(ctx, cache.OnlinePlayersKey, string(sess.UserID), 0)

	go client.writePump()
	go client.readPump()

	client.Send(types.EventAuthenticated, map[string]any{
		"token":     sess.Token,
		"userId":    sess.UserID,
		"sessionId": sess.ID,
		"nickname":  sess.Nickname,
		"avatar":    sess.Avatar,
		"isGuest":   sess.IsGuest,
		"isNew":     isNew,
	})

	logging.Info(logging.WithUser(ctx, string(sess.UserID)), "Attachment bound",
		zap.String("attachment_id", string(attachmentID)),
		zap.Bool("new_session", isNew))

	if !isNew {
		g.restoreState(client)
	}
}

// restoreState rebinds a reattached client to its room and pushes the state
// it missed: snapshot, chat history and a fresh game projection.
func (g *Gateway) restoreState(client *Client) {
	r := g.rooms.FindByUser(client.GetUserID())
	if r == nil {
		return
	}
	ctx := logging.WithUser(context.Background(), string(client.GetUserID()))
	if err := r.MarkReconnected(ctx, client); err != nil {
		return
	}
	client.Send(types.EventRoomUpdated, map[string]any{
		"room":        r.Snapshot(),
		"chatHistory": r.ChatHistory(),
	})
	g.sched.HandleReconnect(client.GetUserID())
}

// onDetach runs when an attachment's read pump exits. Membership survives for
// the grace window; only after it expires without a reattach does the server
// treat the drop as a leave.
func (g *Gateway) onDetach(client *Client) {
	metrics.DecConnection()

	ctx := logging.WithUser(context.Background(), string(client.GetUserID()))
	sess := g.sessions.Detach(client.attachmentID)
	_ = g.cache.SetRem(ctx, cache.OnlinePlayersKey, string(client.GetUserID()))

	code := client.GetRoomCode()
	if code == "" {
		return
	}
	if r := g.rooms.Get(code); r != nil {
		r.MarkDisconnected(ctx, client.GetUserID())
	}
	g.sched.HandleDisconnect(client.GetUserID())

	if sess == nil {
		return
	}
	g.startGrace(sess.ID, client.GetUserID(), code)
}

func (g *Gateway) startGrace(sessionID types.SessionID, userID types.UserID, code types.RoomCode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.graceTimers[sessionID]; ok {
		existing.Stop()
	}
	g.graceTimers[sessionID] = time.AfterFunc(reattachGrace, func() {
		g.mu.Lock()
		delete(g.graceTimers, sessionID)
		g.mu.Unlock()

		// still detached after the grace window: the player is gone
		sess := g.sessions.Lookup(sessionID)
		if sess != nil && sess.AttachmentID != "" {
			return
		}
		ctx := logging.WithUser(context.Background(), string(userID))
		logging.Info(ctx, "Reattach grace expired, leaving room",
			zap.String("room_code", string(code)))
		g.rooms.RemovePlayer(ctx, userID, code)
	})
}

func (g *Gateway) cancelGrace(sessionID types.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timer, ok := g.graceTimers[sessionID]; ok {
		timer.Stop()
		delete(g.graceTimers, sessionID)
	}
}

// Shutdown stops pending grace timers.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, timer := range g.graceTimers {
		timer.Stop()
		delete(g.graceTimers, id)
	}
}
