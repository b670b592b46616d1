package transport

import (
	"net/http"
	"strconv"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/session"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/gin-gonic/gin"
)

const leaderboardDefaultLimit = 10

// REST serves the read-only HTTP API next to the WebSocket protocol: public
// room discovery, the global leaderboard and online player counts.
type REST struct {
	rooms    *room.Manager
	sessions *session.Store
	cache    types.CacheService
}

func NewREST(rooms *room.Manager, sessions *session.Store, cacheService types.CacheService) *REST {
	return &REST{rooms: rooms, sessions: sessions, cache: cacheService}
}

// Register mounts the API under /api/v1.
func (a *REST) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.GET("/rooms", a.listRooms)
	v1.GET("/rooms/:code", a.getRoom)
	v1.GET("/leaderboard", a.leaderboard)
	v1.GET("/stats", a.stats)
}

func (a *REST) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": a.rooms.PublicRooms()})
}

func (a *REST) getRoom(c *gin.Context) {
	code := room.NormalizeCode(c.Param("code"))
	r := a.rooms.Get(code)
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": types.CodeNotFound})
		return
	}
	snap := r.Snapshot()
	if !snap.IsPublic {
		c.JSON(http.StatusNotFound, gin.H{"error": types.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": snap})
}

func (a *REST) leaderboard(c *gin.Context) {
	limit := leaderboardDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	top, err := a.cache.ZTop(c.Request.Context(), cache.LeaderboardKey, int64(limit))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": types.CodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": top})
}

func (a *REST) stats(c *gin.Context) {
	online, err := a.cache.SetMembers(c.Request.Context(), cache.OnlinePlayersKey)
	onlineCount := len(online)
	if err != nil {
		onlineCount = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":      a.sessions.Count(),
		"onlinePlayers": onlineCount,
		"publicRooms":   len(a.rooms.PublicRooms()),
	})
}
