// Package transport is the WebSocket gateway: attachment lifecycle, the JSON
// event envelope protocol, per-event rate limiting and routing into the room
// and game layers.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/metrics"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	// sendBufferSize bounds the per-attachment outbound queue. A client that
	// cannot drain it is disconnected rather than blocking broadcasts.
	sendBufferSize = 256
)

// Client is one live WebSocket attachment bound to a session. It implements
// types.ClientInterface for the room and game layers.
type Client struct {
	gw   *Gateway
	conn *websocket.Conn

	attachmentID types.AttachmentID
	sessionID    types.SessionID
	userID       types.UserID

	mu       sync.RWMutex
	nickname string
	roomCode types.RoomCode

	send      chan types.OutEnvelope
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn, attachmentID types.AttachmentID, sessionID types.SessionID, userID types.UserID, nickname string) *Client {
	return &Client{
		gw:           gw,
		conn:         conn,
		attachmentID: attachmentID,
		sessionID:    sessionID,
		userID:       userID,
		nickname:     nickname,
		send:         make(chan types.OutEnvelope, sendBufferSize),
		done:         make(chan struct{}),
	}
}

func (c *Client) GetUserID() types.UserID       { return c.userID }
func (c *Client) GetSessionID() types.SessionID { return c.sessionID }

func (c *Client) GetNickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

func (c *Client) SetNickname(nickname string) {
	c.mu.Lock()
	c.nickname = nickname
	c.mu.Unlock()
}

func (c *Client) GetRoomCode() types.RoomCode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode
}

func (c *Client) SetRoomCode(code types.RoomCode) {
	c.mu.Lock()
	c.roomCode = code
	c.mu.Unlock()
}

// Send queues an event for the attachment. A full buffer means the client
// stopped draining; it is cut off so one slow reader cannot stall the room.
func (c *Client) Send(event string, payload any) {
	c.enqueue(types.OutEnvelope{Event: event, Payload: payload})
}

func (c *Client) enqueue(env types.OutEnvelope) {
	select {
	case <-c.done:
	case c.send <- env:
	default:
		logging.Warn(context.Background(), "Client send buffer full, disconnecting",
			zap.String("user_id", string(c.userID)),
			zap.String("event", env.Event))
		c.Disconnect()
	}
}

// sendAck replies to an ack-bearing message exactly once.
func (c *Client) sendAck(env types.Envelope, payload map[string]any) {
	if env.AckID == "" {
		return
	}
	c.enqueue(types.OutEnvelope{Event: env.Event, Payload: payload, AckID: env.AckID})
}

func (c *Client) sendError(env types.Envelope, err error) {
	payload := map[string]any{
		"success": false,
		"error":   types.CodeOf(err),
	}
	if pe, ok := err.(*types.ProtocolError); ok {
		if pe.Field != "" {
			payload["field"] = pe.Field
		}
		if pe.Message != "" {
			payload["message"] = pe.Message
		}
	}
	if env.AckID != "" {
		c.sendAck(env, payload)
		return
	}
	payload["event"] = env.Event
	c.enqueue(types.OutEnvelope{Event: "error", Payload: payload})
}

// Disconnect tears the attachment down. Safe to call from any goroutine and
// more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump decodes envelopes off the wire and routes them until the
// connection dies. Runs on its own goroutine per attachment.
func (c *Client) readPump() {
	defer func() {
		c.Disconnect()
		c.gw.onDetach(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(context.Background(), "WebSocket read failed",
					zap.String("user_id", string(c.userID)), zap.Error(err))
			}
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			metrics.WebsocketEvents.WithLabelValues("malformed", "error").Inc()
			c.enqueue(types.OutEnvelope{Event: "error", Payload: map[string]any{
				"error":   types.CodeValidation,
				"message": "malformed envelope",
			}})
			continue
		}

		c.gw.route(c, env)
	}
}

// writePump serializes queued envelopes onto the wire and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Disconnect()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
