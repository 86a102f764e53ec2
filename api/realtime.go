package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/config"
	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/rooms"
	"github.com/mir-akbar/codecollab/sessions"
)

// Close codes for the realtime path, beyond the standard range
const (
	closeUnauthenticated websocket.StatusCode = 4401
	closeForbidden       websocket.StatusCode = 4403
	closeNotFound        websocket.StatusCode = 4404
	closeFrameTooLarge   websocket.StatusCode = 4413
)

const pingInterval = 30 * time.Second

// Realtime handles GET /rt/:sessionId/*filePath. The socket is
// accepted first so failures surface as close codes, then the caller
// is authenticated, authorized at viewer, and attached to the room.
func (h *Handlers) Realtime(c *gin.Context) {
	sessionID := c.Param("sessionId")
	filePath := strings.TrimPrefix(c.Param("filePath"), "/")

	// coder/websocket needs the raw writer for hijacking
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		Subprotocols:       []string{config.Get().RTSubprotocol},
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("realtime upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	log.MarkHijacked(c)
	c.Abort()

	p, err := h.Gate.Authenticate(c.Request)
	if err != nil {
		conn.Close(closeUnauthenticated, "unauthenticated")
		return
	}

	d := h.Sessions.Authorize(p.UserID, sessionID, db.RoleViewer)
	if !d.Allow {
		if d.DenyKind == sessions.KindNotFound {
			conn.Close(closeNotFound, "session not found")
		} else {
			conn.Close(closeForbidden, "forbidden")
		}
		return
	}

	room, err := h.Rooms.Acquire(sessionID, filePath)
	if err != nil {
		if sessions.KindOf(err) == sessions.KindNotFound {
			conn.Close(closeNotFound, "file not found")
		} else {
			log.Error().Err(err).Str("session_id", sessionID).Str("path", filePath).Msg("room acquire failed")
			conn.Close(websocket.StatusInternalError, "room unavailable")
		}
		return
	}
	sub := room.Attach(p.UserID, p.DisplayName, d.EffectiveRole)
	if sub == nil {
		// lost a race with the sweeper; the next key acquire re-seeds
		room, err = h.Rooms.Acquire(sessionID, filePath)
		if err == nil {
			sub = room.Attach(p.UserID, p.DisplayName, d.EffectiveRole)
		}
		if sub == nil {
			conn.Close(websocket.StatusCode(rooms.CloseRoomDestroyed), "room destroyed")
			return
		}
	}
	defer h.Rooms.Release(room, sub)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// outbound pump: room frames to the socket
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-sub.Frames():
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Str("session_id", sessionID).Msg("realtime write failed")
					}
					cancel()
					return
				}
			}
		}
	}()

	// forced-disconnect watcher: role revocation, backpressure,
	// purge and shutdown all land here
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Kicked():
			conn.Close(websocket.StatusCode(sub.KickCode), sub.KickReason)
			cancel()
		}
	}()

	// protocol-level liveness; a peer that stops answering pings for
	// two intervals is gone
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, pingInterval)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Str("session_id", sessionID).Msg("realtime ping failed")
					}
					cancel()
					return
				}
			}
		}
	}()

	h.readLoop(ctx, conn, room, sub, sessionID)
	cancel()
	<-sendDone
}

// readLoop dispatches inbound frames to the room until the socket
// closes or a protocol violation forces a disconnect.
func (h *Handlers) readLoop(ctx context.Context, conn *websocket.Conn, room *rooms.Room, sub *rooms.Subscriber, sessionID string) {
	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				log.Debug().Str("session_id", sessionID).Msg("realtime socket closed")
			} else if ctx.Err() == nil {
				log.Info().Err(err).Str("session_id", sessionID).Msg("realtime read error")
			}
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		if len(msg) > rooms.MaxFrameSize {
			conn.Close(closeFrameTooLarge, "frame too large")
			return
		}

		tag, payload, err := rooms.DecodeFrame(msg)
		if err != nil {
			if err == rooms.ErrFrameTooLarge {
				conn.Close(closeFrameTooLarge, "frame too large")
			} else {
				conn.Close(websocket.StatusPolicyViolation, "malformed frame")
			}
			return
		}

		switch tag {
		case rooms.TagSyncStep1:
			if err := room.HandshakeReply(sub, payload); err != nil {
				conn.Close(websocket.StatusPolicyViolation, "malformed state vector")
				return
			}

		case rooms.TagDocUpdate, rooms.TagSyncStep2:
			// viewers observe; their edits are dropped without
			// disturbing the room
			if !sessions.CanEdit(room.SubscriberRole(sub)) {
				log.Debug().Str("session_id", sessionID).Str("user", sub.UserID).Msg("doc update from non-editor dropped")
				continue
			}
			if err := room.ApplyDocUpdate(sub, payload); err != nil {
				conn.Close(websocket.StatusPolicyViolation, "malformed update")
				return
			}

		case rooms.TagAwarenessUpdate:
			if err := room.ApplyAwarenessUpdate(sub, payload); err != nil {
				conn.Close(websocket.StatusPolicyViolation, "malformed awareness update")
				return
			}

		case rooms.TagPing:
			room.SendTo(sub, rooms.EncodeFrame(rooms.TagPong, nil))

		case rooms.TagPong, rooms.TagAwarenessSnapshot:
			// pong satisfies liveness by arriving; snapshots are
			// server-to-client only
		}
	}
}
