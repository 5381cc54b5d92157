package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsPollInterval = 2 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsBacklog      = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced at the HTTP layer; the websocket accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMessageStream upgrades to a websocket and streams the user's
// feed: a recent backlog first, then new messages as they are written.
func (s *Server) handleMessageStream(c *gin.Context) {
	uid := userID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads are discarded; they only surface client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastSeen := s.sendBacklog(c, conn, uid)

	pollEvery := s.wsPoll
	if pollEvery <= 0 {
		pollEvery = wsPollInterval
	}
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			next, err := s.sendNewMessages(c, conn, uid, lastSeen)
			if err != nil {
				return
			}
			lastSeen = next
		}
	}
}

// sendBacklog pushes the most recent messages oldest-first and returns
// the newest timestamp sent.
func (s *Server) sendBacklog(c *gin.Context, conn *websocket.Conn, uid string) time.Time {
	var lastSeen time.Time

	messages, err := s.store.ListMessages(c.Request.Context(), uid, wsBacklog, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket backlog fetch failed")
		return lastSeen
	}

	// ListMessages returns newest first; replay in chronological order.
	for i := len(messages) - 1; i >= 0; i-- {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(messageToView(messages[i])); err != nil {
			return lastSeen
		}
		if messages[i].CreatedAt.After(lastSeen) {
			lastSeen = messages[i].CreatedAt
		}
	}
	return lastSeen
}

// sendNewMessages pushes messages newer than lastSeen and returns the
// advanced watermark.
func (s *Server) sendNewMessages(c *gin.Context, conn *websocket.Conn, uid string, lastSeen time.Time) (time.Time, error) {
	messages, err := s.store.ListMessages(c.Request.Context(), uid, wsBacklog, 0)
	if err != nil {
		// Transient store trouble should not drop the stream.
		log.Debug().Err(err).Msg("Websocket poll fetch failed")
		return lastSeen, nil
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if !msg.CreatedAt.After(lastSeen) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(messageToView(msg)); err != nil {
			return lastSeen, err
		}
		if msg.CreatedAt.After(lastSeen) {
			lastSeen = msg.CreatedAt
		}
	}
	return lastSeen, nil
}
