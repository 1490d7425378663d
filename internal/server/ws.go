package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskforge/internal/async"
	"taskforge/internal/broker"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The REST surface is already open to any origin; the event stream
	// follows the same policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams broker envelopes for the
// lifetime of the socket. Each connection is one emitter subscription; when
// the client goes away the subscription is dropped and publishing simply
// skips it.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}

	events, unsubscribe := s.service.Subscribe()
	done := make(chan struct{})

	// Read loop: clients may send cancel_task envelopes upstream. Any read
	// error means the peer is gone.
	async.Go(s.logger, "server.ws.read", func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := broker.Decode(raw)
			if err != nil {
				s.logger.Debug("ignoring undecodable client message: %v", err)
				continue
			}
			if cancel, ok := msg.(broker.CancelTask); ok {
				if err := s.service.Cancel(c.Request.Context(), cancel.TaskID); err != nil {
					s.logger.Debug("client cancel %s: %v", cancel.TaskID, err)
				}
			}
		}
	})

	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			raw, err := broker.Encode(msg)
			if err != nil {
				s.logger.Error("encode %s: %v", msg.MessageType(), err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
