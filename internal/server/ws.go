package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"loadcast/internal/broadcast"
	"loadcast/internal/plan"
	"loadcast/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

const (
	actionStartTest  = "start_test"
	actionStopTest   = "stop_test"
	actionGetHistory = "get_history"
)

type clientAction struct {
	Action string         `json:"action"`
	Plan   *plan.TestPlan `json:"plan,omitempty"`
}

// wsClient adapts one websocket connection to the broadcaster: Send
// queues into a buffered channel drained by the write pump, and a full
// buffer is reported as an error so the broadcaster drops the client.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan broadcast.Message
	server *Server
	logger *zap.Logger
}

var errSendBufferFull = errors.New("send buffer full")

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(msg broadcast.Message) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	client := &wsClient{
		id:     id,
		conn:   conn,
		send:   make(chan broadcast.Message, sendBuffer),
		server: s,
		logger: s.logger.With(zap.String("conn_id", id)),
	}

	// Pumps start before Subscribe so the initial snapshot queued by
	// the broadcaster is flushed immediately.
	go client.writePump()
	go client.readPump()
	s.engine.Broadcaster().Subscribe(client)
}

// readPump consumes client actions until the connection errors or
// closes, then tears the subscription down. Pong handling keeps the
// read deadline moving while the write pump pings.
func (c *wsClient) readPump() {
	defer func() {
		c.server.engine.Broadcaster().Unsubscribe(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var act clientAction
		if err := c.conn.ReadJSON(&act); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.server.handleAction(c, act)
	}
}

// writePump owns all writes to the connection. Exiting closes the
// connection, which unblocks the read pump and completes teardown.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleAction(c *wsClient, act clientAction) {
	bcast := s.engine.Broadcaster()

	switch act.Action {
	case actionStartTest:
		p := act.Plan
		if p == nil {
			p = s.cfg.DefaultPlan
		}
		if p == nil {
			bcast.Notify("error", "start_test requires a plan")
			return
		}
		if _, err := s.engine.Start(p); err != nil {
			bcast.Notify("error", "start failed: "+err.Error())
		}
	case actionStopTest:
		if err := s.engine.Stop(); err != nil {
			bcast.Notify("warning", "stop failed: "+err.Error())
		}
	case actionGetHistory:
		records, err := s.engine.History()
		if err != nil {
			c.logger.Warn("history lookup failed", zap.Error(err))
			return
		}
		if records == nil {
			records = []storage.RunRecord{}
		}
		msg := broadcast.Message{
			Type:      broadcast.TypeTestHistory,
			Data:      records,
			Timestamp: time.Now(),
		}
		if err := c.Send(msg); err != nil {
			c.logger.Warn("history send failed", zap.Error(err))
		}
	default:
		c.logger.Warn("unknown action", zap.String("action", act.Action))
	}
}
