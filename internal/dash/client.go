package dash

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"loadcast/internal/broadcast"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
	"loadcast/internal/storage"
)

// Messages delivered to the bubbletea loop.
type (
	InitialMsg      broadcast.InitialMetrics
	MetricsMsg      metrics.Snapshot
	NotificationMsg broadcast.Notification
	HistoryMsg      []storage.RunRecord
	DisconnectMsg   struct{ Err error }
)

// Client is the dashboard's connection to a serve-mode process. Writes
// happen only from the bubbletea update loop; reads run in Listen.
type Client struct {
	conn     *websocket.Conn
	incoming chan tea.Msg
}

// Dial connects to the live feed of the given base URL. http(s) schemes
// are rewritten to their websocket counterparts.
func Dial(baseURL string) (*Client, error) {
	wsURL := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	}
	if !strings.HasSuffix(wsURL, "/ws") {
		wsURL += "/ws"
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("connect to %s (HTTP %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan tea.Msg, 64),
	}
	go c.listen()
	return c, nil
}

// Wait returns a command that delivers the next server message.
func (c *Client) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-c.incoming
	}
}

func (c *Client) listen() {
	for {
		var wire struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := c.conn.ReadJSON(&wire); err != nil {
			c.incoming <- DisconnectMsg{Err: err}
			return
		}

		switch wire.Type {
		case broadcast.TypeInitialMetrics:
			var im broadcast.InitialMetrics
			if json.Unmarshal(wire.Data, &im) == nil {
				c.incoming <- InitialMsg(im)
			}
		case broadcast.TypeMetrics:
			var snap metrics.Snapshot
			if json.Unmarshal(wire.Data, &snap) == nil {
				c.incoming <- MetricsMsg(snap)
			}
		case broadcast.TypeNotification:
			var note broadcast.Notification
			if json.Unmarshal(wire.Data, &note) == nil {
				c.incoming <- NotificationMsg(note)
			}
		case broadcast.TypeTestHistory:
			var records []storage.RunRecord
			if json.Unmarshal(wire.Data, &records) == nil {
				c.incoming <- HistoryMsg(records)
			}
		}
	}
}

// StartTest asks the server to launch a run with the given plan.
func (c *Client) StartTest(p *plan.TestPlan) error {
	return c.conn.WriteJSON(map[string]any{"action": "start_test", "plan": p})
}

// StopTest asks the server to stop the active run.
func (c *Client) StopTest() error {
	return c.conn.WriteJSON(map[string]string{"action": "stop_test"})
}

// RequestHistory asks for the run history; the reply arrives as a
// HistoryMsg.
func (c *Client) RequestHistory() error {
	return c.conn.WriteJSON(map[string]string{"action": "get_history"})
}

// Close sends a normal closure and drops the connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
