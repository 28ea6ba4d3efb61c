package dash

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"loadcast/internal/breaker"
	"loadcast/internal/engine"
	"loadcast/internal/plan"
	"loadcast/internal/retry"
	"loadcast/internal/sched"
	"loadcast/internal/server"
	"loadcast/internal/storage"
)

func testFeed(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := engine.New(engine.Config{
		Logger:        zaptest.NewLogger(t),
		Store:         store,
		BreakerConfig: breaker.DefaultConfig(),
		RetryPolicy: retry.Policy{
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			BackoffFactor: 2,
			MaxDelay:      5 * time.Millisecond,
		},
		Strategy:          sched.StrategyLoop,
		SampleInterval:    20 * time.Millisecond,
		BroadcastInterval: 50 * time.Millisecond,
	})
	t.Cleanup(e.Close)

	srv := server.New(server.Config{Engine: e, Logger: zaptest.NewLogger(t)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, e
}

func nextMsg(t *testing.T, c *Client, within time.Duration) tea.Msg {
	t.Helper()
	done := make(chan tea.Msg, 1)
	go func() { done <- c.Wait()() }()
	select {
	case msg := <-done:
		return msg
	case <-time.After(within):
		t.Fatal("no message from server in time")
		return nil
	}
}

func waitForMsg[T tea.Msg](t *testing.T, c *Client, within time.Duration) T {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		msg := nextMsg(t, c, time.Until(deadline))
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
	var zero T
	t.Fatalf("message of type %T never arrived", zero)
	return zero
}

func TestClientReceivesInitialMetrics(t *testing.T) {
	ts, _ := testFeed(t)

	c, err := Dial(ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	initial := waitForMsg[InitialMsg](t, c, 2*time.Second)
	assert.False(t, initial.Running)
	assert.Zero(t, initial.TotalRequests)
}

func TestClientHistoryRequest(t *testing.T) {
	ts, _ := testFeed(t)

	c, err := Dial(ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	waitForMsg[InitialMsg](t, c, 2*time.Second)
	require.NoError(t, c.RequestHistory())

	records := waitForMsg[HistoryMsg](t, c, 2*time.Second)
	assert.Empty(t, []storage.RunRecord(records))
}

func TestClientStartAndStop(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer target.Close()

	ts, e := testFeed(t)

	c, err := Dial(ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	waitForMsg[InitialMsg](t, c, 2*time.Second)

	p := &plan.TestPlan{
		ConcurrentUsers: 2,
		DurationSeconds: 60,
		Iterations:      500,
		RequestTimeout:  2 * time.Second,
		Targets:         []plan.Target{{URITemplate: target.URL}},
	}
	require.NoError(t, c.StartTest(p))

	note := waitForMsg[NotificationMsg](t, c, 2*time.Second)
	assert.Contains(t, note.Message, "test started")
	require.Eventually(t, e.Running, 2*time.Second, 10*time.Millisecond)

	live := waitForMsg[MetricsMsg](t, c, 2*time.Second)
	assert.GreaterOrEqual(t, live.TotalRequests, int64(0))

	require.NoError(t, c.StopTest())
	require.Eventually(t, func() bool { return !e.Running() }, 5*time.Second, 20*time.Millisecond)
}

func TestClientDisconnectDelivered(t *testing.T) {
	ts, _ := testFeed(t)

	c, err := Dial(ts.URL)
	require.NoError(t, err)

	waitForMsg[InitialMsg](t, c, 2*time.Second)
	ts.CloseClientConnections()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := nextMsg(t, c, time.Until(deadline)).(DisconnectMsg); ok {
			return
		}
	}
	t.Fatal("disconnect never delivered")
}

func TestDialRejectsUnreachable(t *testing.T) {
	_, err := Dial("http://127.0.0.1:1")
	assert.Error(t, err)
}
