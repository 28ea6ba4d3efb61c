package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"loadcast/internal/breaker"
	"loadcast/internal/engine"
	"loadcast/internal/retry"
	"loadcast/internal/sched"
	"loadcast/internal/storage"
	"loadcast/internal/telemetry"
)

func testServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := telemetry.NewRegistry()
	e := engine.New(engine.Config{
		Logger:        zaptest.NewLogger(t),
		Telemetry:     telemetry.New(reg),
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

	srv := New(Config{Engine: e, Logger: zaptest.NewLogger(t), Registry: reg})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, e
}

func planPayload(t *testing.T, uri string, iterations, durationSeconds int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"concurrent_users": 2,
		"duration_seconds": durationSeconds,
		"iterations":       iterations,
		"request_timeout":  int64(2 * time.Second),
		"targets": []map[string]any{
			{"method": "GET", "uri_template": uri},
		},
	})
	require.NoError(t, err)
	return body
}

func postJSON(t *testing.T, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, payload
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServerHealthz(t *testing.T) {
	ts, _ := testServer(t)

	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestServerStatusIdle(t *testing.T) {
	ts, _ := testServer(t)

	var status struct {
		Running  bool `json:"running"`
		Snapshot struct {
			TotalRequests int64 `json:"total_requests"`
		} `json:"snapshot"`
	}
	resp := getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, status.Running)
	assert.Zero(t, status.Snapshot.TotalRequests)
}

func TestServerRunLifecycle(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer target.Close()

	ts, e := testServer(t)

	resp, payload := postJSON(t, ts.URL+"/api/runs", planPayload(t, target.URL, 500, 60))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(payload, &started))
	require.NotEmpty(t, started.RunID)

	resp, payload = postJSON(t, ts.URL+"/api/runs", planPayload(t, target.URL, 1, 1))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(payload))

	var status struct {
		Running bool   `json:"running"`
		RunID   string `json:"run_id"`
	}
	getJSON(t, ts.URL+"/api/status", &status)
	assert.True(t, status.Running)
	assert.Equal(t, started.RunID, status.RunID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/current", nil)
	require.NoError(t, err)
	stopResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	stopResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, stopResp.StatusCode)

	require.Eventually(t, func() bool { return !e.Running() }, 5*time.Second, 20*time.Millisecond)

	var records []storage.RunRecord
	getJSON(t, ts.URL+"/api/runs", &records)
	require.Len(t, records, 1)
	assert.Equal(t, started.RunID, records[0].ID)
	assert.Equal(t, "stopped", records[0].Outcome)

	var rec storage.RunRecord
	one := getJSON(t, ts.URL+"/api/runs/"+started.RunID, &rec)
	assert.Equal(t, http.StatusOK, one.StatusCode)
	assert.Equal(t, started.RunID, rec.ID)
}

func TestServerRunNotFound(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/api/runs/no-such-run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStopWithoutRun(t *testing.T) {
	ts, _ := testServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/current", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerRejectsInvalidPlan(t *testing.T) {
	ts, _ := testServer(t)

	resp, payload := postJSON(t, ts.URL+"/api/runs", []byte(`{"concurrent_users": 0, "duration_seconds": 1, "targets": [{"uri_template": "http://127.0.0.1:1"}]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(payload), "concurrent_users")

	resp, _ = postJSON(t, ts.URL+"/api/runs", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "loadcast_active_users")
}

type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string, within time.Duration) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(within)))
	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestServerWSInitialThenHistory(t *testing.T) {
	ts, _ := testServer(t)
	conn := dialWS(t, ts.URL)

	var first wireMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "initial_metrics", first.Type)

	var initial struct {
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(first.Data, &initial))
	assert.False(t, initial.Running)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "get_history"}))
	msg := readUntil(t, conn, "test_history", 2*time.Second)

	var records []storage.RunRecord
	require.NoError(t, json.Unmarshal(msg.Data, &records))
	assert.Empty(t, records)
}

func TestServerWSStartAndStopActions(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer target.Close()

	ts, e := testServer(t)
	conn := dialWS(t, ts.URL)
	readUntil(t, conn, "initial_metrics", 2*time.Second)

	start := map[string]any{
		"action": "start_test",
		"plan": map[string]any{
			"concurrent_users": 2,
			"duration_seconds": 60,
			"iterations":       500,
			"request_timeout":  int64(2 * time.Second),
			"targets": []map[string]any{
				{"method": "GET", "uri_template": target.URL},
			},
		},
	}
	require.NoError(t, conn.WriteJSON(start))
	require.Eventually(t, e.Running, 2*time.Second, 10*time.Millisecond)

	note := readUntil(t, conn, "notification", 2*time.Second)
	assert.Contains(t, string(note.Data), "test started")

	live := readUntil(t, conn, "metrics", 2*time.Second)
	assert.NotEmpty(t, live.Data)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "stop_test"}))
	require.Eventually(t, func() bool { return !e.Running() }, 5*time.Second, 20*time.Millisecond)
}

func TestServerWSStartWithoutPlanNotifiesError(t *testing.T) {
	ts, e := testServer(t)
	conn := dialWS(t, ts.URL)
	readUntil(t, conn, "initial_metrics", 2*time.Second)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "start_test"}))
	note := readUntil(t, conn, "notification", 2*time.Second)
	assert.Contains(t, string(note.Data), "requires a plan")
	assert.False(t, e.Running())
}
