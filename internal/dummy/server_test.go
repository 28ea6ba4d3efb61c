package dummy

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, s *Server, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestFastEndpoint(t *testing.T) {
	s := New(Config{Rand: rand.New(rand.NewSource(1))})

	start := time.Now()
	rec := get(t, s, "/fast", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Fast response", rec.Body.String())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestErrorEndpointAlwaysFails(t *testing.T) {
	s := New(Config{})

	for i := 0; i < 5; i++ {
		rec := get(t, s, "/error", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	}
}

func TestFlakyRate(t *testing.T) {
	s := New(Config{Rand: rand.New(rand.NewSource(42))})

	for i := 0; i < 10; i++ {
		rec := get(t, s, "/flaky?rate=0", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	for i := 0; i < 10; i++ {
		rec := get(t, s, "/flaky?rate=1", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	}
}

func TestFlakyRejectsBadRate(t *testing.T) {
	s := New(Config{})

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/flaky?rate=nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/flaky?rate=1.5", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/flaky?rate=-0.1", nil).Code)
}

func TestProtectedRequiresBearer(t *testing.T) {
	s := New(Config{Token: "secret"})

	rec := get(t, s, "/protected", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = get(t, s, "/protected", map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(t, s, "/protected", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "secret")
}

func TestProtectedAcceptsAnyTokenWhenUnset(t *testing.T) {
	s := New(Config{})

	rec := get(t, s, "/protected", map[string]string{"Authorization": "Bearer whatever"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := New(Config{})

	rec := get(t, s, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
