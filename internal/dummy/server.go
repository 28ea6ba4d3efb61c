// Package dummy serves synthetic endpoints with tunable latency and
// failure shapes, a local target for trying out plans.
package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Addr   string
	Logger *zap.Logger
	// Token guards /protected; empty accepts any bearer token.
	Token string
	// Rand drives latency jitter and failure rolls; nil uses a
	// time-seeded source.
	Rand *rand.Rand
}

type Server struct {
	cfg    Config
	logger *zap.Logger
	http   *http.Server

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	s := &Server{cfg: cfg, logger: cfg.Logger, rng: rng}

	mux := http.NewServeMux()

	// Fast endpoint (10-50ms).
	mux.HandleFunc("/fast", s.sleepy(10, 40, "Fast response"))

	// Medium endpoint (100-300ms).
	mux.HandleFunc("/medium", s.sleepy(100, 200, "Medium response"))

	// Slow endpoint (1s-2s), good for exercising timeouts and queuing.
	mux.HandleFunc("/slow", s.sleepy(1000, 1000, "Slow response"))

	// Spike endpoint: P50 fine, P99 terrible.
	mux.HandleFunc("/spike", s.handleSpike)

	mux.HandleFunc("/error", s.handleError)
	mux.HandleFunc("/flaky", s.handleFlaky)
	mux.HandleFunc("/protected", s.handleProtected)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("dummy server listening",
			zap.String("addr", s.http.Addr),
			zap.String("endpoints", "/fast /medium /slow /spike /error /flaky /protected /health"))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// intn guards the shared rand source; handlers run concurrently and
// rand.Rand is not goroutine safe.
func (s *Server) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Server) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// sleepy builds a handler sleeping base..base+jitter milliseconds.
func (s *Server) sleepy(baseMs, jitterMs int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		delay := baseMs
		if jitterMs > 0 {
			delay += s.intn(jitterMs)
		}
		time.Sleep(time.Duration(delay) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

func (s *Server) handleSpike(w http.ResponseWriter, r *http.Request) {
	if s.roll() < 0.05 { // 5% chance of spike
		time.Sleep(2 * time.Second)
	} else {
		time.Sleep(20 * time.Millisecond)
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Spikey response"))
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte("500 Internal Server Error"))
}

// handleFlaky fails with 500 at the rate given by ?rate= (default 0.5).
func (s *Server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	rate := 0.5
	if raw := r.URL.Query().Get("rate"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("rate must be a number in [0,1]"))
			return
		}
		rate = parsed
	}
	if s.roll() < rate {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("500 Internal Server Error"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Lucky response"))
}

// handleProtected requires a bearer token. With Config.Token set only
// that token passes; otherwise any non-empty token does.
func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dummy"`)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("401 Unauthorized"))
		return
	}
	if s.cfg.Token != "" && token != s.cfg.Token {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("403 Forbidden"))
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Hello, bearer of %s", token)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
