package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadcast/internal/metrics"
	"loadcast/internal/plan"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, started time.Time) RunRecord {
	return RunRecord{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Outcome:    "completed",
		Plan: PlanDigest{
			ConcurrentUsers: 10,
			DurationSeconds: 30,
			Targets:         []string{"GET http://localhost:8080/fast"},
		},
		Summary: metrics.Snapshot{TotalRequests: 100, Throughput: 3.3},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	rec := record("run-1", base)
	require.NoError(t, s.Save(rec))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Outcome, got.Outcome)
	assert.Equal(t, int64(100), got.Summary.TotalRequests)
	assert.Equal(t, []string{"GET http://localhost:8080/fast"}, got.Plan.Targets)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
}

func TestStoreGetMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	// Insert out of chronological order.
	require.NoError(t, s.Save(record("run-b", base.Add(time.Hour))))
	require.NoError(t, s.Save(record("run-a", base)))
	require.NoError(t, s.Save(record("run-c", base.Add(2*time.Hour))))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "run-c", list[0].ID)
	assert.Equal(t, "run-b", list[1].ID)
	assert.Equal(t, "run-a", list[2].ID)
}

func TestStorePrunesOldestBeyondLimit(t *testing.T) {
	s := testStore(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < MaxRuns+5; i++ {
		rec := record(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Save(rec))
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, MaxRuns)

	// The five oldest are gone.
	for _, id := range []string{"run-000", "run-001", "run-002", "run-003", "run-004"} {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	assert.Equal(t, fmt.Sprintf("run-%03d", MaxRuns+4), list[0].ID)
}

func TestDigestOf(t *testing.T) {
	p := &plan.TestPlan{
		ConcurrentUsers: 25,
		DurationSeconds: 60,
		RampUpSeconds:   10,
		Targets: []plan.Target{
			{Method: "GET", URITemplate: "http://localhost:8080/fast"},
			{Method: "POST", URITemplate: "http://localhost:8080/submit"},
		},
	}
	p.Normalize()

	d := DigestOf(p)
	assert.Equal(t, 25, d.ConcurrentUsers)
	assert.Equal(t, 60, d.DurationSeconds)
	assert.Equal(t, 10, d.RampUpSeconds)
	assert.Equal(t, []string{
		"GET http://localhost:8080/fast",
		"POST http://localhost:8080/submit",
	}, d.Targets)
}
