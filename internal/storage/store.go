// Package storage persists run history in a bbolt database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"loadcast/internal/metrics"
	"loadcast/internal/plan"
)

const (
	bucketRuns = "runs"
	// MaxRuns bounds stored history; Save prunes the oldest beyond it.
	MaxRuns = 100
)

var ErrNotFound = errors.New("run not found")

// PlanDigest is the part of a plan worth keeping next to its results.
type PlanDigest struct {
	ConcurrentUsers int      `json:"concurrent_users"`
	DurationSeconds int      `json:"duration_seconds"`
	RampUpSeconds   int      `json:"ramp_up_seconds"`
	Targets         []string `json:"targets"`
}

func DigestOf(p *plan.TestPlan) PlanDigest {
	targets := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, t.Key())
	}
	return PlanDigest{
		ConcurrentUsers: p.ConcurrentUsers,
		DurationSeconds: p.DurationSeconds,
		RampUpSeconds:   p.RampUpSeconds,
		Targets:         targets,
	}
}

// RunRecord is one finished run.
type RunRecord struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcome    string           `json:"outcome"`
	Plan       PlanDigest       `json:"plan"`
	Summary    metrics.Snapshot `json:"summary"`
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath is the per-user history database location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".loadcast", "history.db"), nil
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec and prunes history beyond MaxRuns, oldest first.
func (s *Store) Save(rec RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.ID), data); err != nil {
			return err
		}
		return pruneLocked(b)
	})
}

func (s *Store) Get(id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all stored runs, newest first.
func (s *Store) List() ([]RunRecord, error) {
	var records []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

// pruneLocked deletes the oldest records past MaxRuns. Runs inside the
// caller's write transaction.
func pruneLocked(b *bbolt.Bucket) error {
	type entry struct {
		key     []byte
		started time.Time
	}
	var entries []entry
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var rec RunRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), started: rec.StartedAt})
	}
	if len(entries) <= MaxRuns {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].started.Before(entries[j].started)
	})
	for _, e := range entries[:len(entries)-MaxRuns] {
		if err := b.Delete(e.key); err != nil {
			return err
		}
	}
	return nil
}
