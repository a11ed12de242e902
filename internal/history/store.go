// Package history keeps a local log of finished runs in a bbolt file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/threshold"
)

const bucketRuns = "runs"

// ErrNotFound is returned by Get when no run matches.
var ErrNotFound = errors.New("run not found")

// Record is the stored summary of one run.
type Record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Passed    bool          `json:"passed"`
	Aborted   bool          `json:"aborted,omitempty"`

	TotalRequests int64         `json:"totalRequests"`
	ErrorRate     float64       `json:"errorRate"`
	RPS           float64       `json:"rps"`
	P95           time.Duration `json:"p95"`
	MaxVUs        int           `json:"maxVUs"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// FromResult summarizes a run result.
func FromResult(r *engine.TestResult) Record {
	rec := Record{
		ID:         r.RunID,
		Name:       r.Name,
		BaseURL:    r.BaseURL,
		StartTime:  r.StartTime,
		Duration:   r.Duration,
		Passed:     r.Passed,
		Aborted:    r.Aborted,
		Thresholds: r.Thresholds,
	}
	if m := r.Metrics; m != nil {
		rec.TotalRequests = m.TotalRequests
		rec.ErrorRate = m.ErrorRate
		rec.RPS = m.RPS
		rec.P95 = m.Latency.P95
		rec.MaxVUs = m.MaxVUs
	}
	return rec
}

// Store is a bbolt-backed run log. Keys sort by start time.
type Store struct {
	db *bbolt.DB
}

// DefaultPath returns ~/.counterload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".counterload", "history.db"), nil
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
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

// Close closes the file.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(rec Record) []byte {
	ts := rec.StartTime.UnixNano()
	if ts < 0 {
		ts = 0
	}
	return []byte(fmt.Sprintf("%020d-%s", ts, rec.ID))
}

// Save stores rec, replacing a record with the same id and start time.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put(key(rec), data)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Get returns the newest run whose id starts with prefix.
func (s *Store) Get(prefix string) (*Record, error) {
	if prefix == "" {
		return nil, ErrNotFound
	}

	var found *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			if strings.HasPrefix(rec.ID, prefix) {
				found = &rec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
