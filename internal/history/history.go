// Package history keeps an append-only log of ad show attempts, both in
// memory for quick inspection and as JSONL on disk for debugging and
// telemetry export.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/gpapplica/admon/internal/eligibility"
	"github.com/gpapplica/admon/internal/models"
)

// DefaultCacheSize bounds the in-memory attempt cache.
const DefaultCacheSize = 200

// Attempt is one recorded show attempt and its outcome.
type Attempt struct {
	EventID   string             `json:"eventId"`
	Surface   models.Surface     `json:"surface"`
	Allowed   bool               `json:"allowed"`
	Reason    eligibility.Reason `json:"reason"`
	Shown     bool               `json:"shown"`
	Timestamp time.Time          `json:"timestamp"`
}

// Log records attempts to a JSONL file with a bounded in-memory cache.
// A nil *Log is a no-op, so history can be optional.
type Log struct {
	mu        sync.Mutex
	path      string
	cache     []Attempt
	cacheSize int
}

// Open creates the history log at path, creating directories as needed
// and warming the cache from the existing file tail.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	l := &Log{path: path, cacheSize: DefaultCacheSize}
	l.warmCache()
	return l, nil
}

// Record appends an attempt, assigning an event ID and timestamp when
// absent.
func (l *Log) Record(a Attempt) string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.EventID == "" {
		a.EventID = ulid.Make().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	if err := l.appendToFile(a); err != nil {
		log.Warn().Err(err).Msg("Failed to write attempt history")
	}

	l.cache = append(l.cache, a)
	if len(l.cache) > l.cacheSize {
		l.cache = l.cache[len(l.cache)-l.cacheSize:]
	}
	return a.EventID
}

// Recent returns up to n most recent attempts, newest last.
func (l *Log) Recent(n int) []Attempt {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.cache) {
		n = len(l.cache)
	}
	out := make([]Attempt, n)
	copy(out, l.cache[len(l.cache)-n:])
	return out
}

func (l *Log) appendToFile(a Attempt) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = f.Write(append(raw, '\n'))
	return err
}

func (l *Log) warmCache() {
	f, err := os.Open(l.path)
	if err != nil {
		return // no history yet
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a Attempt
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			continue // skip corrupt lines
		}
		l.cache = append(l.cache, a)
		if len(l.cache) > l.cacheSize {
			l.cache = l.cache[1:]
		}
	}
}
