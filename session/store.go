// Package session tracks per-caller state for the guard pipeline: a bounded
// query history and a rolling behavioral baseline. Sessions are created lazily
// on first use and never shared across caller identities.
package session

import (
	"strings"
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the per-caller query history FIFO.
const DefaultHistoryCapacity = 50

// Baseline is a caller's rolling profile of normal usage. Updated with
// exponential blending (old*0.9 + sample*0.1) after every completed query so
// thresholds adapt slowly to genuine usage patterns.
type Baseline struct {
	AvgQueriesPerHour float64
	AvgResultRows     float64
	MaxQueryTime      time.Duration
	FrequentTables    []string
}

func defaultBaseline() Baseline {
	return Baseline{
		AvgQueriesPerHour: 5.0,
		AvgResultRows:     50.0,
		MaxQueryTime:      5 * time.Second,
	}
}

// HistoryEntry is one recorded question.
type HistoryEntry struct {
	Timestamp time.Time
	Question  string
}

// Session holds mutable per-caller state. Concurrent requests from the same
// caller serialize on the session mutex so window and history updates are
// never lost.
type Session struct {
	UserID     string
	Role       string
	PlantScope string

	mu       sync.Mutex
	history  []HistoryEntry
	capacity int
	baseline Baseline
}

// Store is a caller-keyed session map guarded by a single lock. Contention is
// expected to be low; per-session work happens under the session's own mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	capacity int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store. historyCapacity <= 0 selects the default.
func NewStore(historyCapacity int, opts ...Option) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	s := &Store{
		sessions: make(map[string]*Session),
		capacity: historyCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the caller's session, creating it on first use.
func (s *Store) Get(callerID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callerID]
	if !ok {
		sess = &Session{
			UserID:   callerID,
			capacity: s.capacity,
			baseline: defaultBaseline(),
		}
		s.sessions[callerID] = sess
	}
	return sess
}

// RecordQuery appends a question to the caller's history, evicting the oldest
// entry once the FIFO is full.
func (s *Store) RecordQuery(callerID, question string) {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.history = append(sess.history, HistoryEntry{Timestamp: s.now(), Question: question})
	if len(sess.history) > sess.capacity {
		sess.history = sess.history[len(sess.history)-sess.capacity:]
	}
}

// IdenticalCount reports how many history entries match the question,
// case-insensitively and ignoring surrounding whitespace.
func (s *Store) IdenticalCount(callerID, question string) int {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(question))
	count := 0
	for _, e := range sess.history {
		if strings.ToLower(strings.TrimSpace(e.Question)) == normalized {
			count++
		}
	}
	return count
}

// QueriesSince counts history entries newer than the cutoff.
func (s *Store) QueriesSince(callerID string, cutoff time.Time) int {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	count := 0
	for _, e := range sess.history {
		if e.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Baseline returns a copy of the caller's baseline.
func (s *Store) Baseline(callerID string) Baseline {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.baseline
}

// QueryStats carries observed values from one completed query.
type QueryStats struct {
	ResultRows    int
	Tables        []string
	ExecutionTime time.Duration
}

const maxFrequentTables = 20

// UpdateBaseline blends one query's statistics into the caller's baseline.
func (s *Store) UpdateBaseline(callerID string, stats QueryStats) {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	b := &sess.baseline
	b.AvgResultRows = b.AvgResultRows*0.9 + float64(stats.ResultRows)*0.1
	if stats.ExecutionTime > b.MaxQueryTime {
		b.MaxQueryTime = stats.ExecutionTime
	}
	for _, table := range stats.Tables {
		if !containsString(b.FrequentTables, table) {
			b.FrequentTables = append(b.FrequentTables, table)
			if len(b.FrequentTables) > maxFrequentTables {
				b.FrequentTables = b.FrequentTables[len(b.FrequentTables)-maxFrequentTables:]
			}
		}
	}
}

// SetIdentity records the caller's resolved role and plant scope.
func (s *Store) SetIdentity(callerID, role, plantScope string) {
	sess := s.Get(callerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Role = role
	sess.PlantScope = plantScope
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
