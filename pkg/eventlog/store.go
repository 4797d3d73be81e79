// Package eventlog implements the append-only, file-backed event log that
// every state-changing operation in the core records into.
//
// The log is a single JSON array rewritten in full on every mutation. That
// is the preserved durability contract: reload must reconstruct the exact
// sequence counter, and appends after a reload continue the sequence with
// no repeats or gaps.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbcoin-labs/core/pkg/faults"
)

// ErrNotFound is returned when an event id does not exist in the log.
var ErrNotFound = errors.New("event not found")

// Listener receives every successfully appended event, synchronously.
type Listener func(Event)

// Store is the append-only event log. All methods are safe for concurrent
// use; persistence failures propagate to the caller and roll back the
// in-memory mutation that triggered them.
type Store struct {
	mu           sync.RWMutex
	path         string
	events       []Event
	sequence     uint64
	listeners    map[uint64]Listener
	nextListener uint64
	clock        func() time.Time
	logger       *slog.Logger
}

// Open loads (or creates) the log at path. Persisted entries with a zero or
// missing sequence are a structural error: the file is unusable and Open
// fails rather than guessing at a counter.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:      path,
		listeners: make(map[uint64]Listener),
		clock:     time.Now,
		logger:    logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) load() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return faults.Persistence("create storage directory", err)
		}
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.persistLocked()
	}
	if err != nil {
		return faults.Persistence("read event log", err)
	}

	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return fmt.Errorf("event log %s is structurally invalid: %w", s.path, err)
	}
	var last uint64
	for i, e := range events {
		if e.Sequence == 0 {
			return fmt.Errorf("event log %s is structurally invalid: entry %d has no sequence", s.path, i)
		}
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	s.events = events
	s.sequence = last
	s.logger.Info("event log loaded", "path", s.path, "events", len(events), "last_sequence", last)
	return nil
}

// persistLocked rewrites the whole log file. Callers hold s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.eventsOrEmpty(), "", "  ")
	if err != nil {
		return faults.Persistence("encode event log", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return faults.Persistence("write event log", err)
	}
	return nil
}

func (s *Store) eventsOrEmpty() []Event {
	if s.events == nil {
		return []Event{}
	}
	return s.events
}

// Append records a new event, persists the log, and notifies subscribers.
// The returned event carries the assigned sequence number and id. When
// persistence fails the event is discarded and no subscriber is notified.
func (s *Store) Append(t Type, payload map[string]any, status Status) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := Event{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Sequence:  s.sequence + 1,
		Timestamp: s.clock().UnixMilli(),
		Status:    status,
	}
	s.events = append(s.events, event)
	s.sequence = event.Sequence

	if err := s.persistLocked(); err != nil {
		s.events = s.events[:len(s.events)-1]
		s.sequence--
		return Event{}, err
	}

	for _, listener := range s.listeners {
		listener(event)
	}
	return event, nil
}

// UpdateStatus mutates the status (and signature, when non-empty) of the
// matching event and re-persists the log.
func (s *Store) UpdateStatus(id string, status Status, signature string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID != id {
			continue
		}
		prevStatus, prevSig := s.events[i].Status, s.events[i].Signature
		s.events[i].Status = status
		if signature != "" {
			s.events[i].Signature = signature
		}
		if err := s.persistLocked(); err != nil {
			s.events[i].Status = prevStatus
			s.events[i].Signature = prevSig
			return Event{}, err
		}
		return s.events[i], nil
	}
	return Event{}, ErrNotFound
}

// IncrementRetry bumps the retry counter of the matching event. A missing
// id is a no-op.
func (s *Store) IncrementRetry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID != id {
			continue
		}
		s.events[i].RetryCount++
		if err := s.persistLocked(); err != nil {
			s.events[i].RetryCount--
			return err
		}
		return nil
	}
	return nil
}

// Query returns events matching the filter in log order. Filter.Limit keeps
// the tail of the match set.
func (s *Store) Query(f Filter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.FromSequence > 0 && e.Sequence < f.FromSequence {
			continue
		}
		results = append(results, e)
	}
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[len(results)-f.Limit:]
	}
	return results
}

// Subscribe registers a listener invoked synchronously on every successful
// append. The returned function detaches it.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// LastSequence returns the sequence of the most recently appended event, or
// 0 when the log is empty.
func (s *Store) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Sequence
}
