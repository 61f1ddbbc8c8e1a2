// Package scratchpad is the session-scoped TTL key/value store (spec.md
// §4.7, §5). Entries live only in memory — there is no durable backing
// store, since a scratchpad entry's value is by definition throwaway before
// its TTL elapses.
package scratchpad

import (
	"sync"
	"time"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/model"
)

// Store is a concurrency-safe TTL-keyed map, partitioned by session id.
type Store struct {
	mu      sync.Mutex
	entries map[string]map[string]model.ScratchpadEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]map[string]model.ScratchpadEntry)}
}

// Put writes a key for a session, overwriting any existing value and
// resetting its TTL.
func (s *Store) Put(sessionID, key, value string, ttl time.Duration) error {
	if sessionID == "" || key == "" {
		return apperr.New(apperr.InvalidArgument, "session_id and key are required")
	}
	if ttl <= 0 {
		return apperr.New(apperr.InvalidArgument, "ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.entries[sessionID]
	if !ok {
		session = make(map[string]model.ScratchpadEntry)
		s.entries[sessionID] = session
	}
	session[key] = model.ScratchpadEntry{
		SessionID: sessionID, Key: key, Value: value, ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get reads a key, returning apperr.NotFound if it is absent or expired.
func (s *Store) Get(sessionID, key string) (model.ScratchpadEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.entries[sessionID]
	if !ok {
		return model.ScratchpadEntry{}, apperr.New(apperr.NotFound, "no scratchpad entries for session %q", sessionID)
	}
	entry, ok := session[key]
	if !ok || entry.Expired(time.Now()) {
		return model.ScratchpadEntry{}, apperr.New(apperr.NotFound, "scratchpad key %q not found", key)
	}
	return entry, nil
}

// Delete removes a key explicitly, ahead of its TTL.
func (s *Store) Delete(sessionID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.entries[sessionID]; ok {
		delete(session, key)
		if len(session) == 0 {
			delete(s.entries, sessionID)
		}
	}
}

// List returns every live (non-expired) entry for a session.
func (s *Store) List(sessionID string) []model.ScratchpadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.entries[sessionID]
	if !ok {
		return nil
	}
	now := time.Now()
	out := make([]model.ScratchpadEntry, 0, len(session))
	for _, e := range session {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

// Sweep removes every expired entry across every session, returning the
// count removed. Intended to run on a config.ScratchpadSweepEvery ticker.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sessionID, session := range s.entries {
		for key, e := range session {
			if e.Expired(now) {
				delete(session, key)
				removed++
			}
		}
		if len(session) == 0 {
			delete(s.entries, sessionID)
		}
	}
	return removed
}
