package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resourcewise/resourcewise/internal/intent"
)

type session struct {
	exchanges []intent.Exchange
	lastSeen  time.Time
}

// SessionStore keeps the recent question/answer turns per session so
// follow-up messages can be resolved. Everything is in-memory: losing a
// session costs conversational context only, never data.
type SessionStore struct {
	mu    sync.Mutex
	limit int
	byID  map[string]*session
	now   func() time.Time
}

func NewSessionStore(historyTurns int) *SessionStore {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	return &SessionStore{
		limit: historyTurns,
		byID:  map[string]*session{},
		now:   time.Now,
	}
}

// Ensure returns the given session id or mints a fresh one.
func (s *SessionStore) Ensure(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// History returns a copy of the retained exchanges for the session.
func (s *SessionStore) History(id string) []intent.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil
	}
	history := make([]intent.Exchange, len(entry.exchanges))
	copy(history, entry.exchanges)
	return history
}

// Append records a completed turn, trimming to the retention limit.
func (s *SessionStore) Append(id string, exchange intent.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		entry = &session{}
		s.byID[id] = entry
	}
	entry.exchanges = append(entry.exchanges, exchange)
	if overflow := len(entry.exchanges) - s.limit; overflow > 0 {
		entry.exchanges = entry.exchanges[overflow:]
	}
	entry.lastSeen = s.now()
}

// PruneLoop prunes idle sessions every interval until ctx is cancelled.
// Run it in its own goroutine alongside the server.
func (s *SessionStore) PruneLoop(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(maxIdle)
		}
	}
}

// Prune drops sessions idle for longer than maxIdle and reports how many
// were removed.
func (s *SessionStore) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for id, entry := range s.byID {
		if entry.lastSeen.Before(cutoff) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed
}
