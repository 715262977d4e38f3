package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/filter"
)

// Store manages the live sessions. Sessions are created on demand the
// first time an ID is seen, so a restarted client keeps its server-side
// state as long as it presents the same session ID.
type Store struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *filter.Engine

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore(bus domain.EventBus, repo domain.Repository, engine *filter.Engine) *Store {
	return &Store{
		bus:      bus,
		repo:     repo,
		engine:   engine,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for an ID, creating it on first use. A blank
// ID gets a fresh UUID.
func (st *Store) Get(sessionID string) *Session {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	st.mu.RLock()
	s, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.sessions[sessionID]; ok {
		return s
	}
	s = newSession(sessionID, st.bus, st.repo, st.engine)
	st.sessions[sessionID] = s
	return s
}

// Lookup returns the session for an ID without creating one.
func (st *Store) Lookup(sessionID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[sessionID]
	return s, ok
}

// Delete removes a session from the store.
func (st *Store) Delete(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionID)
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// RegenerationSnapshot satisfies the recompute controller's snapshotter:
// it resolves the session and captures its current filtered state.
func (st *Store) RegenerationSnapshot(ctx context.Context, sessionID string) (*domain.RegenerationRequest, error) {
	s, ok := st.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return s.RegenerationSnapshot(ctx)
}
