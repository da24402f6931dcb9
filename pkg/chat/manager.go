package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionManager stores all live sessions for the HTTP front-end. Sessions
// are created on demand, looked up by id, and evicted after an idle period
// so a long-running server does not accumulate abandoned transcripts.
type SessionManager struct {
	relay   Relay
	agentID string

	mu            sync.Mutex
	sessions      map[string]*Session
	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewSessionManager(relay Relay, agentID string) *SessionManager {
	return &SessionManager{
		relay:    relay,
		agentID:  agentID,
		sessions: map[string]*Session{},
	}
}

// GetOrCreate returns the session with the given id, creating it if needed.
// An empty id allocates a fresh one.
func (sm *SessionManager) GetOrCreate(id string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := sm.sessions[id]; ok {
		s.touch()
		return s
	}
	s := NewSession(id, sm.relay, sm.agentID)
	sm.sessions[id] = s
	log.Debug().Str("component", "chat").Str("session_id", id).Msg("session created")
	return s
}

// Get returns the session with the given id, if it exists.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	return s, ok
}

func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()
}

func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

func (sm *SessionManager) SetEvictionConfig(idle, interval time.Duration) {
	sm.mu.Lock()
	sm.evictIdle = idle
	sm.evictInterval = interval
	sm.mu.Unlock()
}

// StartEvictionLoop runs the idle sweep until ctx is cancelled. It is a
// no-op when eviction is not configured.
func (sm *SessionManager) StartEvictionLoop(ctx context.Context) {
	sm.mu.Lock()
	if sm.evictRunning || sm.evictIdle <= 0 || sm.evictInterval <= 0 {
		sm.mu.Unlock()
		return
	}
	sm.evictRunning = true
	interval := sm.evictInterval
	sm.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				sm.mu.Lock()
				sm.evictRunning = false
				sm.mu.Unlock()
				return
			case now := <-ticker.C:
				sm.evictIdleOnce(now)
			}
		}
	}()
}

func (sm *SessionManager) evictIdleOnce(now time.Time) int {
	sm.mu.Lock()
	idle := sm.evictIdle
	candidates := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		candidates = append(candidates, s)
	}
	sm.mu.Unlock()
	if idle <= 0 {
		return 0
	}

	evicted := 0
	for _, s := range candidates {
		if s.idleSince(now) < idle {
			continue
		}
		if sm.evictIfCurrent(s) {
			evicted++
		}
	}
	return evicted
}

// evictIfCurrent deletes s from the registry unless the id was recreated
// since the caller snapshotted it; a recreated session survives and nothing
// is logged.
func (sm *SessionManager) evictIfCurrent(s *Session) bool {
	sm.mu.Lock()
	current, ok := sm.sessions[s.ID]
	deleted := ok && current == s
	if deleted {
		delete(sm.sessions, s.ID)
	}
	sm.mu.Unlock()
	if deleted {
		log.Debug().Str("component", "chat").Str("session_id", s.ID).Msg("idle session evicted")
	}
	return deleted
}
