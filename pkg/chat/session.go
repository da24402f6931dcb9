package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Relay is the run submission surface a session talks through. It is
// satisfied by *orchestrate.Client.
type Relay interface {
	SubmitAndAwait(ctx context.Context, message, agentID, threadID string) (string, string, error)
}

// Turn is one user/agent exchange kept in the session transcript.
type Turn struct {
	User      string    `json:"user_message"`
	Agent     string    `json:"agent_message"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the per-session mutable state: the server-assigned thread id
// and the displayed transcript. State is session-scoped by construction, so
// two concurrent sessions can never leak thread ids into each other. The
// mutex covers concurrent access from HTTP handlers and broadcasters; the
// relay call itself runs outside the lock so a slow run never blocks reads.
type Session struct {
	ID      string
	relay   Relay
	agentID string

	mu           sync.Mutex
	threadID     string
	transcript   []Turn
	busy         bool
	lastActivity time.Time
}

// ErrBusy is returned when a session already has a run in flight. The core
// polls one run at a time; concurrent sends on the same session are a
// caller bug, not a queueing feature.
var ErrBusy = errors.New("session already has a run in flight")

func NewSession(id string, relay Relay, agentID string) *Session {
	return &Session{
		ID:           id,
		relay:        relay,
		agentID:      agentID,
		lastActivity: time.Now(),
	}
}

// Send relays one user message and blocks until the agent's reply is ready
// or the relay gives up. On the first send the thread id returned by the
// service is adopted and reused for every later send of this session.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, errors.New("empty message")
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Turn{}, ErrBusy
	}
	s.busy = true
	threadID := s.threadID
	s.mu.Unlock()

	reply, newThreadID, err := s.relay.SubmitAndAwait(ctx, text, s.agentID, threadID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastActivity = time.Now()
	if s.threadID == "" && newThreadID != "" {
		s.threadID = newThreadID
	}
	if err != nil {
		return Turn{}, err
	}

	turn := Turn{
		User:      text,
		Agent:     reply,
		ThreadID:  s.threadID,
		Timestamp: time.Now().UTC(),
	}
	s.transcript = append(s.transcript, turn)
	return turn, nil
}

// AdoptThreadID seeds the session with an existing thread id so later sends
// continue that conversation. It is a no-op once a thread is already set.
func (s *Session) AdoptThreadID(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID == "" {
		s.threadID = threadID
	}
}

// ThreadID returns the adopted thread id, empty before the first completed
// send.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Transcript returns a copy of the session's turns, oldest first.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0
	}
	return now.Sub(s.lastActivity)
}
