package chat

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := NewSessionManager(&fakeRelay{reply: "x"}, "agent-1")

	s1 := sm.GetOrCreate("s1")
	require.Same(t, s1, sm.GetOrCreate("s1"))
	require.Equal(t, 1, sm.Len())

	s2 := sm.GetOrCreate("")
	require.NotEmpty(t, s2.ID)
	require.NotSame(t, s1, s2)
	require.Equal(t, 2, sm.Len())
}

func TestSessionManager_Get(t *testing.T) {
	sm := NewSessionManager(&fakeRelay{}, "agent-1")
	_, ok := sm.Get("nope")
	require.False(t, ok)

	created := sm.GetOrCreate("s1")
	got, ok := sm.Get("s1")
	require.True(t, ok)
	require.Same(t, created, got)
}

func TestSessionManager_EvictsIdleSessions(t *testing.T) {
	sm := NewSessionManager(&fakeRelay{reply: "x", threadID: "t"}, "agent-1")
	sm.SetEvictionConfig(10*time.Millisecond, time.Hour)

	stale := sm.GetOrCreate("stale")
	fresh := sm.GetOrCreate("fresh")

	time.Sleep(20 * time.Millisecond)
	fresh.touch()

	evicted := sm.evictIdleOnce(time.Now())
	require.Equal(t, 1, evicted)
	_, ok := sm.Get(stale.ID)
	require.False(t, ok)
	_, ok = sm.Get("fresh")
	require.True(t, ok)
}

func TestSessionManager_DoesNotEvictBusySessions(t *testing.T) {
	relay := &blockingRelay{release: make(chan struct{})}
	sm := NewSessionManager(relay, "agent-1")
	sm.SetEvictionConfig(time.Nanosecond, time.Hour)

	s := sm.GetOrCreate("busy")
	done := make(chan struct{})
	go func() {
		_, _ = s.Send(context.Background(), "long run")
		close(done)
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.busy
	}, time.Second, time.Millisecond)

	require.Equal(t, 0, sm.evictIdleOnce(time.Now()))
	_, ok := sm.Get("busy")
	require.True(t, ok)

	close(relay.release)
	<-done
}

func TestSessionManager_EvictionSkipsRecreatedSession(t *testing.T) {
	sm := NewSessionManager(&fakeRelay{reply: "x"}, "agent-1")
	sm.SetEvictionConfig(time.Nanosecond, time.Hour)

	stale := sm.GetOrCreate("s1")
	sm.Remove("s1")
	recreated := sm.GetOrCreate("s1")
	require.NotSame(t, stale, recreated)

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	// the sweep holds a stale pointer; the recreated session must survive
	require.False(t, sm.evictIfCurrent(stale))
	got, ok := sm.Get("s1")
	require.True(t, ok)
	require.Same(t, recreated, got)
	require.NotContains(t, buf.String(), "idle session evicted")

	require.True(t, sm.evictIfCurrent(recreated))
	_, ok = sm.Get("s1")
	require.False(t, ok)
	require.Contains(t, buf.String(), "idle session evicted")
}
