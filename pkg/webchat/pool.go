package webchat

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// connPool manages the websocket connections attached to one session. It
// centralizes broadcasting and connection error handling so the handler
// logic stays small. Replies are pushed as complete turns; there is no
// token streaming.
type connPool struct {
	sessionID string
	mu        sync.Mutex
	conns     map[*websocket.Conn]struct{}
}

func newConnPool(sessionID string) *connPool {
	return &connPool{
		sessionID: sessionID,
		conns:     map[*websocket.Conn]struct{}{},
	}
}

func (cp *connPool) Add(conn *websocket.Conn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

func (cp *connPool) Remove(conn *websocket.Conn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

func (cp *connPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws broadcast failed, dropping connection")
			delete(cp.conns, conn)
			_ = conn.Close()
		}
	}
	cp.mu.Unlock()
}

func (cp *connPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *connPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		_ = conn.Close()
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
}

// poolSet maps session ids to their connection pools.
type poolSet struct {
	mu    sync.Mutex
	pools map[string]*connPool
}

func newPoolSet() *poolSet {
	return &poolSet{pools: map[string]*connPool{}}
}

func (ps *poolSet) GetOrCreate(sessionID string) *connPool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, ok := ps.pools[sessionID]; ok {
		return p
	}
	p := newConnPool(sessionID)
	ps.pools[sessionID] = p
	return p
}

func (ps *poolSet) Get(sessionID string) (*connPool, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.pools[sessionID]
	return p, ok
}

func (ps *poolSet) CloseAll() {
	ps.mu.Lock()
	pools := make([]*connPool, 0, len(ps.pools))
	for id, p := range ps.pools {
		pools = append(pools, p)
		delete(ps.pools, id)
	}
	ps.mu.Unlock()
	for _, p := range pools {
		p.CloseAll()
	}
}
