package webchat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/orchestrino/pkg/chat"
	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

const sessionCookieName = "orchestrino_session"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	ThreadID  string `json:"thread_id,omitempty"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func sessionCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func sessionIDFromRequest(req *http.Request) string {
	if c, err := req.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// resolveSession pins the request to a session via cookie, allocating a new
// session id when the client has none yet.
func (r *Router) resolveSession(w http.ResponseWriter, req *http.Request) *chat.Session {
	id := sessionIDFromRequest(req)
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, sessionCookie(id))
	}
	return r.sessions.GetOrCreate(id)
}

func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := r.resolveSession(w, req)

	var in chatRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing message", "")
		return
	}

	turn, err := sess.Send(req.Context(), in.Message)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("chat turn failed")
		status, body := classifyChatError(err)
		writeJSON(w, status, body)
		return
	}

	r.broadcastTurn(sess.ID, turn)
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:     turn.Agent,
		ThreadID:  turn.ThreadID,
		SessionID: sess.ID,
	})
}

// classifyChatError maps the client error taxonomy onto HTTP statuses. A
// poll timeout is deliberately a 504 with a soft message: the run may still
// complete remotely and the user should simply try again.
func classifyChatError(err error) (int, errorResponse) {
	var authErr *orchestrate.AuthError
	var submitErr *orchestrate.RunSubmitError
	var runErr *orchestrate.RunError
	var timeoutErr *orchestrate.RunTimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, errorResponse{
			Error:  "the agent is still working on this, try again in a moment",
			Detail: timeoutErr.Error(),
		}
	case errors.As(err, &authErr):
		return http.StatusBadGateway, errorResponse{Error: "failed to obtain IAM token", Detail: authErr.Error()}
	case errors.As(err, &submitErr):
		return http.StatusBadGateway, errorResponse{Error: "failed to start run", Detail: submitErr.Error()}
	case errors.As(err, &runErr):
		return http.StatusBadGateway, errorResponse{Error: "run failed", Detail: runErr.Detail}
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict, errorResponse{Error: "a previous message is still being processed"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "chat turn failed", Detail: err.Error()}
	}
}

func (r *Router) handleTranscript(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := r.resolveSession(w, req)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"thread_id":  sess.ThreadID(),
		"turns":      sess.Transcript(),
	})
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	id := sessionIDFromRequest(req)
	// Upgrade writes the 101 handshake itself, bypassing anything set on
	// the ResponseWriter, so a fresh session cookie has to travel on the
	// handshake response headers or the browser never sees it and the
	// connection lands in an orphaned pool.
	var respHeader http.Header
	if id == "" {
		id = uuid.NewString()
		respHeader = http.Header{}
		respHeader.Add("Set-Cookie", sessionCookie(id).String())
	}
	sess := r.sessions.GetOrCreate(id)
	conn, err := upgrader.Upgrade(w, req, respHeader)
	if err != nil {
		return
	}
	pool := r.pools.GetOrCreate(sess.ID)
	pool.Add(conn)
	r.logger.Debug().Str("session_id", sess.ID).Int("conns", pool.Count()).Msg("websocket attached")

	// reader loop only drains control frames; clients submit over POST /chat
	go func() {
		defer pool.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcastTurn pushes a completed turn to every websocket attached to the
// session.
func (r *Router) broadcastTurn(sessionID string, turn chat.Turn) {
	pool, ok := r.pools.Get(sessionID)
	if !ok || pool.Count() == 0 {
		return
	}
	b, err := json.Marshal(map[string]any{
		"type": "turn",
		"turn": turn,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal turn broadcast")
		return
	}
	pool.Broadcast(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}
