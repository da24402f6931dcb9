package webchat

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/orchestrino/pkg/chat"
)

// RouterConfig carries the settings the serve command resolves from flags
// and viper.
type RouterConfig struct {
	Addr                 string
	AgentID              string
	EvictIdleSeconds     int
	EvictIntervalSeconds int
}

// Router owns the HTTP surface of the chat front-end: message submission,
// transcript hydration, websocket attachment and the embedded UI. Each
// browser session is pinned to its own chat.Session via a cookie, so thread
// ids never leak across sessions.
type Router struct {
	cfg      RouterConfig
	mux      *http.ServeMux
	sessions *chat.SessionManager
	pools    *poolSet
	staticFS fs.FS
	logger   zerolog.Logger
}

func NewRouter(relay chat.Relay, cfg RouterConfig, staticFS fs.FS) (*Router, error) {
	if relay == nil {
		return nil, errors.New("relay is nil")
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, errors.New("agent id is required")
	}
	r := &Router{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		sessions: chat.NewSessionManager(relay, cfg.AgentID),
		pools:    newPoolSet(),
		staticFS: staticFS,
		logger:   log.With().Str("component", "webchat").Logger(),
	}
	r.sessions.SetEvictionConfig(
		time.Duration(cfg.EvictIdleSeconds)*time.Second,
		time.Duration(cfg.EvictIntervalSeconds)*time.Second,
	)
	r.registerHandlers()
	return r, nil
}

func (r *Router) registerHandlers() {
	r.mux.HandleFunc("/chat", r.handleChat)
	r.mux.HandleFunc("/api/transcript", r.handleTranscript)
	r.mux.HandleFunc("/ws", r.handleWS)
	r.registerUIHandler()
}

func (r *Router) registerUIHandler() {
	if r.staticFS == nil {
		r.logger.Warn().Msg("static FS not configured; UI handler disabled")
		return
	}
	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(w, req)
			return
		}
		b, err := fs.ReadFile(r.staticFS, "static/index.html")
		if err != nil {
			r.logger.Error().Err(err).Msg("index not found in embedded FS")
			http.Error(w, "index not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})
}

// Handler returns the router mux.
func (r *Router) Handler() http.Handler { return r.mux }

// Mount attaches all handlers to a parent mux with the given prefix.
// http.ServeMux does not strip prefixes, so StripPrefix is applied
// explicitly.
func (r *Router) Mount(mux *http.ServeMux, prefix string) {
	if prefix == "" || prefix == "/" {
		mux.Handle("/", r.mux)
		return
	}
	prefix = strings.TrimRight(prefix, "/")
	mux.Handle(prefix+"/", http.StripPrefix(prefix, r.mux))
	mux.HandleFunc(prefix, func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, prefix+"/", http.StatusPermanentRedirect)
	})
}

// BuildHTTPServer constructs an http.Server for the router. The write
// timeout leaves headroom above the run poll deadline so a slow agent does
// not sever the response mid-flight.
func (r *Router) BuildHTTPServer() *http.Server {
	return &http.Server{
		Addr:              r.cfg.Addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Run starts the session eviction loop and blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	r.sessions.StartEvictionLoop(ctx)
	<-ctx.Done()
	r.pools.CloseAll()
}
