package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	calls int
	mu    sync.Mutex
}

func (s *staticTokens) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.token, nil
}

// runServer fakes the orchestrate run endpoints: one POST to create a run
// and a scripted sequence of poll responses.
type runServer struct {
	t            *testing.T
	mu           sync.Mutex
	submitBodies []map[string]any
	pollBodies   []string
	pollCount    int
	threadID     string
}

func (rs *runServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orchestrate/runs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(rs.t, "false", r.URL.Query().Get("stream"))
		require.Equal(rs.t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(rs.t, json.NewDecoder(r.Body).Decode(&body))
		rs.mu.Lock()
		rs.submitBodies = append(rs.submitBodies, body)
		rs.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"run_id":"r1","thread_id":%q}`, rs.threadID)
	})
	mux.HandleFunc("GET /v1/orchestrate/runs/r1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(rs.t, "Bearer tok", r.Header.Get("Authorization"))
		rs.mu.Lock()
		idx := rs.pollCount
		rs.pollCount++
		rs.mu.Unlock()
		if idx >= len(rs.pollBodies) {
			idx = len(rs.pollBodies) - 1
		}
		_, _ = w.Write([]byte(rs.pollBodies[idx]))
	})
	return mux
}

func (rs *runServer) polls() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.pollCount
}

func newTestClient(t *testing.T, srvURL string, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{
		WithTokenSource(&staticTokens{token: "tok"}),
		WithPollInterval(5 * time.Millisecond),
		WithRunTimeout(250 * time.Millisecond),
	}, opts...)
	c, err := NewClient(Credentials{InstanceURL: srvURL, APIKey: "k", AgentID: "a"}, opts...)
	require.NoError(t, err)
	return c
}

func TestSubmitAndAwait_AdoptsThreadID(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{
		`{"status":"completed","result":{"role":"assistant","content":"hello there"}}`,
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	reply, threadID, err := c.SubmitAndAwait(context.Background(), "hi", "agent-1", "")
	require.NoError(t, err)
	require.Equal(t, "hello there", reply)
	require.Equal(t, "t1", threadID)

	require.Len(t, rs.submitBodies, 1)
	_, hasThread := rs.submitBodies[0]["thread_id"]
	require.False(t, hasThread, "first submit must omit thread_id")
	msg, ok := rs.submitBodies[0]["message"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "user", msg["role"])
	require.Equal(t, "hi", msg["content"])
	require.Equal(t, "agent-1", rs.submitBodies[0]["agent_id"])
}

func TestSubmitAndAwait_ReusesExistingThreadID(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{
		`{"status":"completed","result":{"role":"assistant","content":"ok"}}`,
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, threadID, err := c.SubmitAndAwait(context.Background(), "again", "agent-1", "t0")
	require.NoError(t, err)
	require.Equal(t, "t0", threadID, "existing thread id wins over the returned one")
	require.Equal(t, "t0", rs.submitBodies[0]["thread_id"])
}

func TestSubmitAndAwait_PollsUntilCompleted(t *testing.T) {
	running := `{"status":"running"}`
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{
		running, running, running,
		`{"status":"completed","output":{"messages":[{"role":"assistant","content":"hi"}]}}`,
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	reply, threadID, err := c.SubmitAndAwait(context.Background(), "q", "agent-1", "")
	require.NoError(t, err)
	require.Equal(t, "hi", reply)
	require.Equal(t, "t1", threadID)
	require.Equal(t, 4, rs.polls(), "three running polls plus the terminal one")
}

func TestSubmitAndAwait_TimesOut(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{`{"status":"running"}`}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithRunTimeout(30*time.Millisecond), WithPollInterval(10*time.Millisecond))
	_, _, err := c.SubmitAndAwait(context.Background(), "q", "agent-1", "")
	var timeoutErr *RunTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "r1", timeoutErr.RunID)

	// no request is issued after the deadline
	count := rs.polls()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, count, rs.polls())
}

func TestSubmitAndAwait_RunFailure(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{
		`{"status":"failed","error":"boom"}`,
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.SubmitAndAwait(context.Background(), "q", "agent-1", "")
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "boom", runErr.Detail)
}

func TestSubmitAndAwait_RunDisappears(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orchestrate/runs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"run_id":"r1","thread_id":"t1"}`))
	})
	mux.HandleFunc("GET /v1/orchestrate/runs/r1", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such run", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.SubmitAndAwait(context.Background(), "q", "agent-1", "")
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
}

func TestSubmitAndAwait_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"unknown agent"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.SubmitAndAwait(context.Background(), "q", "nope", "")
	var submitErr *RunSubmitError
	require.ErrorAs(t, err, &submitErr)
	require.Equal(t, http.StatusBadRequest, submitErr.StatusCode)
	require.Contains(t, submitErr.Body, "unknown agent")
}

func TestSubmitAndAwait_MalformedSubmitResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"thread_id":"t1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.SubmitAndAwait(context.Background(), "q", "agent-1", "")
	var submitErr *RunSubmitError
	require.ErrorAs(t, err, &submitErr)
}

func TestSubmitAndAwait_FetchesTokenPerSubmission(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{
		`{"status":"running"}`,
		`{"status":"completed","result":{"role":"assistant","content":"ok"}}`,
	}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	tokens := &staticTokens{token: "tok"}
	c := newTestClient(t, srv.URL, WithTokenSource(tokens))
	_, _, err := c.SubmitAndAwait(context.Background(), "a", "agent-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, tokens.calls, "one token per submission, reused for polls")
}

func TestSubmitAndAwait_ContextCancelDuringPoll(t *testing.T) {
	rs := &runServer{t: t, threadID: "t1", pollBodies: []string{`{"status":"running"}`}}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL, WithPollInterval(time.Hour), WithRunTimeout(time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	done := make(chan error, 1)
	go func() {
		_, _, err := c.SubmitAndAwait(ctx, "q", "agent-1", "")
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock the poll loop")
	}
}

func TestListAgents(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/orchestrate/agents", r.URL.Path)
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[{"id":"a1","name":"survey","status":"live"}]`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		agents, err := c.ListAgents(context.Background())
		require.NoError(t, err)
		require.Len(t, agents, 1)
		require.Equal(t, "a1", agents[0].ID)
		require.Equal(t, "survey", agents[0].Name)
	})

	t.Run("wrapped object", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"agents":[{"id":"a2","name":"hr"}]}`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		agents, err := c.ListAgents(context.Background())
		require.NoError(t, err)
		require.Len(t, agents, 1)
		require.Equal(t, "a2", agents[0].ID)
	})
}

func TestGetRun(t *testing.T) {
	t.Run("running run", func(t *testing.T) {
		rs := &runServer{t: t, pollBodies: []string{
			`{"status":"running","thread_id":"t9"}`,
		}}
		srv := httptest.NewServer(rs.handler())
		defer srv.Close()

		tokens := &staticTokens{token: "tok"}
		c := newTestClient(t, srv.URL, WithTokenSource(tokens))
		run, err := c.GetRun(context.Background(), "r1")
		require.NoError(t, err)
		require.Equal(t, "r1", run.RunID)
		require.Equal(t, "t9", run.ThreadID)
		require.Equal(t, StatusRunning, run.Status)
		require.Equal(t, 1, tokens.calls)
	})

	t.Run("missing run", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.GetRun(context.Background(), "gone")
		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		require.Equal(t, "gone", runErr.RunID)
	})
}
