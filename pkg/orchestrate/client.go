package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPollInterval is the fixed delay between run status polls.
	DefaultPollInterval = 2 * time.Second
	// DefaultRunTimeout is the hard wall-clock deadline for a single run,
	// measured from submission.
	DefaultRunTimeout = 60 * time.Second
)

// Client talks to a single watsonx Orchestrate instance. It submits runs,
// polls them to completion and lists agents. All calls are synchronous; the
// poll loop blocks the calling goroutine until the run leaves the running
// state or the deadline elapses.
type Client struct {
	instanceURL  string
	tokens       TokenSource
	httpClient   *http.Client
	pollInterval time.Duration
	runTimeout   time.Duration
	logger       zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithPollInterval(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.pollInterval = d
		}
	}
}

func WithRunTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.runTimeout = d
		}
	}
}

// WithTokenSource replaces the default IAM provider, mainly for tests.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(cl *Client) { cl.tokens = ts }
}

func NewClient(creds Credentials, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(creds.InstanceURL) == "" {
		return nil, errors.New("instance URL is required")
	}
	c := &Client{
		instanceURL:  strings.TrimRight(creds.InstanceURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
		runTimeout:   DefaultRunTimeout,
		logger:       log.With().Str("component", "orchestrate").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		provider, err := NewIAMTokenProvider(creds.APIKey, WithTokenHTTPClient(c.httpClient))
		if err != nil {
			return nil, err
		}
		c.tokens = provider
	}
	return c, nil
}

// SubmitAndAwait sends one user message to the given agent and blocks until
// the resulting run terminates. A fresh bearer token is fetched for every
// submission and reused for the polls of that run. threadID may be empty on
// the first message of a session; the returned thread id must then be passed
// on every subsequent call so the service keeps the conversational context.
func (c *Client) SubmitAndAwait(ctx context.Context, message, agentID, threadID string) (string, string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", "", err
	}

	run, err := c.submitRun(ctx, token, message, agentID, threadID)
	if err != nil {
		return "", "", err
	}
	if threadID == "" {
		threadID = run.ThreadID
	}

	c.logger.Debug().Str("run_id", run.RunID).Str("thread_id", threadID).Msg("run submitted, polling")
	reply, err := c.awaitRun(ctx, token, run.RunID)
	if err != nil {
		return "", threadID, err
	}
	return reply, threadID, nil
}

func (c *Client) submitRun(ctx context.Context, token, message, agentID, threadID string) (*Run, error) {
	payload := map[string]any{
		"message":  Message{Role: "user", Content: message},
		"agent_id": agentID,
	}
	if threadID != "" {
		payload["thread_id"] = threadID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &RunSubmitError{Err: errors.Wrap(err, "marshal run payload")}
	}

	u := c.instanceURL + "/v1/orchestrate/runs?stream=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, &RunSubmitError{Err: errors.Wrap(err, "build run request")}
	}
	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RunSubmitError{Err: errors.Wrap(err, "run request failed")}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RunSubmitError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read run response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RunSubmitError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &RunSubmitError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errors.Wrap(err, "parse run response")}
	}
	run := &Run{
		RunID:    firstString(parsed, "run_id", "runId"),
		ThreadID: firstString(parsed, "thread_id", "threadId"),
		Payload:  parsed,
	}
	if run.RunID == "" {
		return nil, &RunSubmitError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errors.New("run response has no run_id")}
	}
	return run, nil
}

// GetRun fetches the current state of a run. A fresh token is obtained for
// the call; use awaitRun when polling an already submitted run.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.getRun(ctx, token, runID)
}

func (c *Client) getRun(ctx context.Context, token, runID string) (*Run, error) {
	u := fmt.Sprintf("%s/v1/orchestrate/runs/%s", c.instanceURL, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build run poll request")
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "run poll failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read run poll response")
	}
	if resp.StatusCode == http.StatusNotFound {
		// A run that disappears mid-poll is a terminal failure.
		return nil, &RunError{RunID: runID, Status: "missing", Detail: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("run poll returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse run poll response")
	}
	return &Run{
		RunID:    runID,
		ThreadID: firstString(parsed, "thread_id", "threadId"),
		Status:   firstString(parsed, "status", "state", "run_status"),
		Payload:  parsed,
	}, nil
}

// awaitRun polls the run at a fixed interval until it leaves the running
// state. The deadline is measured in wall-clock time from the first poll; no
// request is issued after it elapses.
func (c *Client) awaitRun(ctx context.Context, token, runID string) (string, error) {
	start := time.Now()
	for {
		run, err := c.getRun(ctx, token, runID)
		if err != nil {
			return "", err
		}

		switch classifyStatus(run.Status) {
		case outcomeRunning:
			// fall through to the deadline check below
		case outcomeSuccess:
			reply, ok := ExtractAgentMessage(run.Payload)
			if !ok {
				return "", &RunError{RunID: runID, Status: run.Status, Detail: "run completed without an agent message"}
			}
			return reply, nil
		case outcomeFailure:
			return "", &RunError{
				RunID:  runID,
				Status: run.Status,
				Detail: firstString(run.Payload, "error", "detail", "reason", "message"),
			}
		case outcomeUnknown:
			// The service's status vocabulary is open-ended: a terminal
			// status we do not recognize still counts as success when it
			// carries an agent message.
			if reply, ok := ExtractAgentMessage(run.Payload); ok {
				return reply, nil
			}
			return "", &RunError{
				RunID:  runID,
				Status: run.Status,
				Detail: firstString(run.Payload, "error", "detail", "reason"),
			}
		}

		if elapsed := time.Since(start); elapsed >= c.runTimeout {
			c.logger.Warn().Str("run_id", runID).Dur("waited", elapsed).Msg("run poll deadline exceeded")
			return "", &RunTimeoutError{RunID: runID, Waited: elapsed}
		}
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "run poll cancelled")
		case <-time.After(c.pollInterval):
		}
	}
}

// ListAgents fetches the agent descriptors of the instance. The endpoint is
// operator tooling; the chat flow never calls it.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := c.instanceURL + "/v1/orchestrate/agents"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build agent list request")
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "agent list request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read agent list response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("agent list returned status %d: %s", resp.StatusCode, string(body))
	}

	// The endpoint has been observed returning both a bare array and an
	// object wrapping it under "agents".
	var agents []Agent
	if err := json.Unmarshal(body, &agents); err == nil {
		return agents, nil
	}
	var wrapped struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, errors.Wrap(err, "parse agent list response")
	}
	return wrapped.Agents, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}
