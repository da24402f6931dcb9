package orchestrate

import (
	"strings"

	"github.com/pkg/errors"
)

// Credentials carries the static configuration required to talk to a
// watsonx Orchestrate instance. It is resolved once at process start and
// never mutated afterwards.
type Credentials struct {
	// InstanceURL is the service instance base URL, e.g.
	// https://api.eu-de.watson-orchestrate.cloud.ibm.com/instances/xxx.
	InstanceURL string
	// APIKey is the long-lived IBM Cloud API key exchanged for bearer tokens.
	APIKey string
	// AgentID is the default agent messages are routed to.
	AgentID string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.InstanceURL) == "" {
		return errors.New("instance URL is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return errors.New("agent id is required")
	}
	return nil
}

// Message is the wire shape of a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run is the client-side view of an orchestrate run resource. Payload keeps
// the decoded response body so the reply text can be extracted from whatever
// nesting the service chose to use.
type Run struct {
	RunID    string
	ThreadID string
	Status   string
	Payload  map[string]any
}

// Agent describes one entry of the agent listing endpoint. Used by operator
// tooling, not by the chat flow.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Status classification. The service vocabulary is not fully documented;
// "running" is the only status that keeps the poll loop going, and the
// failure set covers the spellings observed in the wild.
const StatusRunning = "running"

type runOutcome int

const (
	outcomeRunning runOutcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeUnknown
)

func classifyStatus(status string) runOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusRunning:
		return outcomeRunning
	case "completed", "success", "succeeded", "done":
		return outcomeSuccess
	case "failed", "error", "errored", "cancelled", "canceled":
		return outcomeFailure
	default:
		return outcomeUnknown
	}
}
