package orchestrate

// ExtractAgentMessage searches a decoded run payload for the agent's reply
// text. The run shape is not pinned down by the API docs, so this walks the
// structure in two passes: first looking for an assistant-role message
// anywhere in the payload, then falling back to the content keys commonly
// used by conversational APIs. The assistant pass runs first so a user
// message echoed back in the payload is never mistaken for the reply.
func ExtractAgentMessage(payload any) (string, bool) {
	if s, ok := findAssistantMessage(payload); ok {
		return s, true
	}
	return findByContentKeys(payload)
}

var contentKeys = []string{"message", "messages", "content", "output", "text", "result"}

func findAssistantMessage(v any) (string, bool) {
	switch node := v.(type) {
	case map[string]any:
		if role, ok := node["role"].(string); ok && role == "assistant" {
			for _, k := range []string{"content", "message", "text"} {
				if s, ok := textFrom(node[k]); ok {
					return s, true
				}
			}
		}
		for _, child := range node {
			if s, ok := findAssistantMessage(child); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range node {
			if s, ok := findAssistantMessage(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

func findByContentKeys(v any) (string, bool) {
	switch node := v.(type) {
	case map[string]any:
		for _, k := range contentKeys {
			child, ok := node[k]
			if !ok {
				continue
			}
			if s, ok := child.(string); ok && s != "" {
				return s, true
			}
			if s, ok := findByContentKeys(child); ok {
				return s, true
			}
		}
		for _, child := range node {
			if s, ok := findByContentKeys(child); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range node {
			if s, ok := findByContentKeys(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

// textFrom digs the first non-empty text out of a message content value,
// which may be a plain string or a list of typed content blocks.
func textFrom(v any) (string, bool) {
	switch c := v.(type) {
	case string:
		if c != "" {
			return c, true
		}
	case map[string]any:
		for _, k := range []string{"text", "content", "message"} {
			if s, ok := textFrom(c[k]); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range c {
			if s, ok := textFrom(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

// firstString returns the first of the given keys present in m as a
// non-empty string.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
