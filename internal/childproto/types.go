// Package childproto defines the request/response envelope spoken to the
// downstream child process (spec.md §6.3): a "start" call that opens a
// continuation and a "reply" call that resumes one, both returning a
// result whose content may be a plain string or a sequence of text
// fragments.
package childproto

import "encoding/json"

// MCPServerConfig points the downstream agent at the Comms Service,
// with the calling agent's id and identity token embedded in the URL.
type MCPServerConfig struct {
	URL string `json:"url"`
}

// StartConfig is the nested "config" object of a start call.
type StartConfig struct {
	ReasoningEffort string                     `json:"reasoning_effort"`
	Search          bool                       `json:"search"`
	MCPServers      map[string]MCPServerConfig `json:"mcp_servers"`
}

// StartParams opens a new continuation for an agent.
type StartParams struct {
	Prompt           string      `json:"prompt"`
	Model            string      `json:"model"`
	ApprovalPolicy   string      `json:"approval_policy"`
	Sandbox          string      `json:"sandbox"`
	Cwd              string      `json:"cwd"`
	BaseInstructions string      `json:"base_instructions,omitempty"`
	Config           StartConfig `json:"config"`
}

// ReplyParams resumes an existing continuation.
type ReplyParams struct {
	Prompt       string `json:"prompt"`
	Continuation string `json:"continuation"`
}

// Result is the downstream's reply to both start and reply calls.
type Result struct {
	Continuation string          `json:"continuation"`
	Content      json.RawMessage `json:"content"`
}

// Fragment is one element of a content array, the alternate shape the
// downstream may use instead of a single string.
type Fragment struct {
	Text string `json:"text"`
}
