// Package letta is a typed client for the Letta agent platform: agent,
// project, and tool operations plus streamed message delivery, all
// authenticated per call with the acting user's credential.
package letta

// Agent is a remote stateful agent visible to a credential.
type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id,omitempty"`
}

// Project is a namespace scoping which agents are visible.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Tool is a capability that can be attached to an agent.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AgentOverview bundles an agent with its attached tools.
type AgentOverview struct {
	Agent Agent
	Tools []Tool
}

// AttachOutcome distinguishes "changed state" from "already in the
// desired state" for tool attach/detach.
type AttachOutcome int

const (
	// OutcomeChanged means the attach or detach took effect.
	OutcomeChanged AttachOutcome = iota
	// OutcomeAlreadyAttached means the tool was attached before the call.
	OutcomeAlreadyAttached
	// OutcomeNotAttached means a detach found the tool absent.
	OutcomeNotAttached
)

// EventKind discriminates stream events.
type EventKind int

const (
	// EventAssistant carries a chunk of the agent's reply text.
	EventAssistant EventKind = iota
	// EventReasoning carries a chunk of the agent's internal reasoning.
	EventReasoning
	// EventToolCall announces a tool invocation starting.
	EventToolCall
	// EventToolResult carries a tool invocation's outcome.
	EventToolResult
	// EventSystemAlert carries a platform-side notice.
	EventSystemAlert
	// EventEnd marks the end of the stream.
	EventEnd
)

// StreamEvent is one discriminated unit of an agent's in-progress
// response. The stream is lazy, finite, and non-restartable; callers
// accumulate what they need as events arrive.
type StreamEvent struct {
	Kind     EventKind
	Text     string // assistant or reasoning content, alert message
	ToolName string
	ToolArgs string // raw JSON arguments for EventToolCall
	Status   string // tool return status for EventToolResult
}
