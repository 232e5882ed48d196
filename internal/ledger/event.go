package ledger

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the event type and selects the payload schema carried in
// the event's data field.
type Kind string

const (
	KindSessionStart    Kind = "session.start"
	KindSessionEnd      Kind = "session.end"
	KindUserInput       Kind = "input.user"
	KindContextResolved Kind = "context.resolved"
	KindModelOutput     Kind = "model.output"
	KindToolCall        Kind = "tool.call"
	KindToolResult      Kind = "tool.result"
	KindArtifactWrite   Kind = "artifact.write"
	KindStatusChange    Kind = "status.change"
	KindPlaybookStart   Kind = "playbook.start"
	KindPlaybookPlan    Kind = "playbook.plan"
	KindPlaybookApply   Kind = "playbook.apply"
)

// Event is one immutable fact in a run's timeline. Data holds the
// kind-specific payload; use Payload to decode it into its typed form.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp string          `json:"timestamp"`
	Type      Kind            `json:"type"`
	RunID     string          `json:"run_id"`
	TurnID    *int            `json:"turn_id"`
	Data      json.RawMessage `json:"data"`
}

// Payload types, one per event kind. The event log's data field is a tagged
// union keyed by Kind rather than an open-ended map, so external tooling can
// rely on a fixed schema per kind.

// SessionStart records the beginning of an invocation against the run.
type SessionStart struct {
	Mode      string   `json:"mode"`
	Argv      []string `json:"argv"`
	Workspace string   `json:"workspace"`
	RunID     string   `json:"run_id"`
	Append    bool     `json:"append"`
}

// SessionEnd records the end of an invocation and its outcome.
type SessionEnd struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// UserInput records a prompt supplied by the caller.
type UserInput struct {
	Text string `json:"text"`
}

// ContextItem describes one piece of context handed to the agent runtime.
type ContextItem struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Version    string         `json:"version,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ContextResolved records the context items resolved for a turn, including
// the playbook identity and resolved parameter map for playbook runs.
type ContextResolved struct {
	Items []ContextItem `json:"items"`
}

// ModelOutput records assistant text produced during a turn.
type ModelOutput struct {
	Text string `json:"text"`
}

// ToolCall records a tool invocation requested by the agent runtime.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolResult records the outcome of a tool invocation. Status is "ok",
// "denied", or "error"; Reason carries the denial or error detail.
type ToolResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ArtifactWrite records a file produced inside the run's artifact area or a
// workspace mutation performed by an allowed tool call.
type ArtifactWrite struct {
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

// StatusChange records a manifest status transition.
type StatusChange struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// PlaybookStart records the playbook identity and resolved parameters at the
// moment execution begins.
type PlaybookStart struct {
	ID         string         `json:"id"`
	Version    string         `json:"version"`
	Mode       string         `json:"mode"`
	Parameters map[string]any `json:"parameters"`
}

// PlanStep is one step of a plan produced in plan mode.
type PlanStep struct {
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// PlaybookPlan records the parsed plan produced by a plan-mode run. The plan
// lives in the event payload; plan mode never writes artifacts.
type PlaybookPlan struct {
	Steps []PlanStep `json:"steps"`
	Raw   string     `json:"raw,omitempty"`
}

// PlaybookApply records the start of an apply-mode execution and whether a
// previously produced plan was found for review.
type PlaybookApply struct {
	PlanReviewed bool `json:"plan_reviewed"`
}

// Payload decodes the event's data field into the typed payload for its
// kind. Unknown kinds decode into a map so old readers tolerate new events.
func (e *Event) Payload() (any, error) {
	var target any
	switch e.Type {
	case KindSessionStart:
		target = &SessionStart{}
	case KindSessionEnd:
		target = &SessionEnd{}
	case KindUserInput:
		target = &UserInput{}
	case KindContextResolved:
		target = &ContextResolved{}
	case KindModelOutput:
		target = &ModelOutput{}
	case KindToolCall:
		target = &ToolCall{}
	case KindToolResult:
		target = &ToolResult{}
	case KindArtifactWrite:
		target = &ArtifactWrite{}
	case KindStatusChange:
		target = &StatusChange{}
	case KindPlaybookStart:
		target = &PlaybookStart{}
	case KindPlaybookPlan:
		target = &PlaybookPlan{}
	case KindPlaybookApply:
		target = &PlaybookApply{}
	default:
		target = &map[string]any{}
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return target, nil
}
