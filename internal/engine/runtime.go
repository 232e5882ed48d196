package engine

import "context"

// Runtime is the external agent-runtime collaborator. It accepts a prompt and
// a declared capability set, performs the reasoning and tool execution, and
// streams back what happened. The engine never calls tools itself; it gates
// each invocation through the Intercept hook and records the stream into the
// ledger.
type Runtime interface {
	Run(ctx context.Context, req Request) (Stream, error)
}

// Request is the engine's input to the runtime for one turn.
type Request struct {
	Prompt string

	// Tools is the capability set the runtime may invoke. In plan mode the
	// engine hands over a set with every mutating tool already pruned.
	Tools []Tool

	// Intercept is consulted by the runtime before executing any tool call.
	// A non-nil Denial means the call must not execute; the runtime reports
	// it back as a failed tool result instead.
	Intercept InterceptFunc
}

// InterceptFunc decides whether a tool call may execute. It returns nil to
// allow the call.
type InterceptFunc func(name string, params map[string]any) *Denial

// Denial explains why a tool call was blocked.
type Denial struct {
	Reason string
}

// Stream yields runtime events one at a time in the order they occurred.
// Next returns io.EOF after the terminal event has been consumed.
type Stream interface {
	Next(ctx context.Context) (RuntimeEvent, error)
}

// RuntimeEvent is one of TextOutput, ToolInvocation, or ToolOutcome.
type RuntimeEvent interface {
	runtimeEvent()
}

// TextOutput carries assistant text produced by the model.
type TextOutput struct {
	Text string
}

// ToolInvocation announces a tool call the runtime is about to execute (or
// deny, if the interception hook blocks it).
type ToolInvocation struct {
	Name   string
	Params map[string]any
}

// ToolOutcome reports how a tool call ended. Status is "ok", "denied", or
// "error"; Reason carries the denial or failure detail.
type ToolOutcome struct {
	Name   string
	Params map[string]any
	Status string
	Output string
	Reason string
}

func (TextOutput) runtimeEvent()     {}
func (ToolInvocation) runtimeEvent() {}
func (ToolOutcome) runtimeEvent()    {}
