package engine

import (
	"fmt"

	"github.com/roach88/puk/internal/playbook"
	"github.com/roach88/puk/internal/sandbox"
)

// pathKeys are the tool parameter names inspected for filesystem targets.
// Extraction is heuristic on purpose: the policy must hold for any tool the
// runtime invokes, not only the builtin catalog.
var pathKeys = []string{"path", "paths", "file", "files", "src", "dst", "target", "output"}

// Policy gates tool calls for one invocation. It is the single place
// mutation is allowed or blocked; no other layer is trusted to enforce the
// write scope.
type Policy struct {
	mode     playbook.Mode
	root     string
	scope    *sandbox.Scope
	mutating map[string]bool
	allowed  map[string]bool
}

// NewPolicy builds the interception policy for the given mode, sandbox root,
// compiled write scope, and capability set.
func NewPolicy(mode playbook.Mode, root string, scope *sandbox.Scope, tools []Tool) *Policy {
	p := &Policy{
		mode:     mode,
		root:     root,
		scope:    scope,
		mutating: make(map[string]bool, len(catalog)),
		allowed:  make(map[string]bool, len(tools)),
	}
	for _, t := range catalog {
		p.mutating[t.Name] = t.Mutating
	}
	for _, t := range tools {
		p.allowed[t.Name] = true
		p.mutating[t.Name] = t.Mutating
	}
	return p
}

// Check decides whether a tool call may execute. A nil return allows it.
func (p *Policy) Check(name string, params map[string]any) *Denial {
	if !p.allowed[name] {
		return &Denial{Reason: fmt.Sprintf("tool %q is not in the allowed tool list", name)}
	}
	if !p.mutating[name] {
		return nil
	}
	if p.mode == playbook.ModePlan {
		return &Denial{Reason: fmt.Sprintf("tool %q mutates the workspace and execution mode is plan", name)}
	}
	for _, target := range ExtractPaths(params) {
		rel, err := sandbox.Rel(target, p.root)
		if err != nil {
			return &Denial{Reason: fmt.Sprintf("path %q escapes the workspace", target)}
		}
		if !p.scope.Matches(rel) {
			return &Denial{Reason: fmt.Sprintf("path %q is outside the write scope %v", rel, p.scope.Patterns())}
		}
	}
	return nil
}

// Intercept exposes Check in the shape the runtime boundary expects.
func (p *Policy) Intercept(name string, params map[string]any) *Denial {
	return p.Check(name, params)
}

// ExtractPaths pulls filesystem targets out of a tool call's parameters by
// inspecting the conventional path-carrying keys. Values may be a single
// string or a list of strings.
func ExtractPaths(params map[string]any) []string {
	var out []string
	for _, key := range pathKeys {
		value, ok := params[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []string:
			for _, s := range v {
				if s != "" {
					out = append(out, s)
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
