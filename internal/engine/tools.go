package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/puk/internal/playbook"
)

// Tool describes one capability in the builtin catalog. Mutating tools are
// the only ones that can change the workspace; the interception policy keys
// off this flag.
type Tool struct {
	Name        string
	Description string
	Mutating    bool
	Schema      map[string]any
}

func pathSchema(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"path"},
	}
}

var catalog = []Tool{
	{
		Name:        "fs.list",
		Description: "List the entries of a directory inside the workspace.",
		Schema:      pathSchema("Directory path relative to the workspace."),
	},
	{
		Name:        "fs.read",
		Description: "Read a file inside the workspace.",
		Schema:      pathSchema("File path relative to the workspace."),
	},
	{
		Name:        "fs.search",
		Description: "Search workspace files for a pattern.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string", "description": "Directory to search under."},
			},
			"required": []string{"pattern"},
		},
	},
	{
		Name:        "fs.write",
		Description: "Write a file inside the workspace write scope.",
		Mutating:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	},
	{
		Name:        "fs.delete",
		Description: "Delete a file inside the workspace write scope.",
		Mutating:    true,
		Schema:      pathSchema("File path relative to the workspace."),
	},
	{
		Name:        "fs.move",
		Description: "Move or rename a file; both endpoints must be inside the write scope.",
		Mutating:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"src": map[string]any{"type": "string"},
				"dst": map[string]any{"type": "string"},
			},
			"required": []string{"src", "dst"},
		},
	},
	{
		Name:        "terminal.run",
		Description: "Run a shell command in the workspace.",
		Mutating:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
			},
			"required": []string{"command"},
		},
	},
}

// Catalog returns the full builtin tool catalog.
func Catalog() []Tool {
	out := make([]Tool, len(catalog))
	copy(out, catalog)
	return out
}

// ReadOnlyCatalog returns the builtin tools that cannot mutate the workspace.
func ReadOnlyCatalog() []Tool {
	var out []Tool
	for _, t := range catalog {
		if !t.Mutating {
			out = append(out, t)
		}
	}
	return out
}

// SelectTools filters the builtin catalog by the playbook's allowlist and, in
// plan mode, prunes every mutating tool. A name the catalog does not know is
// an error; a typo'd allowlist entry silently vanishing would make the
// capability set unpredictable.
func SelectTools(allowed []string, mode playbook.Mode) ([]Tool, error) {
	byName := make(map[string]Tool, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
	}
	var unknown []string
	var out []Tool
	for _, name := range allowed {
		t, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if mode == playbook.ModePlan && t.Mutating {
			continue
		}
		out = append(out, t)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown tool(s) in allowlist: %v", unknown)
	}
	return out, nil
}
