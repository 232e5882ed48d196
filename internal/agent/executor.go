// Package agent hosts the pieces of the agent-runtime collaborator that run
// locally: tool execution against the workspace, and provider adapters in
// subpackages. The execution engine never calls into this package directly;
// it only gates and records what the runtime does.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/puk/internal/sandbox"
)

// Executor performs one tool call and returns its textual output. Denials
// never reach an executor; the interception hook runs first.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (string, error)
}

const (
	maxReadBytes     = 256 << 10
	maxSearchResults = 200
)

// Local executes the builtin tool catalog against a workspace directory.
// Every path parameter is resolved through the sandbox, so even a tool call
// the policy let through cannot reach outside the workspace.
type Local struct {
	Workspace string
}

// NewLocal returns an executor rooted at the given workspace.
func NewLocal(workspace string) *Local {
	return &Local{Workspace: workspace}
}

func (l *Local) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	switch name {
	case "fs.list":
		return l.list(params)
	case "fs.read":
		return l.read(params)
	case "fs.search":
		return l.search(params)
	case "fs.write":
		return l.write(params)
	case "fs.delete":
		return l.delete(params)
	case "fs.move":
		return l.move(params)
	case "terminal.run":
		return l.terminal(ctx, params)
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func (l *Local) resolve(params map[string]any, key string) (string, error) {
	raw, _ := params[key].(string)
	if raw == "" {
		return "", fmt.Errorf("missing %q parameter", key)
	}
	return sandbox.Resolve(raw, l.Workspace)
}

func (l *Local) list(params map[string]any) (string, error) {
	dir, err := l.resolve(params, "path")
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (l *Local) read(params map[string]any) (string, error) {
	path, err := l.resolve(params, "path")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (l *Local) search(params map[string]any) (string, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("missing %q parameter", "pattern")
	}
	root := l.Workspace
	if raw, _ := params["path"].(string); raw != "" {
		resolved, err := l.resolve(params, "path")
		if err != nil {
			return "", err
		}
		root = resolved
	}
	var hits []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(hits) >= maxSearchResults {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".puk" {
				return filepath.SkipDir
			}
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		rel, relErr := sandbox.Rel(path, l.Workspace)
		if relErr != nil {
			return nil
		}
		scanner := bufio.NewScanner(f)
		for line := 1; scanner.Scan(); line++ {
			if strings.Contains(scanner.Text(), pattern) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, line, scanner.Text()))
				if len(hits) >= maxSearchResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(hits, "\n"), nil
}

func (l *Local) write(params map[string]any) (string, error) {
	path, err := l.resolve(params, "path")
	if err != nil {
		return "", err
	}
	content, _ := params["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes", len(content)), nil
}

func (l *Local) delete(params map[string]any) (string, error) {
	path, err := l.resolve(params, "path")
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return "deleted", nil
}

func (l *Local) move(params map[string]any) (string, error) {
	src, err := l.resolve(params, "src")
	if err != nil {
		return "", err
	}
	dst, err := l.resolve(params, "dst")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return "moved", nil
}

func (l *Local) terminal(ctx context.Context, params map[string]any) (string, error) {
	command, _ := params["command"].(string)
	if command == "" {
		return "", fmt.Errorf("missing %q parameter", "command")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = l.Workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}
