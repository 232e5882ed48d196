package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_WriteReadListDelete(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	out, err := l.Execute(ctx, "fs.write", map[string]any{"path": "out/notes.md", "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 5 bytes")

	out, err = l.Execute(ctx, "fs.read", map[string]any{"path": "out/notes.md"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = l.Execute(ctx, "fs.list", map[string]any{"path": "."})
	require.NoError(t, err)
	assert.Equal(t, "out/", out)

	_, err = l.Execute(ctx, "fs.delete", map[string]any{"path": "out/notes.md"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(l.Workspace, "out", "notes.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_Move(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	_, err := l.Execute(ctx, "fs.write", map[string]any{"path": "a.txt", "content": "x"})
	require.NoError(t, err)
	_, err = l.Execute(ctx, "fs.move", map[string]any{"src": "a.txt", "dst": "moved/b.txt"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(l.Workspace, "moved", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestLocal_Search(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(l.Workspace, "a.go"), []byte("package main\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(l.Workspace, "b.txt"), []byte("nothing here\n"), 0o644))

	out, err := l.Execute(ctx, "fs.search", map[string]any{"pattern": "func main"})
	require.NoError(t, err)
	assert.Equal(t, "a.go:2:func main() {}", out)

	out, err = l.Execute(ctx, "fs.search", map[string]any{"pattern": "absent"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLocal_PathConfinedToWorkspace(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	_, err := l.Execute(ctx, "fs.read", map[string]any{"path": "../../etc/passwd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes root")

	_, err = l.Execute(ctx, "fs.write", map[string]any{"path": "/tmp/elsewhere.txt", "content": "x"})
	require.Error(t, err)
}

func TestLocal_Terminal(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	out, err := l.Execute(ctx, "terminal.run", map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, err = l.Execute(ctx, "terminal.run", map[string]any{"command": "exit 3"})
	require.Error(t, err)
}

func TestLocal_UnknownTool(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Execute(context.Background(), "fs.teleport", nil)
	require.Error(t, err)
}

func TestLocal_MissingParams(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()
	for _, tc := range []struct {
		tool   string
		params map[string]any
	}{
		{"fs.read", map[string]any{}},
		{"fs.search", map[string]any{}},
		{"terminal.run", map[string]any{}},
	} {
		_, err := l.Execute(ctx, tc.tool, tc.params)
		assert.Error(t, err, tc.tool)
	}
}
