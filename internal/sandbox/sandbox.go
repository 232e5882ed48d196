// Package sandbox canonicalizes filesystem paths and tests them against an
// allowed root and a set of glob-based write-scope rules.
//
// All checks operate on canonical paths: "." and ".." segments are cleaned and
// symbolic links are resolved before any containment or scope comparison, so a
// path cannot escape the root through link indirection. Malformed paths are
// reported as errors, never panics.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Resolve joins path with root (when path is relative), canonicalizes the
// result, and verifies it lies within root. It returns the canonical absolute
// path or an error when the path escapes the root.
func Resolve(path, root string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	canonRoot, err := Canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(canonRoot, candidate)
	}
	canon, err := Canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if !contains(canonRoot, canon) {
		return "", fmt.Errorf("path %q escapes root %q", path, root)
	}
	return canon, nil
}

// WithinRoot reports whether path canonicalizes to a location inside root.
// Malformed paths are reported as outside the root.
func WithinRoot(path, root string) bool {
	_, err := Resolve(path, root)
	return err == nil
}

// Rel returns the canonical path relative to root, using forward slashes
// regardless of platform. The path must already lie within root.
func Rel(path, root string) (string, error) {
	canon, err := Resolve(path, root)
	if err != nil {
		return "", err
	}
	canonRoot, err := Canonicalize(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(canonRoot, canon)
	if err != nil {
		return "", fmt.Errorf("relativize %q: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

// Canonicalize returns the absolute, cleaned path with symbolic links
// resolved. Nonexistent trailing components are allowed: the deepest existing
// ancestor is resolved and the remainder is re-joined, so a path to a file
// that is about to be created still canonicalizes deterministically.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved := abs
	suffix := ""
	for {
		r, err := filepath.EvalSymlinks(resolved)
		if err == nil {
			return filepath.Clean(filepath.Join(r, suffix)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(resolved), suffix)
		parent := filepath.Dir(resolved)
		if parent == resolved {
			// Walked to the filesystem root without finding anything.
			return filepath.Clean(abs), nil
		}
		resolved = parent
	}
}

func contains(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Scope is a compiled set of write-scope glob patterns. Patterns match
// slash-separated paths relative to the sandbox root. An empty scope denies
// everything.
type Scope struct {
	patterns []scopePattern
}

type scopePattern struct {
	raw  string
	g    glob.Glob
	base string // set for "dir/**" patterns: the directory itself also matches
}

// CompileScope compiles write-scope patterns. Invalid glob syntax is an
// error naming the offending pattern.
func CompileScope(patterns []string) (*Scope, error) {
	s := &Scope{patterns: make([]scopePattern, 0, len(patterns))}
	for _, raw := range patterns {
		g, err := glob.Compile(raw, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid write-scope pattern %q: %w", raw, err)
		}
		p := scopePattern{raw: raw, g: g}
		if base, ok := strings.CutSuffix(raw, "/**"); ok && base != "" {
			p.base = strings.TrimSuffix(base, "/")
		}
		s.patterns = append(s.patterns, p)
	}
	return s, nil
}

// Matches reports whether the slash-separated relative path matches at least
// one pattern in the scope. Deny-by-default: an empty scope matches nothing.
func (s *Scope) Matches(rel string) bool {
	if s == nil || rel == "" {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	for _, p := range s.patterns {
		if p.g.Match(rel) {
			return true
		}
		if p.base != "" && (rel == p.base || strings.HasPrefix(rel, p.base+"/")) {
			return true
		}
	}
	return false
}

// Patterns returns the raw pattern list the scope was compiled from.
func (s *Scope) Patterns() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.raw
	}
	return out
}
