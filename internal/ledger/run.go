package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/puk/internal/sandbox"
)

// On-disk names inside a run directory. These, together with the manifest and
// event field names, are the format contract shared with the inspector.
const (
	ManifestName = "run.json"
	EventsName   = "events.ndjson"
	ArtifactsDir = "artifacts"
	LockName     = "run.lock"
)

// TimeFormat is the UTC timestamp layout used for manifests, events, and run
// directory names. Colons are avoided so the value is filesystem-safe.
const TimeFormat = "2006-01-02T15-04-05Z"

const maxCreateRetries = 100

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunBusy     = errors.New("run busy")
	ErrRunExists   = errors.New("run already exists")
)

// Status is the run lifecycle state recorded in the manifest.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	StatusFailed Status = "failed"
)

// ValidTransition reports whether a manifest status change is legal. Closed
// and failed runs may only reopen (via append); an open run may terminate
// either way. Same-status writes are rejected except open→open, which append
// uses to refresh updated_at on a run that was left open by a crash.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusClosed || to == StatusFailed || to == StatusOpen
	case StatusClosed, StatusFailed:
		return to == StatusOpen
	default:
		return false
	}
}

// LLMSnapshot captures the resolved model settings at run creation, for
// reproducibility. It is never recomputed after the run starts.
type LLMSnapshot struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// Manifest is the mutable summary stored in run.json. Readers treat it as
// the latest-known snapshot; events.ndjson remains the authoritative history.
type Manifest struct {
	RunID     string      `json:"run_id"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
	Title     string      `json:"title"`
	Status    Status      `json:"status"`
	Workspace string      `json:"workspace"`
	Mode      string      `json:"mode"`
	LLM       LLMSnapshot `json:"llm"`
}

// Paths locates the files of one run directory.
type Paths struct {
	Root      string
	Manifest  string
	Events    string
	Artifacts string
	Lock      string
}

func pathsFor(dir string) Paths {
	return Paths{
		Root:      dir,
		Manifest:  filepath.Join(dir, ManifestName),
		Events:    filepath.Join(dir, EventsName),
		Artifacts: filepath.Join(dir, ArtifactsDir),
		Lock:      filepath.Join(dir, LockName),
	}
}

// RunsRoot returns the runs directory for a workspace.
func RunsRoot(workspace string) string {
	return filepath.Join(workspace, ".puk", "runs")
}

// StartOptions configures the creation of a new run.
type StartOptions struct {
	Workspace string
	Mode      string
	Title     string
	LLM       LLMSnapshot
	// DirName overrides the timestamp-derived directory name. Used by Create
	// to retry with a disambiguating suffix; tests use it for determinism.
	DirName string
}

// Handle is an exclusive writer for one run. All ledger mutations go through
// a handle; there is no process-wide current run. A handle holds the run's
// advisory lock from Start/OpenForAppend until Close.
type Handle struct {
	mu     sync.Mutex
	paths  Paths
	runID  string
	seq    int64 // next sequence number to assign
	turn   int
	lock   *lock
	events *os.File
	closed bool
}

// Start creates a new run directory, writes the initial manifest with
// status=open, and acquires the run lock. The directory name derives from
// the current UTC timestamp plus an optional title slug. Start fails with
// ErrRunExists when the directory already exists; Create retries with a
// suffix instead.
func Start(opts StartOptions) (*Handle, error) {
	runsRoot := RunsRoot(opts.Workspace)
	if err := os.MkdirAll(runsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}
	name := opts.DirName
	if name == "" {
		name = utcNow()
		if slug := Slug(opts.Title); slug != "" {
			name += "-" + slug
		}
	}
	dir := filepath.Join(runsRoot, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("cannot create run directory %q: %w", dir, ErrRunExists)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("cannot create run directory %q: %w", dir, ErrRunExists)
		}
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	paths := pathsFor(dir)
	if err := os.Mkdir(paths.Artifacts, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}

	workspaceAbs, err := sandbox.Canonicalize(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("canonicalize workspace: %w", err)
	}
	now := utcNow()
	manifest := Manifest{
		RunID:     uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
		UpdatedAt: now,
		Title:     opts.Title,
		Status:    StatusOpen,
		Workspace: workspaceAbs,
		Mode:      opts.Mode,
		LLM:       opts.LLM,
	}
	if err := writeManifest(paths.Manifest, &manifest); err != nil {
		return nil, err
	}

	lk, err := acquireLock(paths.Lock)
	if err != nil {
		return nil, err
	}
	events, err := openEvents(paths.Events, false)
	if err != nil {
		lk.release()
		return nil, err
	}
	return &Handle{paths: paths, runID: manifest.RunID, seq: 0, lock: lk, events: events}, nil
}

// Create starts a new run, retrying with -1, -2, ... suffixes when the
// timestamp-derived directory name collides with an existing run.
func Create(opts StartOptions) (*Handle, error) {
	base := utcNow()
	if slug := Slug(opts.Title); slug != "" {
		base += "-" + slug
	}
	for i := 0; i < maxCreateRetries; i++ {
		opts.DirName = base
		if i > 0 {
			opts.DirName = fmt.Sprintf("%s-%d", base, i)
		}
		h, err := Start(opts)
		if errors.Is(err, ErrRunExists) {
			continue
		}
		return h, err
	}
	return nil, fmt.Errorf("cannot create run directory after %d attempts", maxCreateRetries)
}

// OpenForAppend resolves ref (a run id or a directory name/path under the
// runs root) to an existing run and opens it for appending. It never creates
// a run: an unresolvable ref fails with ErrRunNotFound. The run's advisory
// lock is acquired without blocking; a lock held by a live process fails with
// ErrRunBusy. The manifest transitions back to open and the next sequence
// number continues from the last complete event on disk.
func OpenForAppend(workspace, ref string) (*Handle, error) {
	dir, err := resolveRunRef(workspace, ref)
	if err != nil {
		return nil, err
	}
	paths := pathsFor(dir)

	lk, err := acquireLock(paths.Lock)
	if err != nil {
		return nil, err
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		lk.release()
		return nil, err
	}
	if !ValidTransition(manifest.Status, StatusOpen) {
		lk.release()
		return nil, fmt.Errorf("run %s: cannot reopen from status %q", manifest.RunID, manifest.Status)
	}
	manifest.Status = StatusOpen
	manifest.UpdatedAt = utcNow()
	if err := writeManifest(paths.Manifest, manifest); err != nil {
		lk.release()
		return nil, err
	}

	nextSeq, needNewline, err := scanLastSeq(paths.Events)
	if err != nil {
		lk.release()
		return nil, err
	}
	events, err := openEvents(paths.Events, needNewline)
	if err != nil {
		lk.release()
		return nil, err
	}
	return &Handle{paths: paths, runID: manifest.RunID, seq: nextSeq, lock: lk, events: events}, nil
}

func resolveRunRef(workspace, ref string) (string, error) {
	runsRoot := RunsRoot(workspace)
	candidate := ref
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(runsRoot, ref)
	}
	if _, err := os.Stat(filepath.Join(candidate, ManifestName)); err == nil {
		return candidate, nil
	}
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("run reference %q: %w", ref, ErrRunNotFound)
		}
		return "", fmt.Errorf("scan runs root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(runsRoot, entry.Name())
		manifest, err := ReadManifest(dir)
		if err != nil {
			continue
		}
		if manifest.RunID == ref {
			return dir, nil
		}
	}
	return "", fmt.Errorf("run reference %q: %w", ref, ErrRunNotFound)
}

// RunID returns the run's stable identifier.
func (h *Handle) RunID() string { return h.runID }

// Dir returns the run directory path.
func (h *Handle) Dir() string { return h.paths.Root }

// NextTurn returns the next turn identifier for grouping events from one
// request/response cycle.
func (h *Handle) NextTurn() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turn++
	return h.turn
}

// Append assigns the next sequence number, writes one event line, and
// flushes it durably before returning. This is the sole write path for
// events; nothing is ever edited in place.
func (h *Handle) Append(kind Kind, turnID *int, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("append %s: handle is closed", kind)
	}
	return h.appendLocked(kind, turnID, payload)
}

// WriteArtifact validates rel against the run's artifact directory, writes
// the bytes, and returns the run-relative path ("artifacts/...") for the
// caller to reference in a subsequent artifact.write event.
func (h *Handle) WriteArtifact(rel string, data []byte) (string, error) {
	target, err := sandbox.Resolve(rel, h.paths.Artifacts)
	if err != nil {
		return "", fmt.Errorf("artifact path %q: %w", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %q: %w", rel, err)
	}
	relToRun, err := sandbox.Rel(target, h.paths.Root)
	if err != nil {
		return "", err
	}
	return relToRun, nil
}

// SetStatus updates the manifest's status and updated_at fields, rejecting
// invalid transitions such as closed→closed.
func (h *Handle) SetStatus(status Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setStatusLocked(status)
}

func (h *Handle) setStatusLocked(status Status) error {
	manifest, err := ReadManifest(h.paths.Root)
	if err != nil {
		return err
	}
	if !ValidTransition(manifest.Status, status) {
		return fmt.Errorf("invalid status transition %q -> %q", manifest.Status, status)
	}
	manifest.Status = status
	manifest.UpdatedAt = utcNow()
	return writeManifest(h.paths.Manifest, manifest)
}

// Close records the session end, writes the terminal status, flushes the
// event log, and releases the lock. Closing an already-closed handle is a
// no-op.
func (h *Handle) Close(status Status, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(h.appendLocked(KindSessionEnd, nil, &SessionEnd{Status: string(status), Reason: reason}))
	record(h.appendLocked(KindStatusChange, nil, &StatusChange{Status: string(status), Reason: reason}))
	record(h.setStatusLocked(status))
	record(h.events.Sync())
	record(h.events.Close())
	h.lock.release()
	return firstErr
}

// appendLocked mirrors Append for callers already holding the mutex.
func (h *Handle) appendLocked(kind Kind, turnID *int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	event := Event{
		Seq:       h.seq,
		Timestamp: utcNow(),
		Type:      kind,
		RunID:     h.runID,
		TurnID:    turnID,
		Data:      data,
	}
	line, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := h.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := h.events.Sync(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	h.seq++
	return nil
}

func openEvents(path string, needNewline bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if needNewline {
		// A previous writer crashed mid-line. Start fresh on a new line; the
		// partial line stays in place and readers skip it.
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("repair event log: %w", err)
		}
	}
	return f, nil
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

func utcNow() string {
	return time.Now().UTC().Format(TimeFormat)
}
