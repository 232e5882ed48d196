// Package inspect reads run directories for listing, display, and tailing.
// It never takes the run lock: a concurrently appending writer is tolerated
// by reading only complete lines already flushed to disk.
package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/puk/internal/ledger"
)

// StaleThreshold is the age past which an open run is flagged stale: the
// writer likely died without recording a terminal status.
const StaleThreshold = 30 * time.Minute

// RunInfo is one discovered run directory.
type RunInfo struct {
	Name     string `json:"name"`
	Dir      string `json:"dir"`
	RunID    string `json:"run_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	Created  string `json:"created_at"`
	Updated  string `json:"updated_at"`
	Events   int    `json:"events"`
	Stale    bool   `json:"stale"`
	manifest *ledger.Manifest
}

// Manifest returns the run's parsed manifest.
func (r *RunInfo) Manifest() *ledger.Manifest { return r.manifest }

// Discover scans the workspace's runs root and returns one RunInfo per run
// directory, newest first. Directories without a readable manifest are
// skipped; a half-written run should not break listing. now feeds the
// staleness check.
func Discover(workspace string, now time.Time) ([]RunInfo, error) {
	runsRoot := ledger.RunsRoot(workspace)
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan runs root: %w", err)
	}
	var infos []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := describe(filepath.Join(runsRoot, entry.Name()), now)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Created != infos[j].Created {
			return infos[i].Created > infos[j].Created
		}
		return infos[i].Name > infos[j].Name
	})
	return infos, nil
}

// ResolveRef resolves a run id or directory name to its RunInfo.
func ResolveRef(workspace, ref string, now time.Time) (*RunInfo, error) {
	runsRoot := ledger.RunsRoot(workspace)
	direct := filepath.Join(runsRoot, ref)
	if _, err := os.Stat(filepath.Join(direct, ledger.ManifestName)); err == nil {
		return describe(direct, now)
	}
	infos, err := Discover(workspace, now)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].RunID == ref {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("run reference %q: %w", ref, ledger.ErrRunNotFound)
}

func describe(dir string, now time.Time) (*RunInfo, error) {
	manifest, err := ledger.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	events, err := ledger.ReadEvents(dir)
	if err != nil {
		return nil, err
	}
	return &RunInfo{
		Name:     filepath.Base(dir),
		Dir:      dir,
		RunID:    manifest.RunID,
		Title:    manifest.Title,
		Status:   string(manifest.Status),
		Mode:     manifest.Mode,
		Created:  manifest.CreatedAt,
		Updated:  manifest.UpdatedAt,
		Events:   len(events),
		Stale:    isStale(manifest, now),
		manifest: manifest,
	}, nil
}

func isStale(manifest *ledger.Manifest, now time.Time) bool {
	if manifest.Status != ledger.StatusOpen {
		return false
	}
	updated, err := time.Parse(ledger.TimeFormat, manifest.UpdatedAt)
	if err != nil {
		return false
	}
	return now.Sub(updated) > StaleThreshold
}
