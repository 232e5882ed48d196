package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// lockInfo identifies the lock holder so a later opener can detect a lock
// whose owning process no longer exists and reclaim it.
type lockInfo struct {
	PID        int    `json:"pid"`
	Hostname   string `json:"hostname"`
	AcquiredAt string `json:"acquired_at"`
}

type lock struct {
	path string
}

// acquireLock creates the lock file exclusively. The lock is advisory: every
// write path must go through it, but nothing stops an uncooperative process.
// It never blocks; a lock held by a live process fails with ErrRunBusy, and a
// stale lock (dead holder) is reclaimed once.
func acquireLock(path string) (*lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			hostname, _ := os.Hostname()
			info := lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: utcNow()}
			data, merr := json.Marshal(&info)
			if merr == nil {
				_, merr = f.Write(append(data, '\n'))
			}
			if cerr := f.Close(); merr == nil {
				merr = cerr
			}
			if merr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", merr)
			}
			return &lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		holder, herr := readLockInfo(path)
		if herr != nil || processAlive(holder.PID) {
			// Unreadable lock files are treated as held: without holder
			// identity there is no safe way to reclaim.
			return nil, fmt.Errorf("lock file %s held by pid %d: %w", path, holder.PID, ErrRunBusy)
		}
		// Stale lock from a dead process; remove it and retry once.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("reclaim stale lock: %w", rerr)
		}
	}
	return nil, fmt.Errorf("lock file %s: %w", path, ErrRunBusy)
}

func (l *lock) release() {
	if l == nil {
		return
	}
	// Best effort: a leftover lock from a dead process is reclaimable anyway.
	_ = os.Remove(l.path)
}

func readLockInfo(path string) (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parse lock file: %w", err)
	}
	if info.PID <= 0 {
		return info, fmt.Errorf("lock file missing holder pid")
	}
	return info, nil
}

// processAlive reports whether a process with the given pid exists. Signal 0
// probes without delivering; EPERM still proves existence.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
