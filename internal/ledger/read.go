package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Read-side helpers over the on-disk format. Readers never take the run
// lock; they tolerate a concurrently-appending writer by consuming only
// complete, decodable lines.

// ReadManifest loads and parses run.json from a run directory.
func ReadManifest(dir string) (*Manifest, error) {
	path := pathsFor(dir).Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest missing at %s: %w", path, ErrRunNotFound)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("manifest at %s is invalid JSON: %w", path, err)
	}
	return &manifest, nil
}

// ReadEvents loads every decodable event from events.ndjson in file order.
// Undecodable lines (an interrupted trailing write) are skipped. A missing
// log yields an empty slice: a run may exist before its first event lands.
func ReadEvents(dir string) ([]Event, error) {
	f, err := os.Open(pathsFor(dir).Events)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// scanLastSeq determines the next sequence number for an append and whether
// the log ends mid-line (a crashed writer left a partial record).
func scanLastSeq(path string) (nextSeq int64, needNewline bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read event log: %w", err)
	}
	if len(data) == 0 {
		return 0, false, nil
	}
	needNewline = data[len(data)-1] != '\n'
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Seq >= nextSeq {
			nextSeq = event.Seq + 1
		}
	}
	return nextSeq, needNewline, nil
}
