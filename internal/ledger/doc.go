// Package ledger provides durable, append-only storage for puk runs.
//
// Each run lives in its own directory under <workspace>/.puk/runs:
//
//	<run_dir>/
//	  run.json       manifest: latest-known snapshot of the run state
//	  events.ndjson  one JSON event per line, authoritative history
//	  artifacts/     byproduct files referenced by artifact.write events
//	  run.lock       advisory lock: holder pid + acquisition time
//
// The manifest is a mutable summary rewritten atomically; the event log is
// never edited in place. Sequence numbers are assigned 0..n-1 with no gaps,
// and each append is flushed durably before returning. A reader can tail the
// log while a writer is active: a crash mid-write leaves at most one
// incomplete trailing line, which readers skip.
package ledger
