package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_PayloadDecodesByKind(t *testing.T) {
	tests := []struct {
		kind Kind
		data string
		want any
	}{
		{KindSessionStart, `{"mode":"playbook","argv":["puk","run"],"workspace":"/w","run_id":"r1","append":false}`,
			&SessionStart{Mode: "playbook", Argv: []string{"puk", "run"}, Workspace: "/w", RunID: "r1"}},
		{KindUserInput, `{"text":"hi"}`, &UserInput{Text: "hi"}},
		{KindModelOutput, `{"text":"done"}`, &ModelOutput{Text: "done"}},
		{KindToolCall, `{"name":"fs.write","params":{"path":"out/x.txt"}}`,
			&ToolCall{Name: "fs.write", Params: map[string]any{"path": "out/x.txt"}}},
		{KindToolResult, `{"name":"fs.write","status":"denied","reason":"path outside write scope"}`,
			&ToolResult{Name: "fs.write", Status: "denied", Reason: "path outside write scope"}},
		{KindArtifactWrite, `{"path":"artifacts/report.json","summary":"report"}`,
			&ArtifactWrite{Path: "artifacts/report.json", Summary: "report"}},
		{KindStatusChange, `{"status":"closed","reason":"completed"}`,
			&StatusChange{Status: "closed", Reason: "completed"}},
		{KindPlaybookPlan, `{"steps":[{"description":"write","tools":["fs.write"],"files":["out/x.txt"]}]}`,
			&PlaybookPlan{Steps: []PlanStep{{Description: "write", Tools: []string{"fs.write"}, Files: []string{"out/x.txt"}}}},
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			event := Event{Type: tc.kind, Data: json.RawMessage(tc.data)}
			got, err := event.Payload()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvent_PayloadUnknownKind(t *testing.T) {
	event := Event{Type: Kind("future.kind"), Data: json.RawMessage(`{"x":1}`)}
	got, err := event.Payload()
	require.NoError(t, err)
	assert.Equal(t, &map[string]any{"x": float64(1)}, got)
}

func TestEvent_PayloadMalformed(t *testing.T) {
	event := Event{Type: KindUserInput, Data: json.RawMessage(`{`)}
	_, err := event.Payload()
	require.Error(t, err)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Weekly Report", "weekly-report"},
		{"fix/bug #42!", "fix-bug-42"},
		{"under_score ok", "under_score-ok"},
		{"--many---dashes--", "many-dashes"},
		{"this title is much longer than the thirty-two character limit", "this-title-is-much-longer-than-t"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Slug(tc.in), "slug of %q", tc.in)
	}
}
