package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/puk/internal/config"
	"github.com/roach88/puk/internal/engine"
)

type stubMessages struct {
	responses []*sdk.Message
	calls     []sdk.MessageNewParams
	err       error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, body)
	if len(s.responses) == 0 {
		return &sdk.Message{}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type recordingExecutor struct {
	calls  []string
	output string
	err    error
}

func (e *recordingExecutor) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	e.calls = append(e.calls, name)
	return e.output, e.err
}

func drain(t *testing.T, stream engine.Stream) []engine.RuntimeEvent {
	t.Helper()
	var events []engine.RuntimeEvent
	for {
		ev, err := stream.Next(context.Background())
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func settings() config.Settings {
	s := config.Default()
	s.Model = "claude-sonnet-4-5"
	return s
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: sdk.StopReasonEndTurn,
	}
}

func TestRun_TextOnly(t *testing.T) {
	stub := &stubMessages{responses: []*sdk.Message{textMessage("done")}}
	rt, err := New(stub, &recordingExecutor{}, settings())
	require.NoError(t, err)

	stream, err := rt.Run(context.Background(), engine.Request{Prompt: "hello"})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 1)
	assert.Equal(t, engine.TextOutput{Text: "done"}, events[0])
	require.Len(t, stub.calls, 1)
	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), stub.calls[0].Model)
}

func TestRun_ToolLoopExecutesAndFeedsResultBack(t *testing.T) {
	stub := &stubMessages{responses: []*sdk.Message{
		{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "reading the file"},
				{Type: "tool_use", ID: "call-1", Name: "fs_read", Input: json.RawMessage(`{"path":"a.txt"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
		textMessage("the file says hi"),
	}}
	exec := &recordingExecutor{output: "hi"}
	rt, err := New(stub, exec, settings())
	require.NoError(t, err)

	tools := []engine.Tool{{Name: "fs.read", Description: "Read a file.", Schema: map[string]any{"type": "object"}}}
	stream, err := rt.Run(context.Background(), engine.Request{Prompt: "read a.txt", Tools: tools})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 4)
	assert.Equal(t, engine.TextOutput{Text: "reading the file"}, events[0])
	inv := events[1].(engine.ToolInvocation)
	assert.Equal(t, "fs.read", inv.Name, "provider-safe name maps back to canonical")
	assert.Equal(t, map[string]any{"path": "a.txt"}, inv.Params)
	outcome := events[2].(engine.ToolOutcome)
	assert.Equal(t, "ok", outcome.Status)
	assert.Equal(t, "hi", outcome.Output)
	assert.Equal(t, engine.TextOutput{Text: "the file says hi"}, events[3])

	assert.Equal(t, []string{"fs.read"}, exec.calls)

	// Second round trip carries the assistant turn and the tool result.
	require.Len(t, stub.calls, 2)
	assert.Len(t, stub.calls[1].Messages, 3)
}

func TestRun_InterceptDenialSkipsExecutor(t *testing.T) {
	stub := &stubMessages{responses: []*sdk.Message{
		{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call-1", Name: "fs_write", Input: json.RawMessage(`{"path":"src/x.go"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
		textMessage("understood, stopping"),
	}}
	exec := &recordingExecutor{}
	rt, err := New(stub, exec, settings())
	require.NoError(t, err)

	intercept := func(name string, params map[string]any) *engine.Denial {
		return &engine.Denial{Reason: "path is outside the write scope"}
	}
	tools := []engine.Tool{{Name: "fs.write", Description: "Write a file.", Mutating: true, Schema: map[string]any{"type": "object"}}}
	stream, err := rt.Run(context.Background(), engine.Request{Prompt: "write", Tools: tools, Intercept: intercept})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 3)
	outcome := events[1].(engine.ToolOutcome)
	assert.Equal(t, "denied", outcome.Status)
	assert.Contains(t, outcome.Reason, "outside the write scope")
	assert.Empty(t, exec.calls, "a denied call never reaches the executor")
}

func TestRun_ExecutorErrorBecomesErrorOutcome(t *testing.T) {
	stub := &stubMessages{responses: []*sdk.Message{
		{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call-1", Name: "fs_read", Input: json.RawMessage(`{"path":"missing.txt"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
		textMessage("the file is missing"),
	}}
	rt, err := New(stub, &recordingExecutor{err: fmt.Errorf("no such file")}, settings())
	require.NoError(t, err)

	tools := []engine.Tool{{Name: "fs.read", Description: "Read a file.", Schema: map[string]any{"type": "object"}}}
	stream, err := rt.Run(context.Background(), engine.Request{Prompt: "read", Tools: tools})
	require.NoError(t, err)
	events := drain(t, stream)

	outcome := events[1].(engine.ToolOutcome)
	assert.Equal(t, "error", outcome.Status)
	assert.Contains(t, outcome.Reason, "no such file")
}

func TestRun_APIErrorSurfaces(t *testing.T) {
	stub := &stubMessages{err: fmt.Errorf("overloaded")}
	rt, err := New(stub, &recordingExecutor{}, settings())
	require.NoError(t, err)

	stream, err := rt.Run(context.Background(), engine.Request{Prompt: "hello"})
	require.NoError(t, err)
	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &recordingExecutor{}, settings())
	require.Error(t, err)

	_, err = New(&stubMessages{}, nil, settings())
	require.Error(t, err)

	s := settings()
	s.Model = ""
	_, err = New(&stubMessages{}, &recordingExecutor{}, s)
	require.Error(t, err)
}

func TestProviderSafeName(t *testing.T) {
	assert.Equal(t, "fs_write", providerSafeName("fs.write"))
	assert.Equal(t, "terminal_run", providerSafeName("terminal.run"))
	assert.Equal(t, "plain-name_0", providerSafeName("plain-name_0"))
}
