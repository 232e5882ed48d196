// Package anthropic adapts the Anthropic Claude Messages API to the engine's
// agent-runtime boundary. It owns the conversation loop: send the prompt and
// tool declarations, execute (or deny, per the interception hook) each
// requested tool call, feed the results back, and repeat until the model
// stops requesting tools.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roach88/puk/internal/agent"
	"github.com/roach88/puk/internal/config"
	"github.com/roach88/puk/internal/engine"
)

// maxTurns bounds the tool loop so a model that keeps requesting tools
// cannot spin forever.
const maxTurns = 24

// MessagesClient is the subset of the SDK client the adapter uses. It is
// satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Runtime implements engine.Runtime on top of the Messages API.
type Runtime struct {
	msg    MessagesClient
	exec   agent.Executor
	model  string
	maxTok int64
	temp   float64
}

// New builds a Runtime from an explicit Messages client. Settings must carry
// a model identifier.
func New(msg MessagesClient, exec agent.Executor, settings config.Settings) (*Runtime, error) {
	if msg == nil {
		return nil, errors.New("messages client is required")
	}
	if exec == nil {
		return nil, errors.New("tool executor is required")
	}
	if settings.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Runtime{
		msg:    msg,
		exec:   exec,
		model:  settings.Model,
		maxTok: int64(settings.MaxOutputTokens),
		temp:   settings.Temperature,
	}, nil
}

// NewFromSettings constructs a Runtime using the default SDK client and the
// API key named by the settings.
func NewFromSettings(settings config.Settings, exec agent.Executor) (*Runtime, error) {
	key := settings.APIKey()
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", settings.APIKeyEnv)
	}
	client := sdk.NewClient(option.WithAPIKey(key))
	return New(&client.Messages, exec, settings)
}

// Run starts the conversation loop for one request. The returned stream
// yields events lazily: each Next drains the buffered events of the current
// model turn and steps the loop when the buffer runs dry.
func (r *Runtime) Run(_ context.Context, req engine.Request) (engine.Stream, error) {
	tools, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	return &runStream{
		rt:       r,
		req:      req,
		tools:    tools,
		nameMap:  nameMap,
		messages: []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}, nil
}

type runStream struct {
	rt       *Runtime
	req      engine.Request
	tools    []sdk.ToolUnionParam
	nameMap  map[string]string // provider-safe name -> canonical name
	messages []sdk.MessageParam
	queue    []engine.RuntimeEvent
	turns    int
	done     bool
}

func (s *runStream) Next(ctx context.Context) (engine.RuntimeEvent, error) {
	for len(s.queue) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := s.step(ctx); err != nil {
			return nil, err
		}
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

// step performs one Messages.New round trip, queues the resulting events,
// and either terminates the loop or appends the tool results for the next
// round.
func (s *runStream) step(ctx context.Context) error {
	if s.turns >= maxTurns {
		return fmt.Errorf("conversation exceeded %d turns without completing", maxTurns)
	}
	s.turns++

	params := sdk.MessageNewParams{
		Model:     sdk.Model(s.rt.model),
		MaxTokens: s.rt.maxTok,
		Messages:  s.messages,
	}
	if s.rt.temp > 0 {
		params.Temperature = sdk.Float(s.rt.temp)
	}
	if len(s.tools) > 0 {
		params.Tools = s.tools
	}

	msg, err := s.rt.msg.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic messages.new: %w", err)
	}

	var assistant []sdk.ContentBlockParamUnion
	var results []sdk.ContentBlockParamUnion
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			s.queue = append(s.queue, engine.TextOutput{Text: block.Text})
			assistant = append(assistant, sdk.NewTextBlock(block.Text))
		case "tool_use":
			name := block.Name
			if canonical, ok := s.nameMap[name]; ok {
				name = canonical
			}
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					input = nil
				}
			}
			assistant = append(assistant, sdk.NewToolUseBlock(block.ID, block.Input, block.Name))
			s.queue = append(s.queue, engine.ToolInvocation{Name: name, Params: input})
			outcome, result := s.invoke(ctx, block.ID, name, input)
			s.queue = append(s.queue, outcome)
			results = append(results, result)
		}
	}
	if len(assistant) > 0 {
		s.messages = append(s.messages, sdk.NewAssistantMessage(assistant...))
	}
	if len(results) == 0 {
		s.done = true
		return nil
	}
	s.messages = append(s.messages, sdk.NewUserMessage(results...))
	return nil
}

// invoke gates one tool call through the interception hook and executes it
// when allowed. The outcome feeds the ledger; the result block feeds the
// model.
func (s *runStream) invoke(ctx context.Context, id, name string, params map[string]any) (engine.ToolOutcome, sdk.ContentBlockParamUnion) {
	if s.req.Intercept != nil {
		if denial := s.req.Intercept(name, params); denial != nil {
			outcome := engine.ToolOutcome{Name: name, Params: params, Status: "denied", Reason: denial.Reason}
			return outcome, sdk.NewToolResultBlock(id, "denied: "+denial.Reason, true)
		}
	}
	output, err := s.rt.exec.Execute(ctx, name, params)
	if err != nil {
		outcome := engine.ToolOutcome{Name: name, Params: params, Status: "error", Output: output, Reason: err.Error()}
		return outcome, sdk.NewToolResultBlock(id, "error: "+err.Error(), true)
	}
	outcome := engine.ToolOutcome{Name: name, Params: params, Status: "ok", Output: output}
	return outcome, sdk.NewToolResultBlock(id, output, false)
}

// encodeTools declares the capability set to the API. Tool names carry a '.'
// separator the API rejects, so each is mapped to a provider-safe form and a
// reverse map restores the canonical name on the way back.
func encodeTools(tools []engine.Tool) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(tools) == 0 {
		return nil, nil, nil
	}
	encoded := make([]sdk.ToolUnionParam, 0, len(tools))
	nameMap := make(map[string]string, len(tools))
	for _, t := range tools {
		safe := providerSafeName(t.Name)
		if prev, ok := nameMap[safe]; ok && prev != t.Name {
			return nil, nil, fmt.Errorf("tool name %q collides with %q after sanitizing", t.Name, prev)
		}
		nameMap[safe] = t.Name
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.Schema}, safe)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		encoded = append(encoded, u)
	}
	return encoded, nameMap, nil
}

func providerSafeName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}
