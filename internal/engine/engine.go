// Package engine orchestrates one invocation: it resolves the execution
// mode, constructs the capability set handed to the agent runtime, drives the
// run state machine, and turns runtime events into ledger events. The write
// scope is enforced here, at the interception hook, and nowhere else.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/roach88/puk/internal/config"
	"github.com/roach88/puk/internal/ledger"
	"github.com/roach88/puk/internal/playbook"
	"github.com/roach88/puk/internal/sandbox"
)

// State is the engine's position in the plan/apply state machine.
type State string

const (
	StateInitialized State = "initialized"
	StatePlanning    State = "planning"
	StateApplying    State = "applying"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Engine executes playbooks and one-shot prompts against a workspace,
// recording everything through the run ledger.
type Engine struct {
	Workspace string
	Settings  config.Settings
	Runtime   Runtime
	Log       *slog.Logger
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// PlaybookInvocation describes one playbook execution request.
type PlaybookInvocation struct {
	Playbook   *playbook.Playbook
	Parameters map[string]any
	// Mode is the effective execution mode: the caller's explicit override
	// when given, else the playbook's declared default.
	Mode playbook.Mode
	// AppendTo references an existing run to append to instead of creating a
	// new one.
	AppendTo string
	Argv     []string
}

// Result summarizes a finished invocation.
type Result struct {
	State  State
	RunID  string
	RunDir string
	// Plan holds the structured plan from a plan-mode invocation.
	Plan *ledger.PlaybookPlan
}

// report is the apply-mode summary written into the run's artifact area.
type report struct {
	PlaybookID   string   `json:"playbook_id"`
	Version      string   `json:"version"`
	Mode         string   `json:"mode"`
	ToolCalls    int      `json:"tool_calls"`
	Denials      int      `json:"denials"`
	FilesTouched []string `json:"files_touched"`
}

// EffectiveMode applies the caller's override to the playbook's declared
// default.
func EffectiveMode(pb *playbook.Playbook, override string) (playbook.Mode, error) {
	if override == "" {
		return pb.RunMode, nil
	}
	switch playbook.Mode(override) {
	case playbook.ModePlan:
		return playbook.ModePlan, nil
	case playbook.ModeApply:
		return playbook.ModeApply, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be plan or apply", override)
}

// RunPlaybook drives one playbook invocation to completion. Validation
// failures surface before any runtime call; runtime failures mark the run
// failed. The returned Result is valid whenever a run was opened, even on
// error.
func (e *Engine) RunPlaybook(ctx context.Context, inv PlaybookInvocation) (*Result, error) {
	pb := inv.Playbook
	if err := e.prepareOutputDir(inv.Parameters); err != nil {
		return nil, err
	}
	scope, err := sandbox.CompileScope(pb.WriteScope)
	if err != nil {
		return nil, err
	}
	tools, err := SelectTools(pb.AllowedTools, inv.Mode)
	if err != nil {
		return nil, err
	}

	run, appended, err := e.openRun(string(inv.Mode), pb.ID, inv.AppendTo)
	if err != nil {
		return nil, err
	}
	result := &Result{State: StateInitialized, RunID: run.RunID(), RunDir: run.Dir()}

	if err := run.Append(ledger.KindSessionStart, nil, &ledger.SessionStart{
		Mode:      string(inv.Mode),
		Argv:      inv.Argv,
		Workspace: e.Workspace,
		RunID:     run.RunID(),
		Append:    appended,
	}); err != nil {
		run.Close(ledger.StatusFailed, err.Error())
		result.State = StateFailed
		return result, err
	}

	err = e.executePlaybook(ctx, run, inv, scope, tools, result)
	if err != nil {
		e.log().Error("playbook run failed", "playbook", pb.ID, "run_id", run.RunID(), "error", err)
		if closeErr := run.Close(ledger.StatusFailed, err.Error()); closeErr != nil {
			e.log().Error("failed to record run failure", "run_id", run.RunID(), "error", closeErr)
		}
		result.State = StateFailed
		return result, err
	}
	if err := run.Close(ledger.StatusClosed, "completed"); err != nil {
		result.State = StateFailed
		return result, err
	}
	result.State = StateSucceeded
	return result, nil
}

func (e *Engine) executePlaybook(ctx context.Context, run *ledger.Handle, inv PlaybookInvocation, scope *sandbox.Scope, tools []Tool, result *Result) error {
	pb := inv.Playbook
	turn := run.NextTurn()

	if err := run.Append(ledger.KindContextResolved, &turn, &ledger.ContextResolved{
		Items: []ledger.ContextItem{{
			Type:       "playbook",
			ID:         pb.ID,
			Version:    pb.Version,
			Mode:       string(inv.Mode),
			Parameters: inv.Parameters,
		}},
	}); err != nil {
		return err
	}
	if err := run.Append(ledger.KindPlaybookStart, &turn, &ledger.PlaybookStart{
		ID:         pb.ID,
		Version:    pb.Version,
		Mode:       string(inv.Mode),
		Parameters: inv.Parameters,
	}); err != nil {
		return err
	}

	switch inv.Mode {
	case playbook.ModePlan:
		result.State = StatePlanning
	case playbook.ModeApply:
		result.State = StateApplying
	default:
		return fmt.Errorf("invalid execution mode %q", inv.Mode)
	}

	policy := NewPolicy(inv.Mode, e.Workspace, scope, tools)
	prompt := BuildPrompt(pb, inv.Parameters, inv.Mode)
	outcome, err := e.consume(ctx, run, turn, Request{
		Prompt:    prompt,
		Tools:     tools,
		Intercept: policy.Intercept,
	})
	if err != nil {
		return err
	}

	if inv.Mode == playbook.ModePlan {
		plan, planErr := ExtractPlan(outcome.text)
		if planErr != nil {
			// Keep the raw output in the timeline so the attempt stays
			// inspectable, then fail the run.
			if err := run.Append(ledger.KindPlaybookPlan, &turn, &ledger.PlaybookPlan{Raw: outcome.text}); err != nil {
				return errors.Join(fmt.Errorf("plan extraction: %w", planErr), err)
			}
			return fmt.Errorf("plan extraction: %w", planErr)
		}
		if err := run.Append(ledger.KindPlaybookPlan, &turn, plan); err != nil {
			return err
		}
		result.Plan = plan
		return nil
	}

	rep := report{
		PlaybookID:   pb.ID,
		Version:      pb.Version,
		Mode:         string(inv.Mode),
		ToolCalls:    outcome.toolCalls,
		Denials:      outcome.denials,
		FilesTouched: outcome.filesTouched,
	}
	data, err := json.MarshalIndent(&rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	ref, err := run.WriteArtifact("report.json", append(data, '\n'))
	if err != nil {
		return err
	}
	if err := run.Append(ledger.KindArtifactWrite, &turn, &ledger.ArtifactWrite{Path: ref, Summary: "run report"}); err != nil {
		return err
	}
	return run.Append(ledger.KindPlaybookApply, &turn, &ledger.PlaybookApply{PlanReviewed: false})
}

// Ask records a one-shot conversational prompt as a run. The capability set
// is the read-only catalog: without a playbook there is no declared write
// scope, so mutation is denied outright.
func (e *Engine) Ask(ctx context.Context, prompt, appendTo string, argv []string) (*Result, error) {
	run, appended, err := e.openRun("oneshot", "", appendTo)
	if err != nil {
		return nil, err
	}
	result := &Result{State: StateInitialized, RunID: run.RunID(), RunDir: run.Dir()}

	err = func() error {
		if err := run.Append(ledger.KindSessionStart, nil, &ledger.SessionStart{
			Mode:      "oneshot",
			Argv:      argv,
			Workspace: e.Workspace,
			RunID:     run.RunID(),
			Append:    appended,
		}); err != nil {
			return err
		}
		turn := run.NextTurn()
		if err := run.Append(ledger.KindUserInput, &turn, &ledger.UserInput{Text: prompt}); err != nil {
			return err
		}
		tools := ReadOnlyCatalog()
		policy := NewPolicy(playbook.ModePlan, e.Workspace, nil, tools)
		_, err := e.consume(ctx, run, turn, Request{
			Prompt:    prompt,
			Tools:     tools,
			Intercept: policy.Intercept,
		})
		return err
	}()
	if err != nil {
		run.Close(ledger.StatusFailed, err.Error())
		result.State = StateFailed
		return result, err
	}
	if err := run.Close(ledger.StatusClosed, "completed"); err != nil {
		result.State = StateFailed
		return result, err
	}
	result.State = StateSucceeded
	return result, nil
}

func (e *Engine) openRun(mode, title, appendTo string) (*ledger.Handle, bool, error) {
	if appendTo != "" {
		run, err := ledger.OpenForAppend(e.Workspace, appendTo)
		if err != nil {
			return nil, false, err
		}
		return run, true, nil
	}
	run, err := ledger.Create(ledger.StartOptions{
		Workspace: e.Workspace,
		Mode:      mode,
		Title:     title,
		LLM:       e.Settings.Snapshot(),
	})
	if err != nil {
		return nil, false, err
	}
	return run, false, nil
}

// streamOutcome accumulates what the consumption loop observed.
type streamOutcome struct {
	text         string
	toolCalls    int
	denials      int
	filesTouched []string
}

// consume drives the runtime and relays its events into the ledger in the
// order received. Strictly sequential: one event at a time, no parallel tool
// execution inside a run.
func (e *Engine) consume(ctx context.Context, run *ledger.Handle, turn int, req Request) (*streamOutcome, error) {
	stream, err := e.Runtime.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent runtime: %w", err)
	}
	outcome := &streamOutcome{}
	touched := make(map[string]bool)
	var text strings.Builder
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("agent runtime stream: %w", err)
		}
		switch ev := ev.(type) {
		case TextOutput:
			text.WriteString(ev.Text)
			if err := run.Append(ledger.KindModelOutput, &turn, &ledger.ModelOutput{Text: ev.Text}); err != nil {
				return nil, err
			}
		case ToolInvocation:
			outcome.toolCalls++
			if err := run.Append(ledger.KindToolCall, &turn, &ledger.ToolCall{Name: ev.Name, Params: ev.Params}); err != nil {
				return nil, err
			}
		case ToolOutcome:
			if ev.Status == "denied" {
				outcome.denials++
			}
			if err := run.Append(ledger.KindToolResult, &turn, &ledger.ToolResult{
				Name:   ev.Name,
				Status: ev.Status,
				Output: ev.Output,
				Reason: ev.Reason,
			}); err != nil {
				return nil, err
			}
			if ev.Status == "ok" && e.isMutating(ev.Name) {
				for _, target := range ExtractPaths(ev.Params) {
					rel, relErr := sandbox.Rel(target, e.Workspace)
					if relErr != nil {
						continue
					}
					if !touched[rel] {
						touched[rel] = true
						if err := run.Append(ledger.KindArtifactWrite, &turn, &ledger.ArtifactWrite{
							Path:    rel,
							Summary: ev.Name,
						}); err != nil {
							return nil, err
						}
					}
				}
			}
		default:
			return nil, fmt.Errorf("agent runtime produced unknown event type %T", ev)
		}
	}
	outcome.text = text.String()
	for rel := range touched {
		outcome.filesTouched = append(outcome.filesTouched, rel)
	}
	sort.Strings(outcome.filesTouched)
	return outcome, nil
}

func (e *Engine) isMutating(name string) bool {
	for _, t := range catalog {
		if t.Name == name {
			return t.Mutating
		}
	}
	// Unknown tools are treated as mutating so their effects stay visible.
	return true
}

// prepareOutputDir creates a resolved output_dir parameter ahead of
// execution so the runtime's first write does not fail on a missing
// directory. The parameter binder has already confined the path to the
// workspace.
func (e *Engine) prepareOutputDir(params map[string]any) error {
	raw, ok := params["output_dir"]
	if !ok {
		return nil
	}
	dir, ok := raw.(string)
	if !ok || dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("output_dir %q exists but is not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output_dir %q: %w", dir, err)
	}
	return nil
}

// BuildPrompt wraps the rendered instruction body with the playbook's
// identity, resolved parameters, capability declarations, and a mode block
// telling the runtime whether to produce a plan or act.
func BuildPrompt(pb *playbook.Playbook, params map[string]any, mode playbook.Mode) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var paramLines strings.Builder
	for _, name := range names {
		fmt.Fprintf(&paramLines, "- %s: %v\n", name, params[name])
	}
	if len(names) == 0 {
		paramLines.WriteString("- (none)\n")
	}

	var modeBlock string
	if mode == playbook.ModePlan {
		modeBlock = "Execution mode: PLAN\n" +
			"Do not call tools or modify files. Produce a JSON plan with this structure:\n" +
			`{"steps":[{"description":"...", "tools":["tool.name"], "files":["path/relative/to/workspace"]}]}` + "\n"
	} else {
		modeBlock = "Execution mode: APPLY\n" +
			"Use only the allowed tools and stay within the write scope.\n"
	}

	return fmt.Sprintf(
		"Playbook: %s (v%s)\n"+
			"Description: %s\n"+
			"Parameters:\n%s"+
			"Allowed tools: %s\n"+
			"Write scope: %s\n"+
			"Runtime note: Parameter values have already been resolved and validated by the runner.\n"+
			"Do not perform separate permission checks; proceed directly with the playbook steps.\n"+
			"%s\n"+
			"Playbook instructions:\n%s\n",
		pb.ID, pb.Version,
		pb.Description,
		paramLines.String(),
		strings.Join(pb.AllowedTools, ", "),
		strings.Join(pb.WriteScope, ", "),
		modeBlock,
		playbook.Render(pb.Body, params),
	)
}
