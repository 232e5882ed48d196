package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/puk/internal/agent"
	"github.com/roach88/puk/internal/agent/anthropic"
	"github.com/roach88/puk/internal/config"
	"github.com/roach88/puk/internal/engine"
	"github.com/roach88/puk/internal/playbook"
)

// RunCmdOptions holds flags for the run command.
type RunCmdOptions struct {
	Params      []string
	Mode        string
	AppendToRun string
}

// NewRunCommand creates the run command: execute a playbook in plan or
// apply mode.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunCmdOptions{}

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Execute a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybook(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "parameter override as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "execution mode override (plan|apply)")
	cmd.Flags().StringVar(&opts.AppendToRun, "append-to-run", "", "append to an existing run (id or directory name)")

	return cmd
}

func runPlaybook(cmd *cobra.Command, root *RootOptions, opts *RunCmdOptions, path string) error {
	f := formatter(cmd, root)

	pb, err := playbook.Load(path)
	if err != nil {
		exit := classify("load playbook", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}
	mode, err := engine.EffectiveMode(pb, opts.Mode)
	if err != nil {
		exit := validationError("resolve mode", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}
	overrides, err := playbook.ParseAssignments(opts.Params)
	if err != nil {
		exit := classify("parse parameters", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}
	params, err := playbook.ResolveParameters(pb, overrides, root.Workspace)
	if err != nil {
		exit := classify("resolve parameters", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}

	eng, err := buildEngine(root)
	if err != nil {
		exit := validationError("configure runtime", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}

	result, err := eng.RunPlaybook(cmd.Context(), engine.PlaybookInvocation{
		Playbook:   pb,
		Parameters: params,
		Mode:       mode,
		AppendTo:   opts.AppendToRun,
		Argv:       argv(cmd),
	})
	if err != nil {
		exit := classify("run playbook", err)
		f.Error(exit.Code, exit.Error())
		return exit
	}
	return f.Success(renderResult(f, result))
}

func renderResult(f *OutputFormatter, result *engine.Result) any {
	if f.JSON() {
		return map[string]any{
			"run_id": result.RunID,
			"dir":    result.RunDir,
			"state":  string(result.State),
			"plan":   result.Plan,
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "run:   %s\n", result.RunID)
	fmt.Fprintf(&b, "dir:   %s\n", result.RunDir)
	fmt.Fprintf(&b, "state: %s\n", result.State)
	if result.Plan != nil {
		fmt.Fprintf(&b, "plan:  %d step(s)\n", len(result.Plan.Steps))
		for i, step := range result.Plan.Steps {
			fmt.Fprintf(&b, "  %d. %s", i+1, step.Description)
			if len(step.Files) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(step.Files, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// buildEngine assembles the engine with the agent runtime the resolved
// settings name.
func buildEngine(root *RootOptions) (*engine.Engine, error) {
	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	var rt engine.Runtime
	switch settings.Provider {
	case "anthropic":
		rt, err = anthropic.NewFromSettings(settings, agent.NewLocal(root.Workspace))
		if err != nil {
			return nil, err
		}
	case "mock":
		rt = &agent.MockRuntime{}
	default:
		return nil, fmt.Errorf("no runtime for provider %q", settings.Provider)
	}
	return &engine.Engine{
		Workspace: root.Workspace,
		Settings:  settings,
		Runtime:   rt,
	}, nil
}

func argv(cmd *cobra.Command) []string {
	return append([]string{cmd.Root().Name()}, cmd.Flags().Args()...)
}
