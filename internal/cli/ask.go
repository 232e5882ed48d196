package cli

import (
	"github.com/spf13/cobra"
)

// NewAskCommand creates the ask command: a one-shot prompt recorded as a
// run.
func NewAskCommand(root *RootOptions) *cobra.Command {
	var appendToRun string

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask a one-shot question, recorded as a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, root)

			eng, err := buildEngine(root)
			if err != nil {
				exit := validationError("configure runtime", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			result, err := eng.Ask(cmd.Context(), args[0], appendToRun, argv(cmd))
			if err != nil {
				exit := classify("ask", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			return f.Success(renderResult(f, result))
		},
	}

	cmd.Flags().StringVar(&appendToRun, "append-to-run", "", "append to an existing run (id or directory name)")

	return cmd
}
