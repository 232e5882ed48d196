package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/puk/internal/inspect"
	"github.com/roach88/puk/internal/ledger"
)

// NewRunsCommand creates the runs command group: list, show, tail.
func NewRunsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCommand(root))
	cmd.AddCommand(newRunsShowCommand(root))
	cmd.AddCommand(newRunsTailCommand(root))
	return cmd
}

func newRunsListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, root)

			infos, err := inspect.Discover(root.Workspace, time.Now().UTC())
			if err != nil {
				exit := classify("list runs", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			if f.JSON() {
				return f.Success(infos)
			}
			return f.Success(inspect.FormatTable(infos))
		},
	}
}

func newRunsShowCommand(root *RootOptions) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "show <run>",
		Short: "Show one run's manifest and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, root)

			info, err := inspect.ResolveRef(root.Workspace, args[0], time.Now().UTC())
			if err != nil {
				exit := classify("show run", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			events, err := ledger.ReadEvents(info.Dir)
			if err != nil {
				exit := classify("read events", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			if f.JSON() {
				shown := events
				if tail > 0 && len(events) > tail {
					shown = events[len(events)-tail:]
				}
				return f.Success(map[string]any{"run": info, "events": shown})
			}
			return f.Success(inspect.FormatShow(info, events, tail))
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 0, "show only the last N events")

	return cmd
}

func newRunsTailCommand(root *RootOptions) *cobra.Command {
	var (
		follow bool
		last   int
	)

	cmd := &cobra.Command{
		Use:   "tail <run>",
		Short: "Print a run's events; --follow keeps watching for new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, root)

			info, err := inspect.ResolveRef(root.Workspace, args[0], time.Now().UTC())
			if err != nil {
				exit := classify("tail run", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			err = inspect.Tail(cmd.Context(), info.Dir, last, follow, time.Second, cmd.OutOrStdout())
			if err != nil {
				exit := classify("tail run", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching for new events")
	cmd.Flags().IntVarP(&last, "lines", "n", 20, "number of trailing events to print first")

	return cmd
}
