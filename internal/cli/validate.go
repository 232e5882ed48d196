package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/puk/internal/playbook"
)

// NewValidateCommand creates the validate command: load a playbook without
// executing it.
func NewValidateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <playbook>",
		Short: "Validate a playbook without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, root)

			pb, err := playbook.Load(args[0])
			if err != nil {
				exit := classify("validate playbook", err)
				f.Error(exit.Code, exit.Error())
				return exit
			}
			if f.JSON() {
				return f.Success(map[string]any{
					"id":         pb.ID,
					"version":    pb.Version,
					"run_mode":   string(pb.RunMode),
					"parameters": len(pb.Parameters),
				})
			}
			return f.Success(fmt.Sprintf("%s v%s: ok (%d parameter(s), default mode %s)\n",
				pb.ID, pb.Version, len(pb.Parameters), pb.RunMode))
		},
	}
}
