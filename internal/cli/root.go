package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the wadispatch command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wadispatch [command] [flags]",
		Short: "wadispatch sends bulk notices through an Evolution API WhatsApp instance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdRun())
	cmd.AddCommand(NewCmdStatus())
	cmd.AddCommand(NewCmdReset())
	cmd.AddCommand(NewCmdProbe())
	cmd.AddCommand(NewCmdServe())
	cmd.AddCommand(NewCmdVersion())
	return cmd
}
