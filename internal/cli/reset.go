package cli

import (
	"context"
	"fmt"
	"io"
	"wadispatch/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ResetOptions struct {
	GlobalOptions

	Force bool
}

func DefaultResetOptions() *ResetOptions {
	return &ResetOptions{GlobalOptions: DefaultGlobalOptions()}
}

func NewCmdReset() *cobra.Command {
	o := DefaultResetOptions()
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Emergency reset: mark the run status idle and clear its counters.",
		Long: `Emergency reset: mark the run status idle and clear its counters.

A run still in progress in another process keeps sending unless it was
started with dispatch.abort_on_reset; its later updates are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), out(cmd))
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ResetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVarP(&o.Force, "force", "f", o.Force, "Reset even when a run is active.")
}

func (o *ResetOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *ResetOptions) Validate(args []string) error {
	return o.GlobalOptions.Validate(args)
}

func (o *ResetOptions) Run(ctx context.Context, w io.Writer) error {
	return o.withApp(ctx, func(a *app.App) error {
		rs, err := a.Status(ctx)
		if err != nil {
			return err
		}
		if rs.IsRunning && !o.Force {
			return fmt.Errorf("a run is active (execution %s); use --force to reset anyway", rs.ExecutionID)
		}
		if err := a.Reset(ctx); err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, "Run status reset.")
		return err
	})
}
