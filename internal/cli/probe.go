package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"wadispatch/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var errInstanceDown = errors.New("gateway instance is not connected")

type ProbeOptions struct {
	GlobalOptions
}

func DefaultProbeOptions() *ProbeOptions {
	return &ProbeOptions{GlobalOptions: DefaultGlobalOptions()}
}

func NewCmdProbe() *cobra.Command {
	o := DefaultProbeOptions()
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the gateway instance is connected. Exits non-zero when it is not.",
		Args:  cobra.NoArgs,
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

func (o *ProbeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *ProbeOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *ProbeOptions) Validate(args []string) error {
	return o.GlobalOptions.Validate(args)
}

func (o *ProbeOptions) Run(ctx context.Context, w io.Writer) error {
	return o.withApp(ctx, func(a *app.App) error {
		ok, err := a.Probe(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "Instance %s: not connected\n", a.Config().Gateway.Instance)
			return errInstanceDown
		}
		_, err = fmt.Fprintf(w, "Instance %s: connected\n", a.Config().Gateway.Instance)
		return err
	})
}
