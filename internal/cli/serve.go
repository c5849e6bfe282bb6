package cli

import (
	"context"
	"errors"
	"time"
	"wadispatch/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ServeOptions struct {
	GlobalOptions

	Inbox         string
	KeepJobs      bool
	RetryInterval time.Duration
}

func DefaultServeOptions() *ServeOptions {
	return &ServeOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Inbox:         "./inbox",
		RetryInterval: 30 * time.Second,
	}
}

func NewCmdServe() *cobra.Command {
	o := DefaultServeOptions()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch an inbox directory and run every handoff file dropped into it.",
		Long: `Watch an inbox directory and run every handoff file dropped into it.

Jobs run one at a time in file name order. Finished handoffs are deleted
(or renamed *.done with --keep-jobs); unreadable ones are renamed *.rejected.
The config file is watched and reloaded; /metrics is served when
metrics.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ServeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.Inbox, "inbox", o.Inbox, "Directory watched for handoff JSON files.")
	fs.BoolVar(&o.KeepJobs, "keep-jobs", o.KeepJobs, "Rename finished handoffs to *.done instead of deleting them.")
	fs.DurationVar(&o.RetryInterval, "retry-interval", o.RetryInterval, "How often to retry a job deferred by another active run.")
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *ServeOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.Inbox == "" {
		return errors.New("--inbox is required")
	}
	if o.RetryInterval <= 0 {
		return errors.New("--retry-interval must be > 0")
	}
	return nil
}

func (o *ServeOptions) Run(ctx context.Context) error {
	a, err := o.App()
	if err != nil {
		return err
	}
	// Credentials are checked up front; the inbox would otherwise reject
	// every job.
	if err := a.Config().RequireGateway(); err != nil {
		_ = a.Stop(context.WithoutCancel(ctx), app.StopFatalError)
		return err
	}

	serveErr := a.Serve(ctx, app.InboxOptions{
		Dir:           o.Inbox,
		KeepJobs:      o.KeepJobs,
		RetryInterval: o.RetryInterval,
	})
	reason := app.StopSignal
	if serveErr != nil {
		reason = app.StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}
