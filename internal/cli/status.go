package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
	"wadispatch/internal/app"
	"wadispatch/internal/config"
	"wadispatch/internal/runstatus"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StatusOptions struct {
	GlobalOptions

	Output     string
	Recipients bool
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Output:        textFormat,
		Recipients:    true,
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current (or last) run and its progress.",
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

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.BoolVar(&o.Recipients, "recipients", o.Recipients, "List per-recipient status (text output).")
}

func (o *StatusOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *StatusOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

// statusView adds the derived progress to the stored record.
type statusView struct {
	runstatus.RunStatus
	ProgressPercentage float64 `json:"progress_percentage"`
}

func (o *StatusOptions) Run(ctx context.Context, w io.Writer) error {
	return o.withApp(ctx, func(a *app.App) error {
		rs, err := a.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(w, o.Output, o.Recipients, rs)
	})
}

func printStatus(w io.Writer, format string, listRecipients bool, rs runstatus.RunStatus) error {
	view := statusView{RunStatus: rs, ProgressPercentage: rs.ProgressPercentage()}
	switch format {
	case jsonFormat:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case yamlFormat:
		b, err := config.MarshalYAML(view)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	state := "idle"
	if rs.IsRunning {
		state = "running"
	}
	fmt.Fprintf(tw, "State:\t%s\n", state)
	if rs.ExecutionID != "" {
		fmt.Fprintf(tw, "Execution:\t%s\n", rs.ExecutionID)
	}
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(rs.StartTime))
	fmt.Fprintf(tw, "Ended:\t%s\n", formatTime(rs.EndTime))
	fmt.Fprintf(tw, "Progress:\t%d/%d (%.1f%%)\n", rs.ProcessedCount, rs.TotalRecipients, view.ProgressPercentage)
	fmt.Fprintf(tw, "Succeeded:\t%d\n", rs.SuccessCount)
	fmt.Fprintf(tw, "Failed:\t%d\n", rs.FailureCount)
	if rs.CurrentStep != "" {
		fmt.Fprintf(tw, "Current step:\t%s\n", rs.CurrentStep)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !listRecipients || len(rs.Recipients) == 0 {
		return nil
	}

	keys := make([]string, 0, len(rs.Recipients))
	for k := range rs.Recipients {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return rs.Recipients[keys[i]].UpdatedAt.Before(rs.Recipients[keys[j]].UpdatedAt)
	})

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "NAME\tPHONE\tSTATUS\tDETAIL\tUPDATED")
	for _, k := range keys {
		r := rs.Recipients[k]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Phone, r.Status, r.Detail, r.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
