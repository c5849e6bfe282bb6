package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"wadispatch/internal/app"
	"wadispatch/internal/config"
	"wadispatch/internal/dispatch"
	"wadispatch/internal/recipients"
	logx "wadispatch/pkg/logx"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type RunOptions struct {
	GlobalOptions

	JobPath        string
	RecipientsPath string
	Message        string
	MessageFile    string
	Attachment     string
	KeepJob        bool
	Output         string
}

func DefaultRunOptions() *RunOptions {
	return &RunOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Output:        textFormat,
	}
}

func NewCmdRun() *cobra.Command {
	o := DefaultRunOptions()
	cmd := &cobra.Command{
		Use:   "run (--job FILE | --recipients FILE.xlsx)",
		Short: "Send a notice to every recipient of one job.",
		Example: `  wadispatch run --job temp_comunicado_data.json
  wadispatch run --recipients colaboradores.xlsx --attachment comunicado.pdf --message "Bom dia"`,
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

func (o *RunOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.JobPath, "job", "j", o.JobPath, "Handoff JSON file describing the job.")
	fs.StringVarP(&o.RecipientsPath, "recipients", "r", o.RecipientsPath, "Spreadsheet (.xlsx) with Nome/Telefone/Setor/Obra columns.")
	fs.StringVarP(&o.Message, "message", "m", o.Message, "Message text (with --recipients).")
	fs.StringVar(&o.MessageFile, "message-file", o.MessageFile, "Read the message text from a file (with --recipients).")
	fs.StringVarP(&o.Attachment, "attachment", "a", o.Attachment, "Attachment file (with --recipients).")
	fs.BoolVar(&o.KeepJob, "keep-job", o.KeepJob, "Keep the handoff file after the run (default: delete it).")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Report format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *RunOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.MessageFile != "" {
		b, err := os.ReadFile(o.MessageFile)
		if err != nil {
			return fmt.Errorf("reading message file: %w", err)
		}
		o.Message = string(b)
	}
	return nil
}

func (o *RunOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if (o.JobPath == "") == (o.RecipientsPath == "") {
		return errors.New("exactly one of --job or --recipients is required")
	}
	if o.JobPath != "" && (o.Message != "" || o.Attachment != "") {
		return errors.New("--message and --attachment only apply with --recipients")
	}
	if o.RecipientsPath != "" && strings.TrimSpace(o.Message) == "" && o.Attachment == "" {
		return errors.New("--message or --attachment is required")
	}
	return validateOutput(o.Output)
}

func (o *RunOptions) job() (dispatch.Job, error) {
	if o.JobPath != "" {
		return dispatch.LoadJob(o.JobPath)
	}
	rs, err := recipients.LoadXLSX(o.RecipientsPath)
	if err != nil {
		return dispatch.Job{}, err
	}
	return dispatch.Job{
		ID:             uuid.NewString(),
		Recipients:     rs,
		AttachmentPath: o.Attachment,
		Message:        o.Message,
	}, nil
}

func (o *RunOptions) Run(ctx context.Context, w io.Writer) error {
	job, err := o.job()
	if err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}

	return o.withApp(ctx, func(a *app.App) error {
		rep, runErr := a.RunJob(ctx, job)
		if o.JobPath != "" && !o.KeepJob {
			if err := os.Remove(o.JobPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				a.Log().Warn("remove handoff failed", logx.String("path", o.JobPath), logx.Err(err))
			}
		}
		// Not even attempted (credentials, config): there is no report.
		if runErr != nil && !rep.Rejected {
			return runErr
		}
		if err := printReport(w, o.Output, rep); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if rep.Interrupted {
			return fmt.Errorf("run %s interrupted after %d of %d recipients", rep.ExecutionID, rep.Processed, rep.Total)
		}
		return nil
	})
}

func printReport(w io.Writer, format string, rep dispatch.Report) error {
	switch format {
	case jsonFormat:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case yamlFormat:
		b, err := config.MarshalYAML(rep)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	if rep.Rejected {
		_, err := fmt.Fprintf(w, "Job %s rejected: %s\n", rep.JobID, rep.RejectReason)
		return err
	}
	fmt.Fprintf(w, "Execution %s: %d/%d processed, %d succeeded, %d failed\n",
		rep.ExecutionID, rep.Processed, rep.Total, rep.SuccessCount(), rep.FailureCount())
	if rep.Error != "" {
		fmt.Fprintf(w, "Stopped by error: %s\n", rep.Error)
	}
	if rep.ArchivePath != "" {
		fmt.Fprintf(w, "Attachment archived to %s\n", rep.ArchivePath)
	}
	if len(rep.Failures) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "FAILED\tPHONE\tREASON")
	for _, f := range rep.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.Phone, f.Reason)
	}
	return tw.Flush()
}
