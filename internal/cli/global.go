package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"wadispatch/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	textFormat = "text"
	jsonFormat = "json"
	yamlFormat = "yaml"

	// ConfigEnv names the config file when --config is not given.
	ConfigEnv = "WADISPATCH_CONFIG"
)

var legalOutputTypes = []string{textFormat, jsonFormat, yamlFormat}

type GlobalOptions struct {
	ConfigPath string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{ConfigPath: "./wadispatch.yaml"}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Path to the config file (JSON or YAML). A missing file means defaults plus environment.")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Changed("config") {
		if p := strings.TrimSpace(os.Getenv(ConfigEnv)); p != "" {
			o.ConfigPath = p
		}
	}
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

// App builds the application for one command. Callers must Stop it.
func (o *GlobalOptions) App(opts ...app.Option) (*app.App, error) {
	return app.NewApp(o.ConfigPath, opts...)
}

func validateOutput(output string) error {
	for _, t := range legalOutputTypes {
		if output == t {
			return nil
		}
	}
	return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
}

// withApp builds the app, runs fn and always stops it.
func (o *GlobalOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := o.App()
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.WithoutCancel(ctx), app.StopCommandEnd) }()
	return fn(a)
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
