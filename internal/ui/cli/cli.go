package cli

import (
	stderrors "errors"
	"fmt"
	"hxindex/internal/core/config"
	"hxindex/internal/core/errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./" + config.DefaultFileName

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// ExitError ends the process with Code and no extra message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	format     string
	verbose    bool

	cfg *config.Config
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var exit *ExitError
		if stderrors.As(err, &exit) {
			return exit.Code
		}
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "hxindex",
		Short:         "Cross-reference hx-requests handlers and the templates that call them",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", defaultConfigPath, "path to config file")
	flags.StringVar(&a.format, "format", formatText, "output format: text|json|yaml")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.checkCommand(),
		a.queryCommand(),
		a.lookupCommand(),
		a.snapshotCommand(),
		a.watchCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})))

	switch a.format {
	case formatText, formatJSON, formatYAML:
	default:
		return errors.AddContext(
			errors.New(errors.CodeValidationError, fmt.Sprintf("unsupported format %q (want text, json or yaml)", a.format)),
			errors.CtxField, "format")
	}

	cfg, err := config.LoadOrDefault(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
