package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a resolved
// config, such as writing the first config file.
const skipConfigAnnotation = "skip-config"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	DBPath     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once per invocation by the root pre-run hook and
// carried to subcommands through the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Stdout  io.Writer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run hook.
// A missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("cli context not initialized")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:     "quark-mirror",
		Short:   "Mirror Quark share links into your own drive",
		Long:    "Resolve Quark share links, record their media files, and copy them into your drive through a durable transfer queue.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.DBPath, "db", "", "database path")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors")

	cmd.AddCommand(
		newWorkerCmd(),
		newParseCmd(),
		newProvisionCmd(),
		newStatusCmd(),
		newListCmd(),
		newRetryCmd(),
		newResetCmd(),
		newDeadCmd(),
		newStatsCmd(),
		newCredentialCmd(),
		newConfigCmd(),
	)

	return cmd
}

// newCLIContext resolves configuration through the override chain and
// builds the logger. Annotated commands get defaults instead of a file.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath, DBPath: flags.DBPath}

	cc := &CLIContext{
		Flags:   flags,
		CfgPath: config.ResolvePath(env, cli),
		Stdout:  cmd.OutOrStdout(),
	}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		cfg, err := config.Resolve(env, cli)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = cfg
	} else {
		cc.Cfg = config.DefaultConfig()
	}

	cc.Logger = buildLogger(cmd.ErrOrStderr(), cc.Cfg.Logging, flags)

	return cc, nil
}

// buildLogger creates the process logger. The config file sets the
// baseline level; --verbose and --quiet override it. The "auto" format
// writes text to a terminal and JSON everywhere else.
func buildLogger(w io.Writer, lc config.LoggingConfig, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch lc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := lc.LogFormat
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
