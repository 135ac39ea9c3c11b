// Package cli implements the tenantjobs command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

// NewRoot constructs the root command and registers the subcommands.
func NewRoot() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "tenantjobs",
		Short:         "Multi-tenant job queue tooling",
		Long:          "tenantjobs inspects configuration, runs a demo workload against the in-memory engine and reads the event journal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text|json)")

	logger := func(cmd *cobra.Command) (*slog.Logger, error) {
		return newLogger(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
	}

	root.AddCommand(newConfigCommand())
	root.AddCommand(newDemoCommand(logger))
	root.AddCommand(newHistoryCommand())
	return root
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q; use text|json", format)
	}
}
