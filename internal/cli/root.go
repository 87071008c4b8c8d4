// Package cli implements the trench command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/birdayz/trench/pkg/log"
	"github.com/spf13/cobra"
)

// ErrInvalid is returned by commands whose input failed validation. The
// details have already been written to the output.
var ErrInvalid = errors.New("validation failed")

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
	Format    string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the trench CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trench",
		Short: "Evaluate typed feature graphs over event streams",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (console|json), detected when empty")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))

	return cmd
}

// logger writes to stderr so it never mixes with command output.
func (o *RootOptions) logger(cmd *cobra.Command) (*slog.Logger, error) {
	format := log.Format(o.LogFormat)
	if format == log.FormatAuto {
		format = log.DetectFormat()
	}
	return log.NewWithWriter(cmd.ErrOrStderr(), o.LogLevel, format)
}
