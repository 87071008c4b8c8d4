package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/birdayz/trench/kdag"
	"github.com/spf13/cobra"
)

// ValidationResult is the JSON output of validate.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Nodes      int               `json:"nodes"`
	EventTypes []string          `json:"eventTypes,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

type validateOptions struct {
	prune bool
	watch bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Check a graph snapshot for broken nodes",
		Long: `Load a graph snapshot, check every node against the rest of the graph
and build it. Every broken node is reported, not only the first one.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "prune unreferenced cache nodes before checking")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "validate again whenever the file changes")
	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, opts *validateOptions, path string) error {
	log, err := rootOpts.logger(cmd)
	if err != nil {
		return err
	}
	src := kdag.NewFileSource(path, log)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	nodes, err := src.Load(ctx)
	if err != nil {
		return err
	}
	result := validateNodes(nodes, opts.prune)
	if err := writeValidation(cmd.OutOrStdout(), rootOpts.Format, result); err != nil {
		return err
	}

	if opts.watch {
		return src.Watch(ctx, func(nodes []kdag.NodeDef) {
			if err := writeValidation(cmd.OutOrStdout(), rootOpts.Format, validateNodes(nodes, opts.prune)); err != nil {
				log.Error("Failed to write result", "error", err)
			}
		})
	}
	if !result.Valid {
		return ErrInvalid
	}
	return nil
}

func validateNodes(nodes []kdag.NodeDef, prune bool) ValidationResult {
	if prune {
		nodes = kdag.Prune(nodes)
	}
	result := ValidationResult{Nodes: len(nodes)}
	if errs := kdag.CheckErrors(nodes); len(errs) > 0 {
		result.Errors = errs
		return result
	}
	dag, err := kdag.Build(nodes)
	if err != nil {
		result.Errors = map[string]string{"graph": err.Error()}
		return result
	}
	result.Valid = true
	result.EventTypes = dag.EventTypes()
	return result
}

func writeValidation(w io.Writer, format string, result ValidationResult) error {
	if format == "json" {
		return writeJSON(w, result)
	}
	if result.Valid {
		_, err := fmt.Fprintf(w, "✓ graph valid: %d nodes, event types: %s\n",
			result.Nodes, strings.Join(result.EventTypes, ", "))
		return err
	}
	rows := make([][]string, 0, len(result.Errors))
	for _, id := range sortedKeys(result.Errors) {
		rows = append(rows, []string{"✗ " + id, strings.ReplaceAll(result.Errors[id], "\n", "; ")})
	}
	if _, err := fmt.Fprintf(w, "%d of %d nodes are broken\n", len(result.Errors), result.Nodes); err != nil {
		return err
	}
	return writeTable(w, rows)
}
