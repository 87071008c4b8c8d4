package cli

import (
	"fmt"

	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kdag/s3source"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	s3    s3source.Config
	prune bool
	force bool
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish <graph-file>",
		Short: "Upload a graph snapshot to a bucket",
		Long: `Validate a graph snapshot and upload it to an S3-compatible bucket,
where running instances load it from. Broken graphs are refused unless
--force is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := rootOpts.logger(cmd)
			if err != nil {
				return err
			}
			if err := validate.Struct(opts.s3); err != nil {
				return fmt.Errorf("invalid s3 flags: %w", err)
			}

			nodes, err := kdag.NewFileSource(args[0], log).Load(cmd.Context())
			if err != nil {
				return err
			}
			if opts.prune {
				nodes = kdag.Prune(nodes)
			}
			result := validateNodes(nodes, false)
			if !result.Valid && !opts.force {
				if err := writeValidation(cmd.OutOrStdout(), rootOpts.Format, result); err != nil {
					return err
				}
				return ErrInvalid
			}

			src, err := s3source.New(opts.s3)
			if err != nil {
				return err
			}
			if err := src.Publish(cmd.Context(), nodes); err != nil {
				return err
			}
			log.Info("Published graph", "bucket", opts.s3.Bucket, "object", opts.s3.Object, "nodes", len(nodes))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.s3.Endpoint, "endpoint", "", "S3 endpoint (host:port)")
	cmd.Flags().StringVar(&opts.s3.AccessKey, "access-key", "", "S3 access key")
	cmd.Flags().StringVar(&opts.s3.SecretKey, "secret-key", "", "S3 secret key")
	cmd.Flags().BoolVar(&opts.s3.Secure, "secure", false, "use TLS")
	cmd.Flags().StringVar(&opts.s3.Bucket, "bucket", "", "bucket name")
	cmd.Flags().StringVar(&opts.s3.Object, "object", "graph.yaml", "object key, its extension selects the format")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "prune unreferenced cache nodes before publishing")
	cmd.Flags().BoolVar(&opts.force, "force", false, "publish even if nodes are broken")
	return cmd
}
