// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs the full pipeline.
func newCrawlCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the whole catalog",
		Long: `Lists the catalog, extracts every program page one at a time and writes
the flattened rows to the configured outputs. A catalog that cannot be listed
fails the command; programs that cannot be extracted are skipped.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "CSV output path")
	addExtractFlags(cmd, opts)
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := appInstance.Crawl(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	zap.L().Info("Crawl command finished.",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
		zap.Int("programs", summary.Totals.Programs),
		zap.Int("failed", summary.Totals.Failed),
		zap.Int("rows", summary.Totals.Rows),
		zap.String("output", appInstance.Config().Output.CSVPath),
	)
	return nil
}
