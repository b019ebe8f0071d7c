package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newListCmd creates the 'list' subcommand, which prints every catalog entry URL.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Prints the catalog entry URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := appInstance.ListEntries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				if _, err := fmt.Fprintln(out, entry); err != nil {
					return fmt.Errorf("write entry: %w", err)
				}
			}
			return nil
		},
	}
}
