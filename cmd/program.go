package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newProgramCmd creates the 'program' subcommand, which extracts one detail page.
func newProgramCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program <url>",
		Short: "Extracts one program page and prints it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			program, err := appInstance.ExtractProgram(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("extract program: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(program); err != nil {
				return fmt.Errorf("encode program: %w", err)
			}
			return nil
		},
	}
	addExtractFlags(cmd, opts)
	return cmd
}
