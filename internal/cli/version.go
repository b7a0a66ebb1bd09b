package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexurabuild/docs/schema"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the API version",
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			meta, err := schema.APIMetadata()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", meta.Title, meta.Version)
			return nil
		},
	}
}
