package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch an MVola access token and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer rt.close()

		tok, err := rt.client.Authenticate(cmd.Context())
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
